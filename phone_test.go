package memberauth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	auth "github.com/robokit/member-auth"
)

func TestNormalizePhone(t *testing.T) {
	t.Run("bare Brazilian mobile numbers resolve against BR", func(t *testing.T) {
		tests := []struct {
			input string
			want  string
		}{
			{"11987654321", "+5511987654321"},
			{"(11) 98765-4321", "+5511987654321"},
			{"+5511987654321", "+5511987654321"},
			{"  11 98765 4321  ", "+5511987654321"},
		}

		for _, tc := range tests {
			got, err := auth.NormalizePhone(tc.input, "")
			assert.NoError(t, err, "input %q", tc.input)
			assert.Equal(t, tc.want, got)
		}
	})

	t.Run("numbers with a country code keep their region", func(t *testing.T) {
		got, err := auth.NormalizePhone("+14155552671", "BR")
		assert.NoError(t, err)
		assert.Equal(t, "+14155552671", got)
	})

	t.Run("implausible input is a validation error, never truncated", func(t *testing.T) {
		for _, input := range []string{"", "   ", "not-a-phone", "123", "119876"} {
			_, err := auth.NormalizePhone(input, "BR")
			assert.Error(t, err, "input %q", input)
			assert.Equal(t, auth.TextCodeValidation, auth.TextCode(err))
		}
	})
}
