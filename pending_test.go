package memberauth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	auth "github.com/robokit/member-auth"
)

func TestPendingAttemptExpiry(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	attempt := &auth.PendingAttempt{SentAt: now}

	assert.False(t, attempt.Expired(now))
	assert.False(t, attempt.Expired(now.Add(auth.PendingAttemptTTL)))
	assert.True(t, attempt.Expired(now.Add(auth.PendingAttemptTTL+time.Second)))

	var nilAttempt *auth.PendingAttempt
	assert.True(t, nilAttempt.Expired(now))
}

func TestUpdateAttempt(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	t.Run("creates the attempt when none exists", func(t *testing.T) {
		store := newMemFallbackStore()

		got, err := auth.UpdateAttempt(store, auth.PendingAttempt{
			Phone:       "+5511987654321",
			AwaitingOTP: true,
			SentAt:      now,
		})

		assert.NoError(t, err)
		assert.Equal(t, "+5511987654321", got.Phone)
		assert.True(t, got.AwaitingOTP)
	})

	t.Run("a later patch never wipes earlier fields", func(t *testing.T) {
		store := newMemFallbackStore()
		store.now = func() time.Time { return now }

		_, err := auth.UpdateAttempt(store, auth.PendingAttempt{
			Phone:       "+5511987654321",
			Email:       "carol@example.com",
			Password:    "secret0",
			AwaitingOTP: true,
			IsRegister:  true,
			SentAt:      now,
		})
		assert.NoError(t, err)

		// A resend only touches the send time.
		later := now.Add(90 * time.Second)
		got, err := auth.UpdateAttempt(store, auth.PendingAttempt{SentAt: later})
		assert.NoError(t, err)

		assert.Equal(t, "+5511987654321", got.Phone)
		assert.Equal(t, "carol@example.com", got.Email)
		assert.Equal(t, "secret0", got.Password)
		assert.True(t, got.AwaitingOTP)
		assert.True(t, got.IsRegister)
		assert.Equal(t, later, got.SentAt)
	})
}
