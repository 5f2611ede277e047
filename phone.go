package memberauth

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is assumed when a number carries no country code.
// The member base is Brazilian, so bare DDD+number strings resolve
// against BR.
const DefaultPhoneRegion = "BR"

// NormalizePhone converts user input to canonical E.164. It fails with
// a validation error when the input cannot produce a plausible number,
// silent truncation is never acceptable.
func NormalizePhone(raw, region string) (string, error) {
	if region == "" {
		region = DefaultPhoneRegion
	}

	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return "", ValidationError("phone number is required")
	}

	num, err := phonenumbers.Parse(cleaned, region)
	if err != nil {
		return "", ValidationError("unrecognized phone number format").
			WithMetadata(map[string]any{"phone": raw})
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", ValidationError("phone number is not valid for region " + region).
			WithMetadata(map[string]any{"phone": raw, "region": region})
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}
