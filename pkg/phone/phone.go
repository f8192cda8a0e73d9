package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalid = errors.New("invalid phone number")

// Normalize parses raw in the given default region (e.g. "BR") and returns
// the E.164 form. Empty input yields an empty string and no error.
func Normalize(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if region == "" {
		region = "BR"
	}

	parsed, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", ErrInvalid
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// Same reports whether two numbers are the same line once normalised.
// Unparseable input never matches.
func Same(a, b, region string) bool {
	na, err := Normalize(a, region)
	if err != nil || na == "" {
		return false
	}
	nb, err := Normalize(b, region)
	if err != nil || nb == "" {
		return false
	}
	return na == nb
}
