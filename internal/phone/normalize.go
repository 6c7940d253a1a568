package phone

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when a number carries no country code.
const DefaultRegion = "IN"

const (
	minDigits = 6
	maxDigits = 15
)

// Normalizer turns user-entered mobile numbers into the canonical digits-only
// national form used as the storage key everywhere.
type Normalizer struct {
	region string
}

// NewNormalizer creates a normalizer for the given default region.
func NewNormalizer(region string) *Normalizer {
	if region == "" {
		region = DefaultRegion
	}
	return &Normalizer{region: strings.ToUpper(region)}
}

// Normalize returns the national significant number of mobile, so
// "+91 99999 99999", "099999 99999" and "9999999999" all map to "9999999999".
// Numbers the parser rejects fall back to plain digit stripping.
func (n *Normalizer) Normalize(mobile string) (string, error) {
	mobile = strings.TrimSpace(mobile)
	if mobile == "" {
		return "", fmt.Errorf("mobile number cannot be empty")
	}

	var digits string
	if parsed, err := phonenumbers.Parse(mobile, n.region); err == nil {
		digits = phonenumbers.GetNationalSignificantNumber(parsed)
	} else {
		digits = StripNonDigits(mobile)
	}

	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", fmt.Errorf("mobile number must have between %d and %d digits", minDigits, maxDigits)
	}
	return digits, nil
}

// StripNonDigits removes every character that is not an ASCII digit.
func StripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Mask hides all but the first two and last two digits for logging.
func Mask(mobile string) string {
	if len(mobile) <= 4 {
		return "****"
	}
	return mobile[:2] + strings.Repeat("*", len(mobile)-4) + mobile[len(mobile)-2:]
}
