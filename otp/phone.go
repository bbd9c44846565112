package otp

import (
	"errors"
	"strings"
)

// DefaultCountryCode is prefixed to bare 10-digit national numbers.
const DefaultCountryCode = "1"

// ErrInvalidPhone is returned for numbers that cannot be normalized to E.164.
var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizeE164 accepts "+<8..15 digits>" or a 10-digit national number and
// returns the E.164 form. Spaces, dashes, dots and parentheses are ignored.
func NormalizeE164(raw, defaultCountry string) (string, error) {
	if defaultCountry == "" {
		defaultCountry = DefaultCountryCode
	}
	s := strings.TrimSpace(raw)
	plus := strings.HasPrefix(s, "+")
	if plus {
		s = s[1:]
	}

	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	d := digits.String()

	if !plus {
		if len(d) != 10 {
			return "", ErrInvalidPhone
		}
		d = defaultCountry + d
	}
	if len(d) < 8 || len(d) > 15 || d[0] == '0' {
		return "", ErrInvalidPhone
	}
	return "+" + d, nil
}

// MaskPhone hides all but the country prefix and last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 6 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:2] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-4:]
}
