// Package phone normalizes user-entered phone numbers to E.164 for
// storage and formats them for display.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"event-rsvp/internal/apperr"
)

// Formatter parses numbers relative to a default region.
type Formatter struct {
	region  string
	lenient bool
}

// NewFormatter returns a Formatter. When lenient is set, numbers that
// parse but fail carrier validation are still accepted (debug setups
// use fictional numbers).
func NewFormatter(region string, lenient bool) *Formatter {
	if region == "" {
		region = "US"
	}
	return &Formatter{region: strings.ToUpper(region), lenient: lenient}
}

// Normalize returns raw in E.164 form.
func (f *Formatter) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.New(apperr.KindValidation, "Please enter a valid phone number.")
	}

	parsed, err := phonenumbers.Parse(raw, f.region)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, err, "Please enter a valid phone number.")
	}
	if !f.lenient && !phonenumbers.IsValidNumber(parsed) {
		return "", apperr.New(apperr.KindValidation, "Please enter a valid phone number.")
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// Display formats a stored number for people. North American numbers
// render as "+1 (650) 253-0000", others in international style.
// Unparsable input comes back unchanged.
func Display(number string) string {
	if number == "" {
		return ""
	}
	parsed, err := phonenumbers.Parse(number, "")
	if err != nil {
		return number
	}
	if parsed.GetCountryCode() == 1 {
		return "+1 " + phonenumbers.Format(parsed, phonenumbers.NATIONAL)
	}
	return phonenumbers.Format(parsed, phonenumbers.INTERNATIONAL)
}

// SplitList breaks a free-form list of numbers on commas and newlines.
func SplitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}
