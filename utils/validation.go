// utils/validation.go
package utils

import (
	"regexp"
	"strings"
)

var e164Regex = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// NormalizePhone strips spacing and punctuation so numbers entered as
// "+231 77-123-4567" compare equal to "+231771234567".
func NormalizePhone(phone string) string {
	cleaned := strings.ReplaceAll(phone, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, "(", "")
	cleaned = strings.ReplaceAll(cleaned, ")", "")
	return cleaned
}

// ValidatePhone checks if a phone number is in canonical E.164 format.
func ValidatePhone(phone string) bool {
	return e164Regex.MatchString(NormalizePhone(phone))
}

// PhoneAllowed reports whether the number is E.164 and carries one of the
// supported country prefixes.
func PhoneAllowed(phone string, countryCodes []string) bool {
	cleaned := NormalizePhone(phone)
	if !e164Regex.MatchString(cleaned) {
		return false
	}
	if len(countryCodes) == 0 {
		return true
	}
	for _, cc := range countryCodes {
		if strings.HasPrefix(cleaned, cc) {
			return true
		}
	}
	return false
}
