// File: internal/submit/phone.go
package submit

import "strings"

// PhoneDigits strips a phone value down to its significant digits. An
// 11-digit number loses its leading country digit; everything else is
// returned as-is after stripping.
func PhoneDigits(phone string) string {
	var sb strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	digits := sb.String()
	if len(digits) == 11 {
		digits = digits[1:]
	}
	return digits
}

// SplitPhone breaks a normalized number into area/prefix/suffix for
// split-phone widgets. ok is false unless exactly ten digits remain.
func SplitPhone(phone string) (area, prefix, suffix string, ok bool) {
	digits := PhoneDigits(phone)
	if len(digits) != 10 {
		return "", "", "", false
	}
	return digits[0:3], digits[3:6], digits[6:10], true
}
