package api

import (
	"regexp"
	"unicode/utf8"
)

// maxIDLen is the maximum length for identifier fields (queue IDs, agent
// IDs, call references, conference names).
const maxIDLen = 100

// maxPoolSize is the maximum number of candidate numbers accepted in one
// number-selection request.
const maxPoolSize = 500

// phoneRe validates dialable phone numbers: optional leading +, 7-15 digits.
var phoneRe = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// areaCodeRe validates NANP area codes.
var areaCodeRe = regexp.MustCompile(`^[2-9][0-9]{2}$`)

// validateStringLen checks that a string does not exceed maxLen characters.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed
// maxLen characters.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validatePhone checks that a required field holds a dialable phone number.
func validatePhone(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !phoneRe.MatchString(value) {
		return field + " must be a phone number (optional +, 7-15 digits)"
	}
	return ""
}

// validateOptionalPhone checks a phone number field that may be empty.
func validateOptionalPhone(field, value string) string {
	if value == "" {
		return ""
	}
	return validatePhone(field, value)
}

// validateAreaCode checks an optional three-digit NANP area code.
func validateAreaCode(field, value string) string {
	if value == "" {
		return ""
	}
	if !areaCodeRe.MatchString(value) {
		return field + " must be a three-digit area code"
	}
	return ""
}

// validateCallRef checks a provider call reference: non-empty, bounded,
// and free of control characters.
func validateCallRef(field, value string) string {
	if msg := validateRequiredStringLen(field, value, maxIDLen); msg != "" {
		return msg
	}
	return validateNoControlChars(field, value)
}

// validateIntRange checks that an optional int pointer is within [min, max].
func validateIntRange(field string, value *int, min, max int) string {
	if value == nil {
		return ""
	}
	if *value < min || *value > max {
		return field + " must be between " + intToStr(min) + " and " + intToStr(max)
	}
	return ""
}

// intToStr converts an int to a string without importing strconv in a tight loop.
func intToStr(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + intToStr(-n)
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

// containsControlChars checks whether a string has control characters
// (except common whitespace like \n, \r, \t).
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}

// validateNoControlChars rejects strings with control characters.
func validateNoControlChars(field, value string) string {
	if containsControlChars(value) {
		return field + " contains invalid characters"
	}
	return ""
}
