// internal/rules/hostlabel.go
package rules

import "strings"

// IsValidHostLabelString reports whether label is a valid DNS host label:
// 1-63 characters, starting with an ASCII letter, otherwise letters, digits or '-'.
// With allowDots every '.'-separated label must be valid on its own.
func IsValidHostLabelString(label string, allowDots bool) bool {
	if allowDots {
		for _, part := range strings.Split(label, ".") {
			if !IsValidHostLabelString(part, false) {
				return false
			}
		}
		return true
	}

	if len(label) < 1 || len(label) > 63 {
		return false
	}
	if !isASCIILetter(label[0]) {
		return false
	}
	for i := 1; i < len(label); i++ {
		c := label[i]
		if !isASCIILetter(c) && !isASCIIDigit(c) && c != '-' {
			return false
		}
	}
	return true
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isASCIIDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
