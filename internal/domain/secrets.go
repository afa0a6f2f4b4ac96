// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

const RedactedStr = "<redacted>"

// RedactString replaces a non-empty secret with a fixed marker
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return RedactedStr
}

// IsRedactedValue checks if a value is the redaction marker or all asterisks
func IsRedactedValue(value string) bool {
	if value == "" {
		return false
	}
	if value == RedactedStr {
		return true
	}

	return strings.Trim(value, "*") == ""
}
