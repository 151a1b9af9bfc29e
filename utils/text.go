package utils

import "unicode/utf8"

// MaxErrorMessageLen caps error text persisted on job and ledger rows
const MaxErrorMessageLen = 500

const ellipsis = "..."

// Truncate shortens s to at most n bytes, marker included, without splitting a rune
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	marker := ellipsis
	if n <= len(marker) {
		marker = ""
	}
	cut := n - len(marker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}

// ErrorMessage renders err for storage on a row
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error(), MaxErrorMessageLen)
}
