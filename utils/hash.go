package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"unicode"
)

// PreviewRunes bounds how much extracted text takes part in near-duplicate detection
const PreviewRunes = 2000

// ContentHash returns the hex sha256 of data
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileHash streams a file through sha256
func FileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// PreviewText returns the leading slice of extracted text kept on a blob
func PreviewText(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > PreviewRunes {
		runes = runes[:PreviewRunes]
	}
	return string(runes)
}

// PreviewHash hashes normalized preview text so that re-exports of the same
// document with different bytes collide. Returns "" for empty previews.
func PreviewHash(preview string) string {
	normalized := NormalizeText(preview)
	if normalized == "" {
		return ""
	}
	return ContentHash([]byte(normalized))
}

// NormalizeText lowercases, drops punctuation and collapses whitespace
func NormalizeText(text string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
