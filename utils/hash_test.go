package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashMatchesFileHash(t *testing.T) {
	data := []byte("minutes of the board of selectmen")
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	fileHash, err := FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, ContentHash(data), fileHash)
	assert.Len(t, fileHash, 64)
}

func TestPreviewHashIgnoresFormatting(t *testing.T) {
	a := PreviewHash("Town of Conway\n\nZONING   Ordinance.")
	b := PreviewHash("town of conway zoning ordinance")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, PreviewHash("town of ossipee zoning ordinance"))
	assert.Empty(t, PreviewHash("  \n\t "))
}

func TestPreviewTextBounded(t *testing.T) {
	long := strings.Repeat("é", PreviewRunes+50)
	assert.Equal(t, PreviewRunes, len([]rune(PreviewText(long))))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "ab...", Truncate("abcdefgh", 5))
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	// never split a multi-byte rune
	assert.Equal(t, "a", Truncate("aé", 2))
	assert.Equal(t, "aé...", Truncate("aéééé", 6))
	assert.Empty(t, ErrorMessage(nil))
	assert.Len(t, ErrorMessage(errors.New(strings.Repeat("x", 900))), MaxErrorMessageLen)
}
