package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	got := splitText("hello", 100)
	assert.Equal(t, []string{"hello"}, got)
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	lines := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		lines = append(lines, strings.Repeat("x", 10))
	}
	text := strings.Join(lines, "\n")

	chunks := splitText(text, 50)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 50)
		assert.False(t, strings.HasPrefix(c, "\n"))
		assert.False(t, strings.HasSuffix(c, "\n"))
	}
	assert.Equal(t, strings.ReplaceAll(text, "\n", ""), strings.ReplaceAll(strings.Join(chunks, ""), "\n", ""))
}

func TestSplitTextHardWrapWithoutNewlines(t *testing.T) {
	text := strings.Repeat("a", 120)
	chunks := splitText(text, 50)
	assert.Equal(t, []string{strings.Repeat("a", 50), strings.Repeat("a", 50), strings.Repeat("a", 20)}, chunks)
}
