package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Tests run against the approximate tokenizer so they stay deterministic and
// do not depend on tiktoken's BPE tables being available.

func TestApproximateCountTokens(t *testing.T) {
	tok := NewApproximate()

	assert.Equal(t, 0, tok.CountTokens(""))
	assert.Equal(t, 1, tok.CountTokens("abc"))
	assert.Equal(t, 1, tok.CountTokens("abcd"))
	assert.Equal(t, 2, tok.CountTokens("abcde"))
}

func TestApproximateTruncate(t *testing.T) {
	tok := NewApproximate()
	text := strings.Repeat("a", 100)

	assert.Equal(t, "", tok.Truncate(text, 0))
	assert.Equal(t, 40, len(tok.Truncate(text, 10)))
	assert.Equal(t, text, tok.Truncate(text, 1000), "short text should be returned unchanged")
}

func TestApproximateTail(t *testing.T) {
	tok := NewApproximate()
	text := strings.Repeat("x", 96) + "tail"

	got := tok.Tail(text, 1)
	assert.Equal(t, "tail", got)
	assert.Equal(t, text, tok.Tail(text, 1000))
}

func TestTruncateDoesNotSplitRunes(t *testing.T) {
	tok := NewApproximate()
	text := strings.Repeat("é", 100)

	head := tok.Truncate(text, 2)
	assert.Equal(t, 8, len([]rune(head)))
	for _, r := range head {
		assert.Equal(t, 'é', r)
	}
}

func TestRealEncodingIfAvailable(t *testing.T) {
	tok, err := New()
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}

	count := tok.CountTokens("hello world")
	assert.Greater(t, count, 0)

	truncated := tok.Truncate("hello world, this is a longer sentence", 3)
	assert.LessOrEqual(t, tok.CountTokens(truncated), 3)
}
