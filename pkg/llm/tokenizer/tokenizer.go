// Package tokenizer provides token counting and token-bounded truncation on
// top of tiktoken. One tokenizer instance is shared across the chunker and
// summarizer so every component sees the same token arithmetic.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultEncoding matches the GPT-4 family of models.
	DefaultEncoding = "cl100k_base"

	// approxCharsPerToken is the estimate used when the real encoding is
	// unavailable (offline environments, unknown models).
	approxCharsPerToken = 4
)

// Tokenizer counts and slices text by tokens.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New creates a tokenizer backed by the default tiktoken encoding.
func New() (*Tokenizer, error) {
	return NewWithEncoding(DefaultEncoding)
}

// NewWithEncoding creates a tokenizer for a specific tiktoken encoding name.
func NewWithEncoding(name string) (*Tokenizer, error) {
	encoding, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", name, err)
	}
	return &Tokenizer{encoding: encoding}, nil
}

// NewApproximate creates a tokenizer that estimates tokens at roughly four
// characters each. Used as a fallback when tiktoken data cannot be loaded,
// and by tests that need deterministic behavior without the BPE tables.
func NewApproximate() *Tokenizer {
	return &Tokenizer{}
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.encoding == nil {
		return (len(text) + approxCharsPerToken - 1) / approxCharsPerToken
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// Truncate returns at most maxTokens tokens from the start of text.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if t.encoding == nil {
		return truncateRunes(text, maxTokens*approxCharsPerToken, false)
	}

	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.encoding.Decode(tokens[:maxTokens])
}

// Tail returns at most maxTokens tokens from the end of text. The chunker
// uses this to build overlap prefixes from the previous chunk.
func (t *Tokenizer) Tail(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if t.encoding == nil {
		return truncateRunes(text, maxTokens*approxCharsPerToken, true)
	}

	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.encoding.Decode(tokens[len(tokens)-maxTokens:])
}

// truncateRunes keeps at most maxChars runes from the start (or end when
// fromEnd is set) of text without splitting multi-byte characters.
func truncateRunes(text string, maxChars int, fromEnd bool) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	if fromEnd {
		return string(runes[len(runes)-maxChars:])
	}
	return string(runes[:maxChars])
}
