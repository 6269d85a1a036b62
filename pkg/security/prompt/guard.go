// Package prompt provides security filtering around LLM calls: injection
// detection and sanitization on the input side, leakage detection and
// rewriting on the output side.
package prompt

import (
	"regexp"
	"strings"
)

const (
	// FilterMarker replaces injection phrases removed during sanitization.
	FilterMarker = "[filtered]"

	// RedactMarker replaces leaked content removed from model output.
	RedactMarker = "[redacted]"
)

// injectionPhrases are matched directly against normalized input.
var injectionPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+instructions`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|your)\s+instructions`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\b`),
	regexp.MustCompile(`(?i)override\s+(the\s+)?system\s+prompt`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?prompt`),
	regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+(are|were)|a\s+different)`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
}

// injectionKeywordSets flag word-order-scrambled attacks: when every keyword
// of a set appears within one input, the phrase match above can be evaded by
// shuffling ("previous ignore all instructions") but this check still fires.
var injectionKeywordSets = [][]string{
	{"ignore", "previous", "instructions"},
	{"disregard", "prior", "instructions"},
	{"override", "system", "prompt"},
	{"reveal", "system", "prompt"},
}

// leakagePatterns are matched against model output. They cover prompt
// echoes, credential-shaped tokens, and enumerated internal steps.
var leakagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)my\s+(system\s+)?(prompt|instructions)\s+(is|are|say)`),
	regexp.MustCompile(`(?i)the\s+system\s+prompt\s+(i\s+was\s+given|says)`),
	regexp.MustCompile(`(?i)\b(sk|pk|api|key|token|secret)[-_][A-Za-z0-9]{16,}\b`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?im)^\s*(internal\s+)?step\s+\d+\s*:\s*(check|scan|filter|sanitize|validate)`),
}

var (
	repeatedChars  = regexp.MustCompile(`(\S)\1{2,}`)
	whitespaceRuns = regexp.MustCompile(`[ \t]+`)
	nonLetters     = regexp.MustCompile(`[^a-z]`)
)

// Guard performs input and output filtering for model calls. The zero value
// is not usable; construct with NewGuard.
type Guard struct {
	phrases     []*regexp.Regexp
	keywordSets [][]string
	leaks       []*regexp.Regexp
}

// NewGuard creates a guard with the built-in pattern sets.
func NewGuard() *Guard {
	return &Guard{
		phrases:     injectionPhrases,
		keywordSets: injectionKeywordSets,
		leaks:       leakagePatterns,
	}
}

// DetectInjection reports whether text looks like a prompt-injection attempt
// and a confidence score in [0,1]. Detection runs over both the raw text and
// a normalized form with repeated-character obfuscation collapsed, so inputs
// like "iggggnore previous instructions" are still caught.
func (g *Guard) DetectInjection(text string) (bool, float64) {
	if text == "" {
		return false, 0
	}

	confidence := 0.0
	normalized := normalize(text)

	for _, pattern := range g.phrases {
		if pattern.MatchString(text) || pattern.MatchString(normalized) {
			confidence = maxFloat(confidence, 0.9)
			break
		}
	}

	if confidence < 0.9 {
		words := wordSet(normalized)
		for _, set := range g.keywordSets {
			if containsAll(words, set) {
				confidence = maxFloat(confidence, 0.6)
				break
			}
		}
	}

	return confidence > 0, confidence
}

// Sanitize returns text safe to forward to a model: whitespace runs are
// collapsed, repeated-character obfuscation is folded, and any matched
// injection phrase is replaced with FilterMarker.
func (g *Guard) Sanitize(text string) string {
	sanitized := whitespaceRuns.ReplaceAllString(text, " ")
	sanitized = repeatedChars.ReplaceAllString(sanitized, "$1")

	for _, pattern := range g.phrases {
		sanitized = pattern.ReplaceAllString(sanitized, FilterMarker)
	}

	return strings.TrimSpace(sanitized)
}

// Validate reports whether model output is free of leakage patterns.
func (g *Guard) Validate(text string) bool {
	for _, pattern := range g.leaks {
		if pattern.MatchString(text) {
			return false
		}
	}
	return true
}

// FilterResponse rewrites model output, replacing leaked content with
// RedactMarker. Safe output passes through unchanged.
func (g *Guard) FilterResponse(text string) string {
	for _, pattern := range g.leaks {
		text = pattern.ReplaceAllString(text, RedactMarker)
	}
	return text
}

// normalize lowercases text and collapses repeated-character obfuscation so
// the phrase patterns match padded variants.
func normalize(text string) string {
	lowered := strings.ToLower(text)
	return repeatedChars.ReplaceAllString(lowered, "$1")
}

func wordSet(text string) map[string]bool {
	words := make(map[string]bool)
	for _, field := range strings.Fields(text) {
		word := nonLetters.ReplaceAllString(field, "")
		if word != "" {
			words[word] = true
		}
	}
	return words
}

func containsAll(words map[string]bool, keywords []string) bool {
	for _, keyword := range keywords {
		if !words[keyword] {
			return false
		}
	}
	return true
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
