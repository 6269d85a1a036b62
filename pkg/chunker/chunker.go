// Package chunker splits text into token-bounded chunks for summarization.
// The target chunk size adapts to the content profile (code-heavy, dense
// prose, or regular prose), and three strategies are available: hierarchical
// structure-aware splitting, semantic boundary splitting, and fixed windows.
package chunker

import (
	"regexp"
	"strings"

	"github.com/entrhq/webdigest/pkg/logging"
	"github.com/entrhq/webdigest/pkg/metrics"
)

// Strategy names accepted by Settings.Strategy.
const (
	StrategyHierarchical = "hierarchical"
	StrategySemantic     = "semantic"
	StrategyFixed        = "fixed"
)

// Tokenizer is the token accounting collaborator.
type Tokenizer interface {
	// CountTokens returns the token count of text.
	CountTokens(text string) int

	// Tail returns a suffix of text of at most the given token count.
	Tail(text string, tokens int) string
}

// ChunkMetadata describes how a chunk was produced.
type ChunkMetadata struct {
	Strategy    string
	Section     string
	IsCodeBlock bool
	Oversized   bool
	HasOverlap  bool
}

// Chunk is one token-bounded piece of the input text. StartOffset and
// EndOffset are byte offsets of the chunk's own content in the original
// text; overlap prefixes duplicate earlier content and are not reflected in
// the offsets.
type Chunk struct {
	Text        string
	TokenCount  int
	StartOffset int
	EndOffset   int
	Metadata    ChunkMetadata
}

// Settings configures a Chunker. All sizes are in tokens.
type Settings struct {
	// BaseChunkSize is the target for regular prose.
	BaseChunkSize int

	// CodeChunkSize is the target when the text is code-heavy.
	CodeChunkSize int

	// DenseChunkSize is the target for dense technical prose.
	DenseChunkSize int

	// MinChunkSize and MaxChunkSize clamp the adaptive target.
	MinChunkSize int
	MaxChunkSize int

	// OverlapTokens is the suffix of each chunk carried into the next.
	OverlapTokens int

	// Strategy selects the splitting strategy.
	Strategy string

	// Adaptive enables content-profile target sizing. When false the base
	// size is always used.
	Adaptive bool

	// CodeFractionThreshold is the fenced-code byte fraction above which
	// the code target applies.
	CodeFractionThreshold float64

	// DenseSentenceLength is the average words-per-sentence above which
	// the dense-prose target applies.
	DenseSentenceLength float64
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		BaseChunkSize:  1000,
		CodeChunkSize:  1500,
		DenseChunkSize: 1300,
		MinChunkSize:   200,
		MaxChunkSize:   2000,
		OverlapTokens:  100,
		Strategy:       StrategyHierarchical,

		Adaptive:              true,
		CodeFractionThreshold: 0.25,
		DenseSentenceLength:   25,
	}
}

// Chunker splits text using a configured strategy and tokenizer.
type Chunker struct {
	settings  Settings
	tokenizer Tokenizer
	logger    *logging.Logger
	collector metrics.Collector
}

// NewChunker creates a chunker. The collector may be nil.
func NewChunker(settings Settings, tokenizer Tokenizer, logger *logging.Logger, collector metrics.Collector) *Chunker {
	defaults := DefaultSettings()
	if settings.BaseChunkSize <= 0 {
		settings.BaseChunkSize = defaults.BaseChunkSize
	}
	if settings.CodeChunkSize <= 0 {
		settings.CodeChunkSize = defaults.CodeChunkSize
	}
	if settings.DenseChunkSize <= 0 {
		settings.DenseChunkSize = defaults.DenseChunkSize
	}
	if settings.MinChunkSize <= 0 {
		settings.MinChunkSize = defaults.MinChunkSize
	}
	if settings.MaxChunkSize <= 0 {
		settings.MaxChunkSize = defaults.MaxChunkSize
	}
	if settings.OverlapTokens < 0 {
		settings.OverlapTokens = defaults.OverlapTokens
	}
	if settings.Strategy == "" {
		settings.Strategy = defaults.Strategy
	}
	if settings.CodeFractionThreshold <= 0 {
		settings.CodeFractionThreshold = defaults.CodeFractionThreshold
	}
	if settings.DenseSentenceLength <= 0 {
		settings.DenseSentenceLength = defaults.DenseSentenceLength
	}
	if collector == nil {
		collector = metrics.Noop{}
	}

	return &Chunker{
		settings:  settings,
		tokenizer: tokenizer,
		logger:    logger,
		collector: collector,
	}
}

var fencedCodeBlock = regexp.MustCompile("(?ms)^```[^\n]*\n.*?^```[ \t]*$")

// ChunkText splits text into chunks using the configured strategy. Empty and
// whitespace-only input yields no chunks. An optional base metadata value
// seeds fields the splitter does not derive itself: its Section labels
// chunks that fall outside any detected section.
func (c *Chunker) ChunkText(text string, meta ...ChunkMetadata) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var base ChunkMetadata
	if len(meta) > 0 {
		base = meta[0]
	}

	target := c.targetSize(text)
	c.logger.Debugf("chunking %d bytes with strategy %s, target %d tokens", len(text), c.settings.Strategy, target)

	var chunks []Chunk
	switch c.settings.Strategy {
	case StrategySemantic:
		chunks = c.semanticSplit(text, 0, target)
		chunks = c.applyOverlap(chunks)
	case StrategyFixed:
		chunks = c.fixedSplit(text, target)
	default:
		chunks = c.hierarchicalSplit(text, target)
	}

	chunks = c.finalize(chunks, base)

	totalTokens := 0
	for _, chunk := range chunks {
		totalTokens += chunk.TokenCount
	}
	c.collector.RecordChunking(c.settings.Strategy, len(chunks), totalTokens)
	return chunks
}

// targetSize derives the adaptive chunk size from the content profile: a
// larger target for code-heavy text so blocks stay intact, a slightly larger
// one for dense prose, the base size otherwise. The result is clamped to the
// configured bounds.
func (c *Chunker) targetSize(text string) int {
	target := c.settings.BaseChunkSize

	if c.settings.Adaptive {
		codeBytes := 0
		for _, match := range fencedCodeBlock.FindAllStringIndex(text, -1) {
			codeBytes += match[1] - match[0]
		}

		switch {
		case float64(codeBytes)/float64(len(text)) > c.settings.CodeFractionThreshold:
			target = c.settings.CodeChunkSize
		case averageSentenceWords(text) > c.settings.DenseSentenceLength:
			target = c.settings.DenseChunkSize
		}
	}

	// Overlap prefixes ride on top of the target, so the clamp leaves
	// headroom for them under the hard maximum.
	maxTarget := c.settings.MaxChunkSize - c.settings.OverlapTokens
	if maxTarget < c.settings.MinChunkSize {
		maxTarget = c.settings.MinChunkSize
	}

	if target < c.settings.MinChunkSize {
		target = c.settings.MinChunkSize
	}
	if target > maxTarget {
		target = maxTarget
	}
	return target
}

var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)`)

func averageSentenceWords(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	sentences := len(sentenceEnd.FindAllStringIndex(text, -1))
	if sentences == 0 {
		sentences = 1
	}
	return float64(words) / float64(sentences)
}

// applyOverlap prefixes each chunk after the first with a token-bounded tail
// of its predecessor's original text so context survives chunk boundaries.
func (c *Chunker) applyOverlap(chunks []Chunk) []Chunk {
	if c.settings.OverlapTokens <= 0 || len(chunks) < 2 {
		return chunks
	}

	for i := 1; i < len(chunks); i++ {
		if chunks[i].Metadata.IsCodeBlock || chunks[i-1].Metadata.IsCodeBlock {
			continue
		}
		tail := c.tokenizer.Tail(chunks[i-1].Text, c.settings.OverlapTokens)
		if tail == "" {
			continue
		}
		chunks[i].Text = tail + "\n" + chunks[i].Text
		chunks[i].Metadata.HasOverlap = true
	}
	return chunks
}

// finalize drops empty chunks, fills in token counts and the strategy tag,
// and applies the caller-supplied base metadata where nothing more specific
// was derived.
func (c *Chunker) finalize(chunks []Chunk, base ChunkMetadata) []Chunk {
	kept := chunks[:0]
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Text) == "" {
			continue
		}
		chunk.TokenCount = c.tokenizer.CountTokens(chunk.Text)
		if chunk.TokenCount == 0 {
			continue
		}
		if chunk.Metadata.Strategy == "" {
			chunk.Metadata.Strategy = c.settings.Strategy
		}
		if chunk.Metadata.Section == "" {
			chunk.Metadata.Section = base.Section
		}
		kept = append(kept, chunk)
	}
	return kept
}
