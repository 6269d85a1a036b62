// Package summarizer produces streamed summaries of chunked text. Small
// inputs go through a single direct model call; larger inputs run map-reduce,
// with per-chunk map summaries synthesized by a streamed reduce call. All
// model input passes the prompt guard first, and streamed output is
// re-validated incrementally and once over the accumulated text.
package summarizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/entrhq/webdigest/pkg/cache"
	"github.com/entrhq/webdigest/pkg/chunker"
	"github.com/entrhq/webdigest/pkg/llm"
	"github.com/entrhq/webdigest/pkg/logging"
	"github.com/entrhq/webdigest/pkg/metrics"
	"github.com/entrhq/webdigest/pkg/security/prompt"
	"golang.org/x/sync/errgroup"
)

// Map execution modes.
const (
	MapModeParallel   = "parallel"
	MapModeStream     = "stream"
	MapModeSequential = "sequential"
)

// Phase identifies which stage of the pipeline a fragment belongs to.
type Phase string

const (
	// PhaseMap fragments carry per-chunk progress in streaming map mode.
	PhaseMap Phase = "map"

	// PhaseSummary fragments carry the final summary text.
	PhaseSummary Phase = "summary"
)

// ErrNoChunks is returned when there is nothing to summarize.
var ErrNoChunks = errors.New("no chunks to summarize")

// ErrResponseFiltered is carried in-band when the accumulated model output
// fails leakage validation and the stream is terminated.
var ErrResponseFiltered = errors.New("model response failed output validation")

// Fragment is one increment of a summarization stream. Err, when set, ends
// the stream; Finished marks successful completion.
type Fragment struct {
	Content    string
	Phase      Phase
	ChunkIndex int
	Finished   bool
	FromCache  bool
	Err        error
}

// Options controls one summarization run.
type Options struct {
	// Query focuses the summary on a topic. Empty means a general summary.
	Query string

	// Sources are the origin URLs, cited in the final synthesis prompt.
	Sources []string

	// DisableCache skips both the fingerprint lookup and the commit.
	DisableCache bool
}

// Settings configures a Summarizer.
type Settings struct {
	// DirectThreshold is the total-token bound at or below which a single
	// direct call is used instead of map-reduce.
	DirectThreshold int

	// MapMode is one of parallel, stream, or sequential.
	MapMode string

	// MaxOutputTokens and MinOutputTokens clamp the adaptive output budget.
	MaxOutputTokens int
	MinOutputTokens int

	// ValidateEvery is the number of streamed fragments between incremental
	// leakage checks over the accumulated output.
	ValidateEvery int
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		DirectThreshold: 5000,
		MapMode:         MapModeParallel,
		MaxOutputTokens: 2048,
		MinOutputTokens: 256,
		ValidateEvery:   20,
	}
}

// Tokenizer covers the token arithmetic the summarizer needs.
type Tokenizer interface {
	CountTokens(text string) int
}

// Summarizer orchestrates model calls over prepared chunks.
type Summarizer struct {
	settings  Settings
	provider  llm.Provider
	tokenizer Tokenizer
	guard     *prompt.Guard
	cache     cache.Cache
	logger    *logging.Logger
	collector metrics.Collector
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithCache enables the fingerprint summary cache.
func WithCache(c cache.Cache) Option {
	return func(s *Summarizer) {
		s.cache = c
	}
}

// WithCollector sets the metrics collector.
func WithCollector(c metrics.Collector) Option {
	return func(s *Summarizer) {
		s.collector = c
	}
}

// NewSummarizer creates a summarizer around the given provider.
func NewSummarizer(settings Settings, provider llm.Provider, tokenizer Tokenizer, logger *logging.Logger, opts ...Option) *Summarizer {
	defaults := DefaultSettings()
	if settings.DirectThreshold <= 0 {
		settings.DirectThreshold = defaults.DirectThreshold
	}
	if settings.MapMode == "" {
		settings.MapMode = defaults.MapMode
	}
	if settings.MaxOutputTokens <= 0 {
		settings.MaxOutputTokens = defaults.MaxOutputTokens
	}
	if settings.MinOutputTokens <= 0 {
		settings.MinOutputTokens = defaults.MinOutputTokens
	}
	if settings.ValidateEvery <= 0 {
		settings.ValidateEvery = defaults.ValidateEvery
	}

	s := &Summarizer{
		settings:  settings,
		provider:  provider,
		tokenizer: tokenizer,
		guard:     prompt.NewGuard(),
		logger:    logger,
		collector: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases provider resources when the provider holds any.
func (s *Summarizer) Close() {
	if closer, ok := s.provider.(io.Closer); ok {
		closer.Close()
	}
}

// SummarizeChunks streams a summary of chunks. The returned channel carries
// one finite ordered stream: content fragments, then either a Finished
// fragment or one with Err set. An error is returned directly only when the
// run cannot start.
func (s *Summarizer) SummarizeChunks(ctx context.Context, chunks []chunker.Chunk, opts Options) (<-chan Fragment, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	key := s.fingerprint(chunks, opts.Query)
	if !opts.DisableCache && s.cache != nil {
		if value, _, ok := s.cache.Get(key); ok {
			s.logger.Debugf("summary cache hit for %s", key)
			s.collector.RecordSummarization("cache", 0, true, 0)

			out := make(chan Fragment, 2)
			out <- Fragment{Content: string(value), Phase: PhaseSummary, FromCache: true}
			out <- Fragment{Phase: PhaseSummary, FromCache: true, Finished: true}
			close(out)
			return out, nil
		}
	}

	totalTokens := 0
	for _, chunk := range chunks {
		tokens := chunk.TokenCount
		if tokens == 0 {
			tokens = s.tokenizer.CountTokens(chunk.Text)
		}
		totalTokens += tokens
	}

	out := make(chan Fragment, 16)
	go s.run(ctx, chunks, opts, key, totalTokens, out)
	return out, nil
}

func (s *Summarizer) run(ctx context.Context, chunks []chunker.Chunk, opts Options, key string, totalTokens int, out chan<- Fragment) {
	defer close(out)
	start := time.Now()

	var summary string
	var err error
	strategy := "direct"
	modelCalls := 1

	if totalTokens <= s.settings.DirectThreshold {
		s.logger.Debugf("direct summarization of %d tokens in %d chunks", totalTokens, len(chunks))
		summary, err = s.direct(ctx, chunks, opts, out)
	} else {
		strategy = "map_reduce"
		modelCalls = len(chunks) + 1
		s.logger.Debugf("map-reduce summarization of %d tokens in %d chunks (%s)", totalTokens, len(chunks), s.settings.MapMode)
		summary, err = s.mapReduce(ctx, chunks, opts, out)
	}

	s.collector.RecordSummarization(strategy, modelCalls, false, time.Since(start))

	if err != nil {
		s.emit(ctx, out, Fragment{Phase: PhaseSummary, Err: err})
		return
	}

	// The cache is committed only after a complete, validated stream.
	if !opts.DisableCache && s.cache != nil {
		s.cache.Set(key, []byte(summary), cache.Meta{})
	}
	s.emit(ctx, out, Fragment{Phase: PhaseSummary, Finished: true})
}

// direct summarizes everything in a single streamed call.
func (s *Summarizer) direct(ctx context.Context, chunks []chunker.Chunk, opts Options, out chan<- Fragment) (string, error) {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = s.guard.Sanitize(chunk.Text)
	}

	messages := []*llm.Message{
		llm.NewSystemMessage(systemPrompt),
		llm.NewUserMessage(directPrompt(s.guard.Sanitize(opts.Query), opts.Sources, texts)),
	}
	return s.streamCall(ctx, messages, s.outputBudget(totalChunkTokens(s.tokenizer, chunks)), out)
}

// mapReduce summarizes each chunk independently, then synthesizes the map
// summaries with one streamed reduce call.
func (s *Summarizer) mapReduce(ctx context.Context, chunks []chunker.Chunk, opts Options, out chan<- Fragment) (string, error) {
	query := s.guard.Sanitize(opts.Query)

	var summaries []string
	var err error
	switch s.settings.MapMode {
	case MapModeSequential:
		summaries, err = s.mapSequential(ctx, chunks, query)
	case MapModeStream:
		summaries, err = s.mapStreaming(ctx, chunks, query, out)
	default:
		summaries, err = s.mapParallel(ctx, chunks, query)
	}
	if err != nil {
		return "", fmt.Errorf("map phase failed: %w", err)
	}

	messages := []*llm.Message{
		llm.NewSystemMessage(systemPrompt),
		llm.NewUserMessage(reducePrompt(query, opts.Sources, summaries)),
	}
	summary, err := s.streamCall(ctx, messages, s.outputBudget(totalChunkTokens(s.tokenizer, chunks)), out)
	if err != nil {
		return "", fmt.Errorf("reduce phase failed: %w", err)
	}
	return summary, nil
}

func (s *Summarizer) mapChunk(ctx context.Context, chunk chunker.Chunk, index int, query string) (string, error) {
	messages := []*llm.Message{
		llm.NewSystemMessage(systemPrompt),
		llm.NewUserMessage(mapPrompt(query, s.guard.Sanitize(chunk.Text))),
	}

	response, err := s.provider.Complete(ctx, messages, llm.WithMaxOutputTokens(s.settings.MaxOutputTokens))
	if err != nil {
		return "", fmt.Errorf("chunk %d: %w", index, err)
	}
	return s.guard.FilterResponse(response.Content), nil
}

func (s *Summarizer) mapSequential(ctx context.Context, chunks []chunker.Chunk, query string) ([]string, error) {
	summaries := make([]string, len(chunks))
	for i, chunk := range chunks {
		summary, err := s.mapChunk(ctx, chunk, i, query)
		if err != nil {
			return nil, err
		}
		summaries[i] = summary
	}
	return summaries, nil
}

func (s *Summarizer) mapParallel(ctx context.Context, chunks []chunker.Chunk, query string) ([]string, error) {
	summaries := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			summary, err := s.mapChunk(gctx, chunk, i, query)
			if err != nil {
				return err
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// mapStreaming runs map calls concurrently and emits a progress fragment as
// each completes, in completion order. Chunk order is restored before the
// reduce phase.
func (s *Summarizer) mapStreaming(ctx context.Context, chunks []chunker.Chunk, query string, out chan<- Fragment) ([]string, error) {
	type mapResult struct {
		index   int
		summary string
	}

	summaries := make([]string, len(chunks))
	results := make(chan mapResult)

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			summary, err := s.mapChunk(gctx, chunk, i, query)
			if err != nil {
				return err
			}
			select {
			case results <- mapResult{index: i, summary: summary}:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
		close(results)
	}()

	for result := range results {
		summaries[result.index] = result.summary
		s.emit(ctx, out, Fragment{
			Content:    result.summary,
			Phase:      PhaseMap,
			ChunkIndex: result.index,
		})
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return summaries, nil
}

// streamCall issues one streamed completion, forwarding filtered content
// fragments to out. The accumulated output is leakage-checked every
// ValidateEvery fragments and once at the end; failure terminates the run.
func (s *Summarizer) streamCall(ctx context.Context, messages []*llm.Message, budget int, out chan<- Fragment) (string, error) {
	stream, err := s.provider.StreamCompletion(ctx, messages, llm.WithMaxOutputTokens(budget))
	if err != nil {
		return "", err
	}

	var accumulated strings.Builder
	fragments := 0
	for chunk := range stream {
		if chunk.IsError() {
			return "", chunk.Error
		}
		if chunk.Content == "" {
			continue
		}

		filtered := s.guard.FilterResponse(chunk.Content)
		accumulated.WriteString(filtered)
		if !s.emit(ctx, out, Fragment{Content: filtered, Phase: PhaseSummary}) {
			return "", ctx.Err()
		}

		fragments++
		if fragments%s.settings.ValidateEvery == 0 && !s.guard.Validate(accumulated.String()) {
			return "", ErrResponseFiltered
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !s.guard.Validate(accumulated.String()) {
		return "", ErrResponseFiltered
	}
	return accumulated.String(), nil
}

// emit sends a fragment unless the context is canceled. Reports whether the
// fragment was delivered.
func (s *Summarizer) emit(ctx context.Context, out chan<- Fragment, fragment Fragment) bool {
	select {
	case out <- fragment:
		return true
	case <-ctx.Done():
		return false
	}
}

// outputBudget scales the output token budget with the input size, clamped
// to the configured floor and ceiling.
func (s *Summarizer) outputBudget(inputTokens int) int {
	budget := inputTokens / 4
	if budget < s.settings.MinOutputTokens {
		budget = s.settings.MinOutputTokens
	}
	if budget > s.settings.MaxOutputTokens {
		budget = s.settings.MaxOutputTokens
	}
	return budget
}

// fingerprint builds the cache key: SHA-256 over the chunk texts, the query,
// and the model identifier. Any change to content, focus, or model yields a
// different key.
func (s *Summarizer) fingerprint(chunks []chunker.Chunk, query string) string {
	h := sha256.New()
	h.Write([]byte(s.provider.Model()))
	h.Write([]byte{0})
	h.Write([]byte(query))
	for _, chunk := range chunks {
		h.Write([]byte{0})
		h.Write([]byte(chunk.Text))
	}
	return "summary:" + hex.EncodeToString(h.Sum(nil))
}

func totalChunkTokens(tokenizer Tokenizer, chunks []chunker.Chunk) int {
	total := 0
	for _, chunk := range chunks {
		tokens := chunk.TokenCount
		if tokens == 0 {
			tokens = tokenizer.CountTokens(chunk.Text)
		}
		total += tokens
	}
	return total
}
