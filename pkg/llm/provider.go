// Package llm provides abstractions for LLM provider integration.
//
// Providers handle API communication with an LLM service and return simple
// StreamChunk values over a channel. This keeps providers focused on
// transport concerns; orchestration (map-reduce, caching, security
// filtering) lives in the summarizer layer.
package llm

import "context"

// MessageRole identifies the author of a message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single conversation message sent to or received from a model.
type Message struct {
	Role    MessageRole
	Content string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	// Content is the text delta carried by this chunk.
	Content string

	// Role is set on the first chunk of a stream (usually "assistant").
	Role string

	// Finished marks the final chunk of a successful stream.
	Finished bool

	// Error carries a stream-time failure. When set, the stream ends.
	Error error
}

// IsError reports whether the chunk carries a stream-time error.
func (c *StreamChunk) IsError() bool {
	return c.Error != nil
}

// CallOptions tunes a single completion request.
type CallOptions struct {
	// MaxOutputTokens caps the completion length. Zero means provider default.
	MaxOutputTokens int

	// Temperature overrides the sampling temperature when non-nil.
	Temperature *float64
}

// CallOption mutates CallOptions.
type CallOption func(*CallOptions)

// WithMaxOutputTokens caps the completion length for one call.
func WithMaxOutputTokens(n int) CallOption {
	return func(o *CallOptions) {
		o.MaxOutputTokens = n
	}
}

// WithTemperature sets the sampling temperature for one call.
func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) {
		o.Temperature = &t
	}
}

// ApplyCallOptions folds a list of options into a CallOptions value.
func ApplyCallOptions(opts []CallOption) CallOptions {
	var options CallOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Provider defines the interface for LLM integrations.
//
// StreamCompletion returns an error only if streaming cannot be initiated
// (invalid configuration, network unavailable). Stream-time errors are sent
// as StreamChunk values with Error set; the channel is closed when streaming
// completes or fails. Callers should read until the channel closes.
type Provider interface {
	// StreamCompletion sends messages to the LLM and streams back response
	// chunks. The first chunk typically carries the role, subsequent chunks
	// carry content deltas, and the final chunk has Finished=true.
	StreamCompletion(ctx context.Context, messages []*Message, opts ...CallOption) (<-chan *StreamChunk, error)

	// Complete sends messages to the LLM and returns the accumulated
	// response. Convenience wrapper over StreamCompletion for non-streaming
	// call sites such as the summarizer's map phase.
	Complete(ctx context.Context, messages []*Message, opts ...CallOption) (*Message, error)

	// Model returns the model identifier requests are sent to.
	Model() string
}
