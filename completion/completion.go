// Package completion provides a provider-agnostic abstraction over chat
// completion APIs (Anthropic, OpenAI) so the workflow engine can invoke
// models without coupling to specific SDKs. Implementations translate these
// normalized types into provider-specific formats.
//
// The Service type layers provider failover and per-provider circuit
// breaking on top of the Client contract.
package completion

import (
	"context"
	"errors"
)

type (
	// Client defines the contract workflow nodes use to invoke model calls.
	// Implementations wrap provider SDKs and translate Request/Response to
	// provider-specific formats. Clients must be safe for concurrent use.
	Client interface {
		// Complete sends a chat completion request and returns the
		// generated response. Returns an error when the provider is
		// unavailable, quota is exceeded, or the request is malformed.
		Complete(ctx context.Context, req Request) (*Response, error)

		// Stream sends a chat completion request and returns a Streamer
		// yielding incremental chunks. The returned Streamer must be
		// closed by callers. Providers without streaming support return
		// ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Successive calls to Recv
	// return Chunk values until io.EOF. Recv must be called from a single
	// goroutine; Close releases any underlying resources.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close closes the stream.
		Close() error
		// Metadata returns provider-specific stream metadata such as
		// "provider", "model", or usage totals. Contents are optional
		// and provider-defined.
		Metadata() map[string]any
	}

	// Request captures the normalized parameters of a model invocation.
	Request struct {
		// Model identifies the target model using the provider-specific
		// identifier. Empty means the provider default.
		Model string

		// Messages is the ordered chat history, including system
		// prompts, user inputs, and prior assistant responses.
		Messages []Message

		// Temperature controls sampling temperature. Zero means the
		// provider default.
		Temperature float32

		// MaxTokens caps completion tokens. Zero means the provider
		// default.
		MaxTokens int
	}

	// Message is a single chat message.
	Message struct {
		// Role is "system", "user", or "assistant".
		Role string
		// Content is the message text.
		Content string
	}

	// Response wraps the generated content.
	Response struct {
		// Text is the concatenated assistant output.
		Text string
		// Usage reports token usage when the provider supplies it.
		Usage TokenUsage
		// StopReason explains why generation stopped. Values are
		// provider-specific and may be empty.
		StopReason string
		// Provider names the provider that produced the response; set
		// by the failover service.
		Provider string
	}

	// Chunk is a streaming event emitted by a provider. Type indicates
	// which payload fields are populated.
	Chunk struct {
		// Type is one of ChunkTypeText, ChunkTypeUsage, ChunkTypeStop.
		Type string
		// Text carries the text delta when Type == ChunkTypeText.
		Text string
		// Index is the zero-based position of this text chunk.
		Index int
		// UsageDelta reports incremental usage when Type == ChunkTypeUsage.
		UsageDelta *TokenUsage
		// StopReason explains termination when Type == ChunkTypeStop.
		StopReason string
	}

	// TokenUsage records prompt/completion token counts when reported by
	// the provider. All fields are zero when usage is unavailable.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}
)

// Well-known Chunk.Type values.
const (
	ChunkTypeText  = "text"
	ChunkTypeUsage = "usage"
	ChunkTypeStop  = "stop"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrStreamingUnsupported indicates the provider does not implement
// streaming for the requested model/parameters.
var ErrStreamingUnsupported = errors.New("completion: streaming not supported")

// ErrRateLimited indicates the provider is throttling requests. Provider
// adapters wrap throttling failures with this sentinel so middleware can
// react uniformly.
var ErrRateLimited = errors.New("completion: rate limited")
