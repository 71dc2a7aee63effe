// Package openai provides a completion.Client backed by the OpenAI Chat
// Completions API. It translates normalized requests into ChatCompletion
// calls using github.com/openai/openai-go and maps responses back into the
// generic completion structures.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/cenecahq/ceneca/completion"
)

type (
	// ChatClient captures the subset of the OpenAI SDK client used by the
	// adapter. It is satisfied by the SDK's chat completion service so
	// callers can pass either a real client or a mock in tests.
	ChatClient interface {
		New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
		NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
	}

	// Options configures the OpenAI adapter.
	Options struct {
		// DefaultModel is the model identifier used when Request.Model
		// is empty.
		DefaultModel string
	}

	// Client implements completion.Client via the OpenAI Chat Completions
	// API.
	Client struct {
		chat  ChatClient
		model string
	}
)

// New builds an OpenAI-backed completion client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: chat, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req completion.Request) (*completion.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, completion.NewProviderError("openai", completion.ProviderErrorKindInvalidRequest, err)
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return nil, wrapSDKError(err)
	}
	return translateResponse(resp)
}

// Stream invokes the streaming Chat Completions API and adapts chunks.
func (c *Client) Stream(ctx context.Context, req completion.Request) (completion.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, completion.NewProviderError("openai", completion.ProviderErrorKindInvalidRequest, err)
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, wrapSDKError(err)
	}
	return &streamer{stream: stream, metadata: map[string]any{"provider": "openai", "model": string(params.Model)}}, nil
}

func (c *Client) prepareRequest(req completion.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case completion.RoleSystem:
			messages = append(messages, sdk.SystemMessage(m.Content))
		case completion.RoleUser:
			messages = append(messages, sdk.UserMessage(m.Content))
		case completion.RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(messages) == 0 {
		return nil, errors.New("openai: at least one non-empty message is required")
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	return &params, nil
}

func translateResponse(resp *sdk.ChatCompletion) (*completion.Response, error) {
	if resp == nil {
		return nil, errors.New("openai: response is nil")
	}
	out := &completion.Response{
		Usage: completion.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	for _, choice := range resp.Choices {
		out.Text += choice.Message.Content
		if out.StopReason == "" {
			out.StopReason = string(choice.FinishReason)
		}
	}
	return out, nil
}

func wrapSDKError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return completion.NewProviderError("openai", completion.ProviderErrorKindRateLimited,
				fmt.Errorf("%w: %w", completion.ErrRateLimited, err))
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return completion.NewProviderError("openai", completion.ProviderErrorKindAuth, err)
		case apiErr.StatusCode >= 500:
			return completion.NewProviderError("openai", completion.ProviderErrorKindUnavailable, err)
		case apiErr.StatusCode >= 400:
			return completion.NewProviderError("openai", completion.ProviderErrorKindInvalidRequest, err)
		}
	}
	return completion.NewProviderError("openai", completion.ProviderErrorKindUnknown, err)
}

// streamer adapts the SDK stream to completion.Streamer. The SDK stream is
// pull-based already, so no goroutine is needed.
type streamer struct {
	stream   *ssestream.Stream[sdk.ChatCompletionChunk]
	index    int
	stopSent bool
	metadata map[string]any
}

func (s *streamer) Recv() (completion.Chunk, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			c := completion.Chunk{Type: completion.ChunkTypeText, Text: choice.Delta.Content, Index: s.index}
			s.index++
			return c, nil
		}
		if choice.FinishReason != "" && !s.stopSent {
			s.stopSent = true
			return completion.Chunk{Type: completion.ChunkTypeStop, StopReason: string(choice.FinishReason)}, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return completion.Chunk{}, err
	}
	return completion.Chunk{}, io.EOF
}

func (s *streamer) Close() error { return s.stream.Close() }

func (s *streamer) Metadata() map[string]any { return s.metadata }
