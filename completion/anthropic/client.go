// Package anthropic provides a completion.Client backed by the Anthropic
// Claude Messages API. It translates normalized requests into
// anthropic.Message calls using github.com/anthropics/anthropic-sdk-go and
// maps responses back into the generic completion structures.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/cenecahq/ceneca/completion"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used
	// by the adapter. It is satisfied by *sdk.MessageService so callers
	// can pass either a real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the Anthropic adapter.
	Options struct {
		// DefaultModel is the Claude model identifier used when
		// Request.Model is empty.
		DefaultModel string
		// MaxTokens is the default completion cap when a request does
		// not specify MaxTokens.
		MaxTokens int
		// Temperature is used when a request does not specify one.
		Temperature float64
	}

	// Client implements completion.Client on top of Anthropic Claude
	// Messages.
	Client struct {
		msg    MessagesClient
		model  string
		maxTok int
		temp   float64
	}
)

// New builds an Anthropic-backed completion client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	return &Client{msg: msg, model: opts.DefaultModel, maxTok: maxTok, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages.New request and concatenates the
// returned text blocks.
func (c *Client) Complete(ctx context.Context, req completion.Request) (*completion.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, completion.NewProviderError("anthropic", completion.ProviderErrorKindInvalidRequest, err)
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, wrapSDKError(err)
	}
	return translateResponse(msg)
}

// Stream invokes Messages.NewStreaming and adapts incremental events into
// completion.Chunks.
func (c *Client) Stream(ctx context.Context, req completion.Request) (completion.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, completion.NewProviderError("anthropic", completion.ProviderErrorKindInvalidRequest, err)
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, wrapSDKError(err)
	}
	return newStreamer(ctx, stream), nil
}

func (c *Client) prepareRequest(req completion.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if t := c.effectiveTemperature(req.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	return &params, nil
}

func (c *Client) effectiveTemperature(requested float32) float64 {
	if requested > 0 {
		return float64(requested)
	}
	return c.temp
}

func encodeMessages(msgs []completion.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, 1)
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case completion.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case completion.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case completion.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func translateResponse(msg *sdk.Message) (*completion.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &completion.Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			resp.Text += block.Text
		}
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = completion.TokenUsage{
			InputTokens:  int(u.InputTokens),
			OutputTokens: int(u.OutputTokens),
			TotalTokens:  int(u.InputTokens + u.OutputTokens),
		}
	}
	return resp, nil
}

func wrapSDKError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return completion.NewProviderError("anthropic", completion.ProviderErrorKindRateLimited,
				fmt.Errorf("%w: %w", completion.ErrRateLimited, err))
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return completion.NewProviderError("anthropic", completion.ProviderErrorKindAuth, err)
		case apiErr.StatusCode >= 500:
			return completion.NewProviderError("anthropic", completion.ProviderErrorKindUnavailable, err)
		case apiErr.StatusCode >= 400:
			return completion.NewProviderError("anthropic", completion.ProviderErrorKindInvalidRequest, err)
		}
	}
	return completion.NewProviderError("anthropic", completion.ProviderErrorKindUnknown, err)
}
