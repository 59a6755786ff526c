// Package llmclient implements conversation.LLMClient against a local
// OpenAI-compatible endpoint (the llama-server HTTP API started by
// internal/llmserver), grounded on
// intelligencedev-manifold/internal/llm/openai/client.go's use of
// github.com/openai/openai-go/v2.
package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/edmoltom/FNK0050-sub000/internal/conversation"
	"github.com/edmoltom/FNK0050-sub000/internal/observability"
)

// Client is a conversation.LLMClient backed by an OpenAI-compatible
// chat-completions endpoint.
type Client struct {
	sdk     sdk.Client
	model   string
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each chat-completion request.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// New constructs a Client pointed at baseURL (e.g.
// "http://127.0.0.1:9090/v1"). apiKey may be empty for local servers that
// don't require authentication.
func New(baseURL, apiKey, model string, opts ...Option) *Client {
	sdkOpts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		sdkOpts = append(sdkOpts, option.WithAPIKey(apiKey))
	}
	c := &Client{sdk: sdk.NewClient(sdkOpts...), model: model, timeout: 30 * time.Second}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Query sends the full message history (system/user/assistant turns, as
// built by conversation.Memory.BuildMessages) and truncates the reply to
// maxReplyChars, mirroring VoiceInterface.py's
// mem.build_messages(...)/llm_ask/MAX_REPLY_CHARS handling.
func (c *Client) Query(ctx context.Context, messages []conversation.Message, maxReplyChars int) (string, error) {
	log := observability.For("llmclient")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: toSDKMessages(messages),
	}

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("llm query failed")
		return "", fmt.Errorf("llmclient: query: %w", err)
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("llmclient: empty response from model")
	}

	return truncateReply(comp.Choices[0].Message.Content, maxReplyChars), nil
}

// toSDKMessages maps conversation.Message's role strings onto the SDK's
// typed message constructors, defaulting an unrecognized role to a user
// message rather than dropping it.
func toSDKMessages(messages []conversation.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

// truncateReply enforces MAX_REPLY_CHARS-style truncation, mirroring
// VoiceInterface.py's llm_ask call into client.query(max_reply_chars=...).
func truncateReply(reply string, maxReplyChars int) string {
	if maxReplyChars > 0 && len(reply) > maxReplyChars {
		return strings.TrimSpace(reply[:maxReplyChars])
	}
	return reply
}
