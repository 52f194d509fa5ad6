package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/kt3v/etherialsoul-server/internal/chat"
)

// Config configures the OpenAI-compatible Client.
type Config struct {
	Provider string // openai, deepseek, siliconflow, zai, ollama, ...
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration // per-request timeout; default 120s

	MaxRetries int           // default 3
	RetryBase  time.Duration // default 800ms
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 800 * time.Millisecond
	}
}

// Client is the OpenAI-compatible implementation of chat.LLMClient.
type Client struct {
	api    *openai.Client
	model  string
	cfg    Config
	logger *slog.Logger
}

var _ chat.LLMClient = (*Client)(nil)

// NewClient builds a Client from cfg. logger may be nil.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:    openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		cfg:    cfg,
		logger: logger,
	}
}

// wireBlock is the JSON shape the model is asked to emit; one entry per
// Block.
type wireBlock struct {
	Text       string  `json:"text"`
	TypingTime float64 `json:"typingTime"`
	Group      int     `json:"group"`
}

// GenerateBuffer asks the backend for a fresh sequence of blocks, retrying
// ErrBackendUnavailable with jittered exponential backoff (spec §4.4).
func (c *Client) GenerateBuffer(ctx context.Context, history []chat.HistoryEntry, pending []chat.Block, profile chat.ProfileContext) ([]chat.Block, error) {
	var blocks []chat.Block
	err := withRetry(ctx, c.cfg.MaxRetries, c.cfg.RetryBase, c.logger, func() error {
		result, callErr := c.generateBufferOnce(ctx, history, pending, profile)
		if callErr != nil {
			return callErr
		}
		blocks = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailed, err)
	}
	return blocks, nil
}

func (c *Client) generateBufferOnce(ctx context.Context, history []chat.HistoryEntry, pending []chat.Block, profile chat.ProfileContext) ([]chat.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       buildGenerateMessages(history, pending, profile),
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyCallError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Wrap(ErrBadResponse, "empty choices")
	}

	blocks, err := parseBlocks(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// RelevanceCheck asks the backend whether pendingBlocks remain appropriate.
// Per spec §4.4, any error (network, parse, or classification failure) is
// absorbed here and reported as "not relevant" so a flaky check can never
// cause a regeneration loop.
func (c *Client) RelevanceCheck(ctx context.Context, recentHistory []chat.HistoryEntry, sentBlocks []chat.Block, pendingBlocks []chat.Block) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       buildRelevanceMessages(recentHistory, sentBlocks, pendingBlocks),
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("llm: relevance check failed, defaulting to not-relevant", "error", err)
		return false
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn("llm: relevance check returned no choices, defaulting to not-relevant")
		return false
	}

	var out struct {
		NeedsUpdate bool `json:"needsUpdate"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		c.logger.Warn("llm: relevance check malformed JSON, defaulting to not-relevant", "error", err)
		return false
	}
	return out.NeedsUpdate
}

func buildGenerateMessages(history []chat.HistoryEntry, pending []chat.Block, profile chat.ProfileContext) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: generateSystemPrompt(profile),
	})
	for _, h := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: roleToOpenAI(h.Role), Content: h.Content})
	}
	if len(pending) > 0 {
		var sb strings.Builder
		sb.WriteString("The following blocks were queued but never sent; continue the thought or discard them: ")
		for _, b := range pending {
			sb.WriteString(b.Text)
			sb.WriteString(" ")
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sb.String()})
	}
	return msgs
}

func buildRelevanceMessages(recentHistory []chat.HistoryEntry, sentBlocks, pendingBlocks []chat.Block) []openai.ChatCompletionMessage {
	var sb strings.Builder
	sb.WriteString("Sent so far: ")
	for _, b := range sentBlocks {
		sb.WriteString(b.Text)
		sb.WriteString(" ")
	}
	sb.WriteString("\nStill pending: ")
	for _, b := range pendingBlocks {
		sb.WriteString(b.Text)
		sb.WriteString(" ")
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(recentHistory)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: `Given the recent conversation and the pending response blocks below, reply with JSON {"needsUpdate": bool} indicating whether the pending blocks should be discarded and regenerated.`,
	})
	for _, h := range recentHistory {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: roleToOpenAI(h.Role), Content: h.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sb.String()})
	return msgs
}

func generateSystemPrompt(profile chat.ProfileContext) string {
	base := `Reply with JSON {"blocks": [{"text": string, "typingTime": number, "group": integer}, ...]} segmenting your response into naturally-paced chat blocks.`
	if len(profile) == 0 {
		return base
	}
	encoded, err := json.Marshal(profile)
	if err != nil {
		return base
	}
	return fmt.Sprintf("%s\nUser profile context: %s", base, string(encoded))
}

func roleToOpenAI(r chat.Role) string {
	if r == chat.RoleModel {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

func parseBlocks(content string) ([]chat.Block, error) {
	var out struct {
		Blocks []wireBlock `json:"blocks"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, errors.Wrapf(ErrBadResponse, "decode: %v", err)
	}
	if len(out.Blocks) == 0 {
		return nil, errors.Wrap(ErrBadResponse, "no blocks in response")
	}

	blocks := make([]chat.Block, 0, len(out.Blocks))
	for _, wb := range out.Blocks {
		b := chat.Block{Text: wb.Text, TypingTime: wb.TypingTime, Group: wb.Group}
		if err := b.Validate(); err != nil {
			return nil, errors.Wrapf(ErrBadResponse, "invalid block: %v", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// classifyCallError maps a go-openai / transport error onto the three named
// LLM failure modes.
func classifyCallError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 400 && strings.Contains(strings.ToLower(apiErr.Message), "content"):
			return errors.Wrap(ErrBackendRefused, apiErr.Message)
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return errors.Wrap(ErrBackendUnavailable, apiErr.Message)
		default:
			return errors.Wrap(ErrBadResponse, apiErr.Message)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Wrap(ErrBackendUnavailable, err.Error())
	}

	return errors.Wrap(ErrBackendUnavailable, err.Error())
}

// withRetry retries fn on transient (ErrBackendUnavailable) failures with
// jittered exponential backoff, up to maxRetries attempts total.
func withRetry(ctx context.Context, maxRetries int, base time.Duration, logger *slog.Logger, fn func() error) error {
	var lastErr error
	backoff := base
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Classify(lastErr).IsTransient() {
			return lastErr
		}
		if attempt == maxRetries {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		wait := backoff + jitter
		logger.Warn("llm: transient failure, retrying", "attempt", attempt, "wait", wait, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return lastErr
}
