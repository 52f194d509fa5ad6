package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kt3v/etherialsoul-server/internal/chat"
)

func TestParseBlocksValid(t *testing.T) {
	content := `{"blocks": [{"text": "hi", "typingTime": 1.5, "group": 1}, {"text": "there", "typingTime": 0.8, "group": 1}]}`
	blocks, err := parseBlocks(content)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "hi", blocks[0].Text)
	assert.Equal(t, 1, blocks[0].Group)
}

func TestParseBlocksMalformedJSON(t *testing.T) {
	_, err := parseBlocks("not json")
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestParseBlocksEmpty(t *testing.T) {
	_, err := parseBlocks(`{"blocks": []}`)
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestParseBlocksRejectsEmptyText(t *testing.T) {
	_, err := parseBlocks(`{"blocks": [{"text": "", "typingTime": 1, "group": 1}]}`)
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestBuildGenerateMessagesIncludesPending(t *testing.T) {
	history := []chat.HistoryEntry{{Role: chat.RoleUser, Content: "hi"}}
	pending := []chat.Block{{Text: "leftover"}}
	msgs := buildGenerateMessages(history, pending, nil)

	require.Len(t, msgs, 3) // system + history + pending note
	assert.Contains(t, msgs[2].Content, "leftover")
}

func TestBuildGenerateMessagesNoPending(t *testing.T) {
	history := []chat.HistoryEntry{{Role: chat.RoleUser, Content: "hi"}}
	msgs := buildGenerateMessages(history, nil, nil)
	require.Len(t, msgs, 2)
}

func TestGenerateSystemPromptWithProfile(t *testing.T) {
	base := generateSystemPrompt(nil)
	assert.NotContains(t, base, "User profile context")

	withProfile := generateSystemPrompt(chat.ProfileContext{"sign": "leo"})
	assert.Contains(t, withProfile, "User profile context")
	assert.Contains(t, withProfile, "leo")
}

func TestRoleToOpenAI(t *testing.T) {
	assert.Equal(t, "assistant", roleToOpenAI(chat.RoleModel))
	assert.Equal(t, "user", roleToOpenAI(chat.RoleUser))
}

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, slog.Default(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, slog.Default(), func() error {
		calls++
		return ErrBadResponse
	})
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, 1, calls, "a permanent error must not be retried")
}

func TestWithRetryExhaustsOnTransientError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, slog.Default(), func() error {
		calls++
		return ErrBackendUnavailable
	})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, 3, calls)
}

func TestWithRetryRecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, slog.Default(), func() error {
		calls++
		if calls < 2 {
			return ErrBackendUnavailable
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withRetry(ctx, 3, 50*time.Millisecond, slog.Default(), func() error {
		calls++
		return ErrBackendUnavailable
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestClassifyCallErrorWrapsUnknownAsUnavailable(t *testing.T) {
	err := classifyCallError(errors.New("connection reset"))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestGenerateBufferWrapsExhaustedRetriesAsErrFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{
		APIKey:     "test-key",
		Model:      "test-model",
		BaseURL:    srv.URL,
		MaxRetries: 1,
		Timeout:    time.Second,
	}, slog.Default())

	_, err := c.GenerateBuffer(context.Background(), nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailed)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
