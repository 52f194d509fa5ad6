package chat

import "context"

// ProfileContext is the optional user-profile payload resolved by a
// ProfileProvider and threaded into GenerateBuffer calls. Its shape is
// provider-specific; the Orchestrator treats it as opaque.
type ProfileContext map[string]any

// LLMClient is the external LLM backend interface (spec §4.4). It is
// declared here, in terms of chat's own types, so the Orchestrator can
// depend on it without importing the concrete adapter package; any
// implementation (see internal/llm) satisfies it structurally.
type LLMClient interface {
	// GenerateBuffer produces a fresh sequence of Blocks from the full
	// conversation history, optionally continuing the blocks that were
	// never sent from a prior buffer, and optional profile context.
	GenerateBuffer(ctx context.Context, history []HistoryEntry, pending []Block, profile ProfileContext) ([]Block, error)

	// RelevanceCheck decides whether pendingBlocks are still appropriate
	// given the latest user messages. On any error it must itself return
	// false (conservative, no interrupt) rather than propagate the error;
	// callers never see a RelevanceCheck error.
	RelevanceCheck(ctx context.Context, recentHistory []HistoryEntry, sentBlocks []Block, pendingBlocks []Block) bool
}

// ProfileProvider resolves the optional user-profile payload for a
// connection. Implementations fetch chart/profile data out-of-band; a
// nil-returning provider disables profile context entirely.
type ProfileProvider interface {
	Resolve(ctx context.Context, userID string, mode ChatMode) (ProfileContext, error)
}

// NoopProfileProvider always returns no profile context, used when profile
// credentials are not configured (spec §6 configuration).
type NoopProfileProvider struct{}

func (NoopProfileProvider) Resolve(context.Context, string, ChatMode) (ProfileContext, error) {
	return nil, nil
}
