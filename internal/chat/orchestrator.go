package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// historyTailSize is the number of recent history entries passed to
// RelevanceCheck (spec §4.5 InterruptFlow step 2).
const historyTailSize = 20

// ErrInvalidChatMode is returned by SetChatMode for anything outside the
// two enumerated profiles.
var ErrInvalidChatMode = errors.New("chat: invalid chat mode")

// Orchestrator is the per-connection state machine tying Session Store,
// Timer Service, Pacer, and LLM Client together (spec §4.5). One
// Orchestrator instance serves every connection; per-connection isolation
// comes from keying all state off the connection id, never from separate
// goroutines or instances.
type Orchestrator struct {
	store    *SessionStore
	timers   *TimerService
	pacer    *Pacer
	llm      LLMClient
	profiles ProfileProvider
	logger   *slog.Logger
	rootCtx  context.Context

	mu       sync.RWMutex
	channels map[string]DeliveryChannel

	profileFetch singleflight.Group
}

// NewOrchestrator wires the five collaborators together. rootCtx is used
// for work kicked off by timer callbacks, which run on their own goroutine
// outside any single inbound request's context.
func NewOrchestrator(rootCtx context.Context, store *SessionStore, timers *TimerService, pacer *Pacer, llmClient LLMClient, profiles ProfileProvider, logger *slog.Logger) *Orchestrator {
	if profiles == nil {
		profiles = NoopProfileProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		timers:   timers,
		pacer:    pacer,
		llm:      llmClient,
		profiles: profiles,
		logger:   logger,
		rootCtx:  rootCtx,
		channels: make(map[string]DeliveryChannel),
	}
}

// Connect registers channel as the delivery channel for connID and lazily
// creates its Session. The transport layer calls this once per accepted
// connection before forwarding any client events.
func (o *Orchestrator) Connect(connID string, channel DeliveryChannel) {
	o.store.GetOrCreate(connID)
	o.mu.Lock()
	o.channels[connID] = channel
	o.mu.Unlock()
}

func (o *Orchestrator) getChannel(connID string) (DeliveryChannel, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ch, ok := o.channels[connID]
	return ch, ok
}

func (o *Orchestrator) removeChannel(connID string) {
	o.mu.Lock()
	delete(o.channels, connID)
	o.mu.Unlock()
}

// ActiveConnections reports the number of sessions currently held, used by
// the health endpoint's activeUsers field.
func (o *Orchestrator) ActiveConnections() int {
	return o.store.Count()
}

// UserMessage handles a user_message client event (spec §4.5).
func (o *Orchestrator) UserMessage(ctx context.Context, connID, text string) {
	o.store.AppendUserMessage(connID, text)
	o.store.SetUserMessagedSinceLastEndUpdate(connID, true)

	if ch, ok := o.getChannel(connID); ok && ch.IsLive() {
		_ = ch.SendMessageReceived(MessageReceivedEvent{
			ID:        uuid.NewString(),
			Text:      text,
			Sender:    "user",
			Timestamp: time.Now(),
		})
	}

	o.timers.CancelTypingGroup(connID)
	o.store.SetTyping(connID, false)
	o.store.SetShouldUseIdleTimer(connID, false)

	o.timers.CancelEndUpdate(connID)
	o.store.SetEndUpdateTimerActive(connID, false)

	if o.pacer.IsSending(connID) && !o.store.IsBufferComplete(connID) {
		o.interruptFlow(ctx, connID)
		return
	}
	o.regenerateNow(ctx, connID)
}

// TypingStatus handles a typing_status client event (spec §4.5).
func (o *Orchestrator) TypingStatus(connID string, isTyping bool) {
	if isTyping {
		o.timers.Cancel(connID, TimerTypingIdle)
		o.timers.Cancel(connID, TimerMaxTyping)
		o.timers.Cancel(connID, TimerGroupDelay)

		if o.timers.IsActive(connID, TimerEndUpdate) {
			o.timers.CancelEndUpdate(connID)
			o.store.SetShouldUseIdleTimer(connID, true)
		}

		o.timers.Set(connID, TimerMaxTyping, func() { o.onMaxTyping(connID) })
		o.store.SetTyping(connID, true)
		return
	}

	o.timers.Cancel(connID, TimerTypingIdle)
	o.timers.Cancel(connID, TimerMaxTyping)
	o.store.SetTyping(connID, false)

	if o.store.TypingState(connID).ShouldUseIdleTimer {
		o.timers.Set(connID, TimerTypingIdle, func() { o.onIdleRegenerate(connID) })
	}
}

// Stop handles a stop_ai_response client event: cancel all timers, stop the
// Pacer, mark the buffer complete, and emit ai_complete.
func (o *Orchestrator) Stop(connID string) {
	o.timers.CancelAll(connID)
	o.pacer.Stop(connID)
	o.store.MarkComplete(connID)

	if ch, ok := o.getChannel(connID); ok && ch.IsLive() {
		_ = ch.SendAIComplete(AICompleteEvent{})
	}
}

// EndChat handles an end_chat client event: Stop, then full Cleanup.
func (o *Orchestrator) EndChat(connID string) {
	o.Stop(connID)
	o.cleanup(connID)
}

// Disconnect handles a transport-level disconnect: Cleanup only, no
// client-visible emission is attempted since the channel is already gone.
func (o *Orchestrator) Disconnect(connID string) {
	o.cleanup(connID)
}

func (o *Orchestrator) cleanup(connID string) {
	o.timers.Cleanup(connID)
	o.pacer.Cleanup(connID)
	o.store.Clear(connID)
	o.removeChannel(connID)
}

// SetChatMode handles a set_chat_mode client event (spec §6, supplemented
// in SPEC_FULL.md): it switches the active prompt profile and, if an
// initial message was supplied, feeds it through the UserMessage path.
func (o *Orchestrator) SetChatMode(ctx context.Context, connID string, mode ChatMode, initialMessage string) error {
	if mode != ModeTarot && mode != ModeAstro {
		return ErrInvalidChatMode
	}
	o.store.SetMode(connID, mode)
	if initialMessage != "" {
		o.UserMessage(ctx, connID, initialMessage)
	}
	return nil
}

// interruptFlow is the mid-stream relevance-check sub-flow (spec §4.5).
func (o *Orchestrator) interruptFlow(ctx context.Context, connID string) {
	o.logger.Info("chat: buffer sending, running relevance check", "conn_id", connID)

	tail := o.store.HistorySnapshot(connID, historyTailSize)
	sent := o.store.SentBlocks(connID)
	pending := o.store.PendingBlocks(connID)

	relevant := o.llm.RelevanceCheck(ctx, tail, sent, pending)
	if !relevant {
		o.store.SetNeedsUpdate(connID, false)
		return
	}

	o.store.SetNeedsUpdate(connID, true)
	if o.store.IsCurrentGroupComplete(connID) {
		o.pacer.Stop(connID)
		o.groupDelayFlow(connID)
		return
	}
	o.store.SetWaitingForGroup(connID, true)
	// The pending group drains under the Pacer; onGroupComplete observes
	// needsUpdate && waitingForGroup and starts GroupDelayFlow itself.
}

// regenerateNow is the RegenerateNow sub-flow (spec §4.5).
func (o *Orchestrator) regenerateNow(ctx context.Context, connID string) {
	o.logger.Info("chat: generating response", "conn_id", connID)

	o.timers.CancelAll(connID)
	o.pacer.Stop(connID)

	history := o.store.HistorySnapshot(connID, 0)
	pending := o.store.PendingBlocks(connID)

	profileCtx := o.resolveProfile(ctx, connID)

	blocks, err := o.llm.GenerateBuffer(ctx, history, pending, profileCtx)
	if err != nil {
		o.logger.Error("chat: generation failed", "conn_id", connID, "error", err)
		if ch, ok := o.getChannel(connID); ok && ch.IsLive() {
			_ = ch.SendError(ErrorEvent{Message: "failed to generate response", Error: err.Error()})
		}
		o.store.MarkComplete(connID)
		return
	}

	ch, ok := o.getChannel(connID)
	if !ok || !ch.IsLive() {
		o.logger.Warn("chat: channel dead, dropping generated buffer", "conn_id", connID)
		return
	}

	o.store.InstallBuffer(connID, blocks)
	o.pacer.Start(connID, ch, o.onGroupComplete, o.onBufferComplete)
}

// resolveProfile fetches profile context for connID, non-fatally absorbing
// ProfileFetchFailed (spec §7) and de-duplicating concurrent fetches for
// the same connection with singleflight.
func (o *Orchestrator) resolveProfile(ctx context.Context, connID string) ProfileContext {
	mode := o.store.GetMode(connID)
	key := connID + "|" + string(mode)
	v, err, _ := o.profileFetch.Do(key, func() (any, error) {
		return o.profiles.Resolve(ctx, connID, mode)
	})
	if err != nil {
		o.logger.Warn("chat: profile fetch failed, continuing without profile context", "conn_id", connID, "error", err)
		return nil
	}
	profileCtx, _ := v.(ProfileContext)
	return profileCtx
}

// groupDelayFlow arms the 2s groupDelay settle timer (spec §4.5).
func (o *Orchestrator) groupDelayFlow(connID string) {
	o.timers.Set(connID, TimerGroupDelay, func() { o.onGroupDelayFire(connID) })
}

func (o *Orchestrator) onGroupDelayFire(connID string) {
	if o.store.TypingState(connID).IsTyping {
		o.store.SetShouldUseIdleTimer(connID, true)
		return
	}
	o.timers.Set(connID, TimerTypingIdle, func() { o.onIdleRegenerate(connID) })
}

// onIdleRegenerate runs when a typingIdle timer fires, whether armed from
// TypingStatus's else-branch or from GroupDelayFlow. Both paths regenerate
// without crediting the user with a new message (spec §4.5/§8 invariant 4).
func (o *Orchestrator) onIdleRegenerate(connID string) {
	o.store.SetShouldUseIdleTimer(connID, false)
	o.store.SetUserMessagedSinceLastEndUpdate(connID, false)
	o.regenerateNow(o.rootCtx, connID)
}

// onMaxTyping runs when the 30s maxTyping timer fires.
func (o *Orchestrator) onMaxTyping(connID string) {
	o.store.SetUserMessagedSinceLastEndUpdate(connID, false)
	o.regenerateNow(o.rootCtx, connID)
}

// onEndUpdateFire runs when the 25s post-completion follow-up timer fires.
func (o *Orchestrator) onEndUpdateFire(connID string) {
	o.store.SetEndUpdateTimerActive(connID, false)
	o.store.SetUserMessagedSinceLastEndUpdate(connID, false)
	o.regenerateNow(o.rootCtx, connID)
}

// onGroupComplete is the Pacer's group-boundary callback (spec §4.5). When
// the crossing also drains the buffer, onBufferComplete owns arming the
// settle timer; acting here too would re-arm it after the block's typing
// delay and stretch the settle window past the spec's fixed 2s.
func (o *Orchestrator) onGroupComplete(connID string, group int) {
	o.logger.Debug("chat: group complete", "conn_id", connID, "group", group)
	if o.store.IsBufferComplete(connID) {
		return
	}
	if o.store.NeedsUpdate(connID) && o.store.WaitingForGroup(connID) {
		o.store.SetWaitingForGroup(connID, false)
		o.groupDelayFlow(connID)
	}
}

// onBufferComplete is the Pacer's buffer-drained callback (spec §4.5).
func (o *Orchestrator) onBufferComplete(connID string) {
	if ch, ok := o.getChannel(connID); ok && ch.IsLive() {
		_ = ch.SendAIComplete(AICompleteEvent{})
	}

	if o.store.NeedsUpdate(connID) {
		o.groupDelayFlow(connID)
		return
	}
	if o.store.UserMessagedSinceLastEndUpdate(connID) {
		o.store.SetEndUpdateTimerActive(connID, true)
		o.timers.Set(connID, TimerEndUpdate, func() { o.onEndUpdateFire(connID) })
	}
}
