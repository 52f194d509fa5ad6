package chat

import (
	"log/slog"
	"sync"
	"time"
)

// OnGroupComplete is invoked when the block just advanced crosses a group
// boundary, including the transition into buffer exhaustion (§4.3 step 6).
type OnGroupComplete func(userID string, group int)

// OnBufferComplete is invoked once the buffer has no more blocks to emit.
type OnBufferComplete func(userID string)

// Observer receives pacing telemetry. Implementations must not block.
type Observer interface {
	BlockEmitted(userID string)
	GroupCompleted(userID string)
	BufferCompleted(userID string)
}

type noopObserver struct{}

func (noopObserver) BlockEmitted(string)     {}
func (noopObserver) GroupCompleted(string)   {}
func (noopObserver) BufferCompleted(string)  {}

// chain is the live emission state for one user: the channel it is paced
// over, the callbacks to invoke on group/buffer boundaries, and the pending
// timer for the next step. Only one chain may exist per user at a time;
// starting a new one implicitly cancels the prior chain's timer so it can
// never fire into a stale channel.
type chain struct {
	channel          DeliveryChannel
	onGroupComplete  OnGroupComplete
	onBufferComplete OnBufferComplete
	timer            *time.Timer
	pending          bool // a next-block firing is scheduled
}

// Pacer serializes blocks from a session's Buffer to its DeliveryChannel,
// honoring each block's typingTime, invoking callbacks on group
// transitions and final completion, and suspending on pause or interrupt.
// At most one emission chain is scheduled per user at any time.
type Pacer struct {
	store    *SessionStore
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	chains map[string]*chain
}

// NewPacer creates a Pacer backed by store. observer may be nil.
func NewPacer(store *SessionStore, observer Observer, logger *slog.Logger) *Pacer {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pacer{
		store:    store,
		observer: observer,
		logger:   logger,
		chains:   make(map[string]*chain),
	}
}

// Start validates the channel's liveness, resets the paused flag, and
// begins the emission loop. Any prior emission chain for userID is
// cancelled first.
func (p *Pacer) Start(userID string, channel DeliveryChannel, onGroupComplete OnGroupComplete, onBufferComplete OnBufferComplete) {
	p.mu.Lock()
	p.cancelChainLocked(userID)

	c := &chain{
		channel:          channel,
		onGroupComplete:  onGroupComplete,
		onBufferComplete: onBufferComplete,
	}
	p.chains[userID] = c
	p.mu.Unlock()

	p.store.Resume(userID)
	p.step(userID)
}

// Stop cancels the scheduled next-block firing for userID; no further
// callbacks fire for the cancelled chain.
func (p *Pacer) Stop(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelChainLocked(userID)
}

func (p *Pacer) cancelChainLocked(userID string) {
	if c, ok := p.chains[userID]; ok {
		if c.timer != nil {
			c.timer.Stop()
		}
		delete(p.chains, userID)
	}
}

// Pause cancels the scheduled next-block firing and marks the buffer
// paused; Resume restarts the loop from where it left off.
func (p *Pacer) Pause(userID string) {
	p.mu.Lock()
	if c, ok := p.chains[userID]; ok && c.timer != nil {
		c.timer.Stop()
		c.pending = false
	}
	p.mu.Unlock()
	p.store.Pause(userID)
}

// Resume clears the paused flag and, if the buffer had been paused,
// restarts the emission loop using the existing chain's channel and
// callbacks.
func (p *Pacer) Resume(userID string) {
	was := p.store.Resume(userID)
	if !was {
		return
	}
	p.mu.Lock()
	_, ok := p.chains[userID]
	p.mu.Unlock()
	if ok {
		p.step(userID)
	}
}

// IsSending reports whether a next-block firing is pending for userID.
func (p *Pacer) IsSending(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chains[userID]
	return ok && c.pending
}

// Cleanup stops the chain and releases the channel reference for userID.
func (p *Pacer) Cleanup(userID string) {
	p.Stop(userID)
}

// step implements the between-block decision procedure of §4.3.
func (p *Pacer) step(userID string) {
	p.mu.Lock()
	c, ok := p.chains[userID]
	if ok {
		c.pending = false
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	// 1. Channel liveness.
	if !c.channel.IsLive() {
		p.Stop(userID)
		return
	}

	// 2. Paused: do nothing, Resume will restart.
	if p.store.IsPaused(userID) {
		return
	}

	// 3. Orchestrator-requested clean interrupt: release the loop without
	// firing callbacks. The Orchestrator owns what happens next.
	if p.store.NeedsUpdate(userID) && !p.store.WaitingForGroup(userID) {
		p.mu.Lock()
		p.cancelChainLocked(userID)
		p.mu.Unlock()
		return
	}

	// 4. No next block: buffer complete.
	blk, has := p.store.PeekNextBlock(userID)
	if !has {
		p.observer.BufferCompleted(userID)
		cb := c.onBufferComplete
		p.mu.Lock()
		p.cancelChainLocked(userID)
		p.mu.Unlock()
		if cb != nil {
			cb(userID)
		}
		return
	}

	// 5. Emit the block and append it to model history.
	if err := c.channel.SendAIBlock(AIBlockEvent{Text: blk.Text, Group: blk.Group, Timestamp: time.Now()}); err != nil {
		p.logger.Warn("pacer: emit failed, stopping chain", "conn_id", userID, "error", err)
		p.Stop(userID)
		return
	}
	p.store.AppendModelText(userID, blk.Text)
	p.observer.BlockEmitted(userID)

	// 6. Advance the cursor; fire onGroupComplete on a boundary crossing,
	// including the final group's completion.
	_, previousGroup, hadPrevious, newGroup, hasNew := p.store.AdvanceCursor(userID)
	crossedBoundary := hadPrevious && (!hasNew || previousGroup != newGroup)
	if crossedBoundary {
		p.observer.GroupCompleted(userID)
		if c.onGroupComplete != nil {
			c.onGroupComplete(userID, previousGroup)
		}
	}

	// 7. Schedule the next step after the clamped typing delay.
	delay := time.Duration(blk.DelayMillis()) * time.Millisecond
	p.mu.Lock()
	if c, ok := p.chains[userID]; ok {
		c.pending = true
		c.timer = time.AfterFunc(delay, func() { p.step(userID) })
	}
	p.mu.Unlock()
}
