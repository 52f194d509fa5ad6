package chat

import (
	"sync"
	"time"
)

// ChatMode selects the active prompt profile for a session (spec §6
// set_chat_mode). The distilled spec names these two values; anything else
// is rejected by the Orchestrator.
type ChatMode string

const (
	ModeTarot ChatMode = "tarot"
	ModeAstro ChatMode = "astro"
)

// Session is the aggregate per-connection state: conversation history, the
// current delivery buffer, typing state, update-check state, and
// end-update state. A Session is exclusively owned by the Orchestrator for
// its connection id; the Pacer borrows Buffer and append-only History
// access through the SessionStore.
type Session struct {
	mu sync.Mutex

	ID      string
	Mode    ChatMode
	History []HistoryEntry
	Buffer  Buffer
	Typing  TypingState
	Update  UpdateCheckState
	End     EndUpdateState
}

func newSession(id string) *Session {
	return &Session{
		ID:     id,
		Mode:   ModeAmazing(),
		Buffer: NewBuffer(nil),
	}
}

// ModeAmazing is the default chat mode before set_chat_mode selects one of
// the enumerated profiles; it deliberately isn't one of the two named
// profiles so the Orchestrator can tell "never switched" apart from them.
func ModeAmazing() ChatMode { return ChatMode("") }

// SessionStore is a process-wide map from connection id to Session, with
// lazy creation on first access and explicit deletion on disconnect/end
// chat. Operations are atomic at single-session granularity; concurrent
// mutation of two different sessions never blocks on each other.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for id, creating it lazily if absent.
func (s *SessionStore) GetOrCreate(id string) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess = newSession(id)
	s.sessions[id] = sess
	return sess
}

// Get returns the session for id without creating it.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Clear removes the session for id, releasing its state entirely.
func (s *SessionStore) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Count returns the number of live sessions, used by the health endpoint's
// activeUsers field.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// AppendUserMessage appends a user turn to history. It does not touch the
// userMessagedSinceLastEndUpdate gate; callers set that separately.
func (s *SessionStore) AppendUserMessage(id, text string) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.History = append(sess.History, HistoryEntry{Role: RoleUser, Content: text, Timestamp: time.Now()})
}

// AppendModelText appends a model turn to history; called once per block
// emitted by the Pacer.
func (s *SessionStore) AppendModelText(id, text string) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.History = append(sess.History, HistoryEntry{Role: RoleModel, Content: text, Timestamp: time.Now()})
}

// HistorySnapshot returns a copy of the session's history. If tail > 0, only
// the last tail entries are returned.
func (s *SessionStore) HistorySnapshot(id string, tail int) []HistoryEntry {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	h := sess.History
	if tail > 0 && len(h) > tail {
		h = h[len(h)-tail:]
	}
	out := make([]HistoryEntry, len(h))
	copy(out, h)
	return out
}

// InstallBuffer replaces the session's buffer with a freshly generated one,
// positioned at cursor 0, and clears the update-check flags (RegenerateNow
// step 6).
func (s *SessionStore) InstallBuffer(id string, blocks []Block) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Buffer = NewBuffer(blocks)
	sess.Update.NeedsUpdate = false
	sess.Update.WaitingForGroup = false
}

// PeekNextBlock returns the block at the cursor without advancing it.
func (s *SessionStore) PeekNextBlock(id string) (Block, bool) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Buffer.Peek()
}

// AdvanceCursor advances the buffer cursor past the block just emitted and
// returns the block consumed, the previous group, and the new group (ok
// false if the new cursor is exhausted).
func (s *SessionStore) AdvanceCursor(id string) (blk Block, previousGroup int, hadPrevious bool, newGroup int, hasNew bool) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	previousGroup, hadPrevious = sess.Buffer.CurrentGroup()
	blk, _ = sess.Buffer.Advance()
	newGroup, hasNew = sess.Buffer.CurrentGroup()
	return blk, previousGroup, hadPrevious, newGroup, hasNew
}

// CurrentGroup returns the buffer's current group.
func (s *SessionStore) CurrentGroup(id string) (int, bool) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Buffer.CurrentGroup()
}

// IsCurrentGroupComplete reports whether the in-flight group has drained.
func (s *SessionStore) IsCurrentGroupComplete(id string) bool {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Buffer.IsCurrentGroupComplete()
}

// SentBlocks returns the blocks already emitted from the current buffer,
// i.e. everything before the cursor.
func (s *SessionStore) SentBlocks(id string) []Block {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	n := sess.Buffer.CurrentIndex
	if n > len(sess.Buffer.Blocks) {
		n = len(sess.Buffer.Blocks)
	}
	out := make([]Block, n)
	copy(out, sess.Buffer.Blocks[:n])
	return out
}

// PendingBlocks returns the not-yet-sent blocks from the cursor onward.
func (s *SessionStore) PendingBlocks(id string) []Block {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Buffer.Pending()
}

// MarkComplete forcibly terminates the buffer (Stop/EndChat).
func (s *SessionStore) MarkComplete(id string) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Buffer.ForceComplete()
}

// IsBufferComplete reports whether the buffer is drained or forcibly ended.
func (s *SessionStore) IsBufferComplete(id string) bool {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Buffer.IsComplete
}

// Pause marks the buffer paused.
func (s *SessionStore) Pause(id string) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Buffer.IsPaused = true
}

// Resume clears the buffer's paused flag and reports whether it had been
// paused.
func (s *SessionStore) Resume(id string) bool {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	was := sess.Buffer.IsPaused
	sess.Buffer.IsPaused = false
	return was
}

// IsPaused reports the buffer's paused flag.
func (s *SessionStore) IsPaused(id string) bool {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Buffer.IsPaused
}

// TypingState returns a copy of the session's typing state.
func (s *SessionStore) TypingState(id string) TypingState {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Typing
}

// SetTyping updates IsTyping and LastTypingTime.
func (s *SessionStore) SetTyping(id string, isTyping bool) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Typing.IsTyping = isTyping
	sess.Typing.LastTypingTime = time.Now()
}

// SetShouldUseIdleTimer enables or disables the idle-timer gate.
func (s *SessionStore) SetShouldUseIdleTimer(id string, v bool) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Typing.ShouldUseIdleTimer = v
}

// NeedsUpdate returns the update-check's needsUpdate flag.
func (s *SessionStore) NeedsUpdate(id string) bool {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Update.NeedsUpdate
}

// SetNeedsUpdate sets the update-check's needsUpdate flag and records the
// check time.
func (s *SessionStore) SetNeedsUpdate(id string, v bool) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Update.NeedsUpdate = v
	sess.Update.LastCheckTime = time.Now()
}

// WaitingForGroup returns the update-check's waitingForGroup flag.
func (s *SessionStore) WaitingForGroup(id string) bool {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Update.WaitingForGroup
}

// SetWaitingForGroup sets the update-check's waitingForGroup flag.
func (s *SessionStore) SetWaitingForGroup(id string, v bool) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Update.WaitingForGroup = v
}

// EndUpdateTimerActive returns the end-update timer's active flag.
func (s *SessionStore) EndUpdateTimerActive(id string) bool {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.End.TimerActive
}

// SetEndUpdateTimerActive sets the end-update timer's active flag.
func (s *SessionStore) SetEndUpdateTimerActive(id string, v bool) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.End.TimerActive = v
	if v {
		sess.End.TimerStartTime = time.Now()
	}
}

// UserMessagedSinceLastEndUpdate returns the gate flag that prevents
// infinite self-talk.
func (s *SessionStore) UserMessagedSinceLastEndUpdate(id string) bool {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.End.UserMessagedSinceLastEndUpdate
}

// SetUserMessagedSinceLastEndUpdate sets the gate flag.
func (s *SessionStore) SetUserMessagedSinceLastEndUpdate(id string, v bool) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.End.UserMessagedSinceLastEndUpdate = v
}

// SetMode sets the session's active chat mode (spec §6 set_chat_mode).
func (s *SessionStore) SetMode(id string, mode ChatMode) {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.Mode = mode
}

// GetMode returns the session's active chat mode.
func (s *SessionStore) GetMode(id string) ChatMode {
	sess := s.GetOrCreate(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.Mode
}
