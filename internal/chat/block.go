// Package chat implements the conversation state machine and block-pacing
// orchestrator: session storage, named per-connection timers, the block
// pacer, and the event-driven orchestrator that ties them together.
package chat

import "errors"

// minBlockDelay is the floor applied to a block's typing time before pacing.
const minBlockDelay = 1000 // milliseconds

// ErrEmptyBlockText is returned when a Block is constructed with empty text.
var ErrEmptyBlockText = errors.New("chat: block text must not be empty")

// Block is an atomic emission unit produced by the LLM and paced to the
// client. Consecutive blocks sharing Group form an indivisible "thought";
// a relevance-triggered regeneration always waits for a group boundary
// before cutting over.
type Block struct {
	Text       string  `json:"text"`
	TypingTime float64 `json:"typingTime"` // seconds
	Group      int     `json:"group"`
}

// Validate checks the invariants GenerateBuffer's output must satisfy.
func (b Block) Validate() error {
	if b.Text == "" {
		return ErrEmptyBlockText
	}
	return nil
}

// DelayMillis returns the effective pacing delay for this block, clamped to
// a one-second minimum per §4.3 step 7.
func (b Block) DelayMillis() int64 {
	ms := int64(b.TypingTime * 1000)
	if ms < minBlockDelay {
		return minBlockDelay
	}
	return ms
}

// Buffer is an ordered sequence of Blocks plus a delivery cursor. It
// preserves the invariants of §3: 0 <= CurrentIndex <= len(Blocks); when the
// cursor reaches the end, IsComplete is true and CurrentGroup reports false;
// CurrentGroup always mirrors Blocks[CurrentIndex].Group while in range.
type Buffer struct {
	Blocks       []Block
	CurrentIndex int
	IsComplete   bool
	IsPaused     bool
}

// NewBuffer builds a Buffer positioned at its first block. An empty slice of
// blocks produces an already-complete buffer.
func NewBuffer(blocks []Block) Buffer {
	buf := Buffer{Blocks: blocks}
	buf.IsComplete = len(blocks) == 0
	return buf
}

// CurrentGroup returns the group of the block at the cursor, and whether the
// cursor is in range. It is the empty/false value once the buffer is
// exhausted, matching currentGroup == null in the spec.
func (b *Buffer) CurrentGroup() (int, bool) {
	if b.CurrentIndex >= len(b.Blocks) {
		return 0, false
	}
	return b.Blocks[b.CurrentIndex].Group, true
}

// Peek returns the block at the cursor without advancing it.
func (b *Buffer) Peek() (Block, bool) {
	if b.CurrentIndex >= len(b.Blocks) {
		return Block{}, false
	}
	return b.Blocks[b.CurrentIndex], true
}

// Advance moves the cursor past the block just emitted and updates
// IsComplete. It returns the block that was at the cursor before advancing.
func (b *Buffer) Advance() (Block, bool) {
	blk, ok := b.Peek()
	if !ok {
		return Block{}, false
	}
	b.CurrentIndex++
	if b.CurrentIndex >= len(b.Blocks) {
		b.IsComplete = true
	}
	return blk, true
}

// IsCurrentGroupComplete reports whether the group that was in flight has
// already fully drained at the cursor's current position: true once the
// buffer is exhausted, or once the cursor has crossed into a new group
// (the block just emitted belonged to a different group than the one now
// at the cursor). False while the cursor's block still shares the group of
// the block just emitted, meaning more of that group remains to be sent.
//
// Nothing has been emitted yet when the cursor sits at index 0 with the
// buffer non-empty; that can never itself be "a group that just finished",
// so it reports false.
func (b *Buffer) IsCurrentGroupComplete() bool {
	if b.CurrentIndex >= len(b.Blocks) {
		return true
	}
	if b.CurrentIndex == 0 {
		return false
	}
	return b.Blocks[b.CurrentIndex-1].Group != b.Blocks[b.CurrentIndex].Group
}

// Pending returns the blocks from the cursor onward, the "not yet sent"
// blocks carried forward into a regeneration call.
func (b *Buffer) Pending() []Block {
	if b.CurrentIndex >= len(b.Blocks) {
		return nil
	}
	out := make([]Block, len(b.Blocks)-b.CurrentIndex)
	copy(out, b.Blocks[b.CurrentIndex:])
	return out
}

// ForceComplete marks the buffer complete regardless of cursor position,
// used by Stop/EndChat.
func (b *Buffer) ForceComplete() {
	b.CurrentIndex = len(b.Blocks)
	b.IsComplete = true
}
