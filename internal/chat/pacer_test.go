package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel is a DeliveryChannel test double recording every emitted
// AIBlockEvent and optionally reporting itself as dead.
type fakeChannel struct {
	mu     sync.Mutex
	live   bool
	blocks []AIBlockEvent
	errs   []ErrorEvent
	done   int

	received int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{live: true}
}

func (f *fakeChannel) IsLive() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.live }

func (f *fakeChannel) SendMessageReceived(MessageReceivedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received++
	return nil
}

func (f *fakeChannel) SendAIBlock(evt AIBlockEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, evt)
	return nil
}

func (f *fakeChannel) SendAIComplete(AICompleteEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done++
	return nil
}

func (f *fakeChannel) SendError(evt ErrorEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, evt)
	return nil
}

func (f *fakeChannel) setLive(v bool) { f.mu.Lock(); f.live = v; f.mu.Unlock() }

func (f *fakeChannel) blockCount() int { f.mu.Lock(); defer f.mu.Unlock(); return len(f.blocks) }

var _ DeliveryChannel = (*fakeChannel)(nil)

// fakeObserver records pacing telemetry calls.
type fakeObserver struct {
	mu      sync.Mutex
	blocks  int
	groups  int
	buffers int
}

func (o *fakeObserver) BlockEmitted(string)    { o.mu.Lock(); o.blocks++; o.mu.Unlock() }
func (o *fakeObserver) GroupCompleted(string)  { o.mu.Lock(); o.groups++; o.mu.Unlock() }
func (o *fakeObserver) BufferCompleted(string) { o.mu.Lock(); o.buffers++; o.mu.Unlock() }

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestPacerEmitsAllBlocksThenCompletes(t *testing.T) {
	store := NewSessionStore()
	observer := &fakeObserver{}
	pacer := NewPacer(store, observer, nil)

	store.InstallBuffer("conn-1", []Block{
		{Text: "a", Group: 1, TypingTime: 0},
		{Text: "b", Group: 1, TypingTime: 0},
		{Text: "c", Group: 2, TypingTime: 0},
	})

	ch := newFakeChannel()
	var completed int32
	var mu sync.Mutex
	var groupsSeen []int

	pacer.Start("conn-1", ch,
		func(userID string, group int) {
			mu.Lock()
			groupsSeen = append(groupsSeen, group)
			mu.Unlock()
		},
		func(userID string) {
			mu.Lock()
			completed++
			mu.Unlock()
		},
	)

	waitUntil(t, 5*time.Second, func() bool { return ch.blockCount() == 3 })
	// Buffer completion is reported on the step after the last block's
	// clamped one-second delay, not together with the last emission.
	waitUntil(t, 5*time.Second, func() bool { mu.Lock(); defer mu.Unlock(); return completed == 1 })

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, groupsSeen, 2)
	assert.Equal(t, 1, groupsSeen[0])
	assert.Equal(t, 2, groupsSeen[1])
	assert.Equal(t, int32(1), completed)
	assert.Equal(t, 2, observer.groups)
	assert.Equal(t, 1, observer.buffers)
	assert.Equal(t, 3, observer.blocks)

	h := store.HistorySnapshot("conn-1", 0)
	require.Len(t, h, 3)
	assert.Equal(t, RoleModel, h[0].Role)
}

func TestPacerStopsOnDeadChannel(t *testing.T) {
	store := NewSessionStore()
	pacer := NewPacer(store, nil, nil)

	store.InstallBuffer("conn-1", []Block{{Text: "a", TypingTime: 0}, {Text: "b", TypingTime: 0}})

	ch := newFakeChannel()
	ch.setLive(false)

	pacer.Start("conn-1", ch, nil, nil)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, ch.blockCount())
	assert.False(t, pacer.IsSending("conn-1"))
}

func TestPacerStop(t *testing.T) {
	store := NewSessionStore()
	pacer := NewPacer(store, nil, nil)

	store.InstallBuffer("conn-1", []Block{{Text: "a", TypingTime: 5}, {Text: "b", TypingTime: 5}})
	ch := newFakeChannel()
	pacer.Start("conn-1", ch, nil, nil)

	waitUntil(t, time.Second, func() bool { return ch.blockCount() == 1 })
	pacer.Stop("conn-1")
	assert.False(t, pacer.IsSending("conn-1"))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, ch.blockCount())
}

func TestPacerPauseResume(t *testing.T) {
	store := NewSessionStore()
	pacer := NewPacer(store, nil, nil)

	store.InstallBuffer("conn-1", []Block{{Text: "a", TypingTime: 0}, {Text: "b", TypingTime: 0}})
	ch := newFakeChannel()
	pacer.Start("conn-1", ch, nil, nil)

	waitUntil(t, time.Second, func() bool { return ch.blockCount() == 1 })
	pacer.Pause("conn-1")
	assert.True(t, store.IsPaused("conn-1"))

	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, 1, ch.blockCount(), "no further blocks should emit while paused")

	pacer.Resume("conn-1")
	waitUntil(t, time.Second, func() bool { return ch.blockCount() == 2 })
}

func TestPacerNeedsUpdateInterruptsBetweenGroups(t *testing.T) {
	store := NewSessionStore()
	pacer := NewPacer(store, nil, nil)

	store.InstallBuffer("conn-1", []Block{
		{Text: "a", Group: 1, TypingTime: 0},
		{Text: "b", Group: 2, TypingTime: 0},
	})
	ch := newFakeChannel()

	var bufferCompleteCalled bool
	pacer.Start("conn-1", ch, func(string, int) {
		store.SetNeedsUpdate("conn-1", true)
	}, func(string) { bufferCompleteCalled = true })

	waitUntil(t, time.Second, func() bool { return ch.blockCount() == 1 })

	time.Sleep(1300 * time.Millisecond)
	assert.Equal(t, 1, ch.blockCount(), "pacer must release the loop once needsUpdate is set without waitingForGroup")
	assert.False(t, bufferCompleteCalled)
	assert.False(t, pacer.IsSending("conn-1"))
}

func TestPacerIsSending(t *testing.T) {
	store := NewSessionStore()
	pacer := NewPacer(store, nil, nil)
	assert.False(t, pacer.IsSending("conn-1"))

	store.InstallBuffer("conn-1", []Block{{Text: "a", TypingTime: 5}})
	ch := newFakeChannel()
	pacer.Start("conn-1", ch, nil, nil)

	waitUntil(t, time.Second, func() bool { return pacer.IsSending("conn-1") })
}
