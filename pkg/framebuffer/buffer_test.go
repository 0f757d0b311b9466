package framebuffer

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(opts Options) *Buffer {
	return New(opts, zerolog.Nop())
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	b := newTestBuffer(Options{})

	for i := 1; i <= 5; i++ {
		seq := b.Append("g1", "alice", []byte("frame"), int64(i))
		require.Equal(t, uint64(i), seq)
	}

	status, ok := b.Status("g1", "alice")
	require.True(t, ok)
	require.Equal(t, 5, status.FrameCount)
	require.Equal(t, uint64(5), status.LastSequence)
}

func TestSequencesIndependentPerKey(t *testing.T) {
	b := newTestBuffer(Options{})

	require.Equal(t, uint64(1), b.Append("g1", "alice", []byte("a"), 0))
	require.Equal(t, uint64(1), b.Append("g1", "bob", []byte("b"), 0))
	require.Equal(t, uint64(2), b.Append("g1", "alice", []byte("c"), 0))
}

func TestFrameCountLimitTrimsHead(t *testing.T) {
	b := newTestBuffer(Options{MaxFrames: 3})

	for i := 0; i < 5; i++ {
		b.Append("g1", "alice", []byte("x"), int64(i))
	}

	frames := b.Replay("g1", "alice")
	require.Len(t, frames, 3)
	require.Equal(t, uint64(3), frames[0].Sequence)
	require.Equal(t, uint64(5), frames[2].Sequence)
}

func TestByteLimitEvictsOldestFirst(t *testing.T) {
	b := newTestBuffer(Options{MaxBytes: 10})

	b.Append("g1", "alice", []byte("aaaa"), 0)
	b.Append("g1", "alice", []byte("bbbb"), 0)
	b.Append("g1", "alice", []byte("cccc"), 0)

	status, ok := b.Status("g1", "alice")
	require.True(t, ok)
	require.LessOrEqual(t, status.TotalBytes, int64(10))

	frames := b.Replay("g1", "alice")
	require.Len(t, frames, 2)
	require.Equal(t, uint64(2), frames[0].Sequence)
	require.Equal(t, uint64(3), frames[1].Sequence)
}

func TestOversizedFrameEvictsEntireBuffer(t *testing.T) {
	b := newTestBuffer(Options{MaxBytes: 10})

	b.Append("g1", "alice", []byte("aaaa"), 0)
	b.Append("g1", "alice", []byte("bbbb"), 0)
	b.Append("g1", "alice", make([]byte, 100), 0)

	frames := b.Replay("g1", "alice")
	require.Len(t, frames, 1)
	require.Equal(t, uint64(3), frames[0].Sequence)
	require.Len(t, frames[0].Payload, 100)
}

func TestBoundedBufferInvariant(t *testing.T) {
	b := newTestBuffer(Options{MaxFrames: 60, MaxBytes: 10 * 1024 * 1024})

	for i := 0; i < 200; i++ {
		b.Append("g1", "alice", make([]byte, 256*1024), int64(i))

		status, ok := b.Status("g1", "alice")
		require.True(t, ok)
		require.LessOrEqual(t, status.FrameCount, 60)
		require.LessOrEqual(t, status.TotalBytes, int64(10*1024*1024))
	}
}

func TestFramesFromSequence(t *testing.T) {
	b := newTestBuffer(Options{})
	for i := 0; i < 10; i++ {
		b.Append("g1", "alice", []byte(fmt.Sprintf("f%d", i)), int64(i))
	}

	frames := b.Frames("g1", "alice", 4)
	require.Len(t, frames, 7)
	for i, f := range frames {
		require.Equal(t, uint64(4+i), f.Sequence)
	}

	require.Empty(t, b.Frames("g1", "alice", 11))
	require.Empty(t, b.Frames("g1", "nobody", 1))
}

func TestLastFrames(t *testing.T) {
	b := newTestBuffer(Options{})
	for i := 0; i < 5; i++ {
		b.Append("g1", "alice", []byte("x"), int64(i))
	}

	frames := b.LastFrames("g1", "alice", 3)
	require.Len(t, frames, 3)
	require.Equal(t, uint64(3), frames[0].Sequence)
	require.Equal(t, uint64(5), frames[2].Sequence)

	require.Len(t, b.LastFrames("g1", "alice", 10), 5)
	require.Empty(t, b.LastFrames("g1", "nobody", 3))
	require.Empty(t, b.LastFrames("g1", "alice", 0))
}

func TestClearIsIdempotent(t *testing.T) {
	b := newTestBuffer(Options{})
	b.Append("g1", "alice", []byte("x"), 0)

	b.Clear("g1", "alice")
	b.Clear("g1", "alice")

	_, ok := b.Status("g1", "alice")
	require.False(t, ok)
	require.Empty(t, b.Replay("g1", "alice"))
}

func TestClearGroup(t *testing.T) {
	b := newTestBuffer(Options{})
	b.Append("g1", "alice", []byte("x"), 0)
	b.Append("g1", "bob", []byte("x"), 0)
	b.Append("g2", "carol", []byte("x"), 0)

	b.ClearGroup("g1")

	_, ok := b.Status("g1", "alice")
	require.False(t, ok)
	_, ok = b.Status("g1", "bob")
	require.False(t, ok)
	_, ok = b.Status("g2", "carol")
	require.True(t, ok)
}

func TestConcurrentAppendSafety(t *testing.T) {
	const workers = 8
	const perWorker = 20

	b := newTestBuffer(Options{MaxFrames: 60, MaxBytes: 10 * 1024 * 1024})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				b.Append("g1", "alice", []byte("frame"), 0)
			}
		}()
	}
	wg.Wait()

	status, ok := b.Status("g1", "alice")
	require.True(t, ok)
	require.Equal(t, 60, status.FrameCount)
	require.Equal(t, uint64(workers*perWorker), status.LastSequence)

	// The resident frames are the contiguous tail of highest sequences.
	frames := b.Replay("g1", "alice")
	require.Len(t, frames, 60)
	require.Equal(t, uint64(workers*perWorker-59), frames[0].Sequence)
	for i := 1; i < len(frames); i++ {
		require.Equal(t, frames[i-1].Sequence+1, frames[i].Sequence)
	}
}

func TestSweepRemovesIdleEntries(t *testing.T) {
	b := newTestBuffer(Options{IdleTimeout: 5 * time.Minute})

	now := time.Now()
	b.now = func() time.Time { return now }

	b.Append("g1", "alice", []byte("x"), 0)
	b.Append("g1", "bob", []byte("x"), 0)

	now = now.Add(6 * time.Minute)
	b.Append("g1", "bob", []byte("y"), 0)
	b.sweep()

	_, ok := b.Status("g1", "alice")
	require.False(t, ok)
	_, ok = b.Status("g1", "bob")
	require.True(t, ok)
}

func TestReadsRefreshIdleClock(t *testing.T) {
	b := newTestBuffer(Options{IdleTimeout: 5 * time.Minute})

	now := time.Now()
	b.now = func() time.Time { return now }

	b.Append("g1", "alice", []byte("x"), 0)

	now = now.Add(4 * time.Minute)
	b.Replay("g1", "alice")

	now = now.Add(4 * time.Minute)
	b.sweep()

	_, ok := b.Status("g1", "alice")
	require.True(t, ok)
}

func TestAppendCopiesPayload(t *testing.T) {
	b := newTestBuffer(Options{})

	payload := []byte("mutate-me")
	b.Append("g1", "alice", payload, 0)
	payload[0] = 'X'

	frames := b.Replay("g1", "alice")
	require.Equal(t, []byte("mutate-me"), frames[0].Payload)
}
