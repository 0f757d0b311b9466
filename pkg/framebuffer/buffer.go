// Package framebuffer keeps a bounded FIFO of recent media frames per
// (group, participant) key so a reconnecting client can replay what it
// missed. It knows nothing about session state; the continuity tracker
// decides when an entry dies.
package framebuffer

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtc-continuity/entities"
	"rtc-continuity/pkg/metrics"
)

type Options struct {
	MaxFrames     int
	MaxBytes      int64
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

const (
	DefaultMaxFrames     = 60
	DefaultMaxBytes      = 10 * 1024 * 1024
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

type Buffer struct {
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// entry guards one key's queue. The map lock is only held to look the
// entry up, so appends on different keys never block each other.
type entry struct {
	mu         sync.Mutex
	frames     []entities.Frame
	bytes      int64
	lastSeq    uint64
	lastAccess time.Time
}

func New(opts Options, log zerolog.Logger) *Buffer {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = DefaultMaxFrames
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Buffer{
		opts:    opts,
		log:     log,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

func key(groupId, participantId string) string {
	return groupId + ":" + participantId
}

// Append stores payload under the key's next sequence number and returns
// it. Oldest frames are evicted first until the byte budget admits the new
// frame, then the queue is trimmed to the frame-count limit. A single
// frame larger than the whole budget evicts everything else and is still
// admitted; overflow is never an error.
func (b *Buffer) Append(groupId, participantId string, payload []byte, timestampMs int64) uint64 {
	e := b.getOrCreate(key(groupId, participantId))

	p := make([]byte, len(payload))
	copy(p, payload)
	size := int64(len(p))

	e.mu.Lock()
	defer e.mu.Unlock()

	var evictedFrames int
	var evictedBytes int64
	for len(e.frames) > 0 && e.bytes+size > b.opts.MaxBytes {
		evictedBytes += int64(len(e.frames[0].Payload))
		e.bytes -= int64(len(e.frames[0].Payload))
		e.frames = e.frames[1:]
		evictedFrames++
	}

	e.lastSeq++
	seq := e.lastSeq
	e.frames = append(e.frames, entities.Frame{Sequence: seq, Payload: p, Timestamp: timestampMs})
	e.bytes += size

	for len(e.frames) > b.opts.MaxFrames {
		evictedBytes += int64(len(e.frames[0].Payload))
		e.bytes -= int64(len(e.frames[0].Payload))
		e.frames = e.frames[1:]
		evictedFrames++
	}

	e.lastAccess = b.now()

	metrics.FramesAppended.Inc()
	if evictedFrames > 0 {
		metrics.FramesEvicted.Add(float64(evictedFrames))
	}
	metrics.BufferedBytes.Add(float64(size - evictedBytes))

	return seq
}

// Frames returns, in order, the buffered frames with sequence >= fromSeq.
// An empty result means the range is not replayable at that granularity;
// callers fall back to LastFrames.
func (b *Buffer) Frames(groupId, participantId string, fromSeq uint64) []entities.Frame {
	e := b.get(key(groupId, participantId))
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAccess = b.now()

	idx := sort.Search(len(e.frames), func(i int) bool {
		return e.frames[i].Sequence >= fromSeq
	})
	if idx == len(e.frames) {
		return nil
	}
	out := make([]entities.Frame, len(e.frames)-idx)
	copy(out, e.frames[idx:])
	return out
}

// LastFrames returns up to the most recent count frames in order.
func (b *Buffer) LastFrames(groupId, participantId string, count int) []entities.Frame {
	e := b.get(key(groupId, participantId))
	if e == nil || count <= 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAccess = b.now()

	if count > len(e.frames) {
		count = len(e.frames)
	}
	if count == 0 {
		return nil
	}
	out := make([]entities.Frame, count)
	copy(out, e.frames[len(e.frames)-count:])
	return out
}

// Replay returns the entire current buffer contents in order.
func (b *Buffer) Replay(groupId, participantId string) []entities.Frame {
	e := b.get(key(groupId, participantId))
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAccess = b.now()

	if len(e.frames) == 0 {
		return nil
	}
	out := make([]entities.Frame, len(e.frames))
	copy(out, e.frames)
	return out
}

// Clear evicts one entry. Idempotent.
func (b *Buffer) Clear(groupId, participantId string) {
	b.mu.Lock()
	k := key(groupId, participantId)
	e, ok := b.entries[k]
	if ok {
		delete(b.entries, k)
	}
	b.mu.Unlock()

	if ok {
		b.release(e)
	}
}

// ClearGroup evicts every entry belonging to the group. Idempotent.
func (b *Buffer) ClearGroup(groupId string) {
	prefix := groupId + ":"

	b.mu.Lock()
	var removed []*entry
	for k, e := range b.entries {
		if strings.HasPrefix(k, prefix) {
			removed = append(removed, e)
			delete(b.entries, k)
		}
	}
	b.mu.Unlock()

	for _, e := range removed {
		b.release(e)
	}
}

// Status reports the entry's frame count, byte size and last assigned
// sequence number; ok is false when no entry exists.
func (b *Buffer) Status(groupId, participantId string) (entities.BufferStatus, bool) {
	e := b.get(key(groupId, participantId))
	if e == nil {
		return entities.BufferStatus{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return entities.BufferStatus{
		FrameCount:   len(e.frames),
		TotalBytes:   e.bytes,
		LastSequence: e.lastSeq,
	}, true
}

// Start runs the orphan sweep until ctx is cancelled. The sweep is a
// safety net for entries whose owning session was never cleaned up.
func (b *Buffer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (b *Buffer) sweep() {
	cutoff := b.now().Add(-b.opts.IdleTimeout)

	b.mu.RLock()
	var candidates []string
	for k, e := range b.entries {
		e.mu.Lock()
		stale := e.lastAccess.Before(cutoff)
		e.mu.Unlock()
		if stale {
			candidates = append(candidates, k)
		}
	}
	b.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	removed := 0
	for _, k := range candidates {
		b.mu.Lock()
		e, ok := b.entries[k]
		if ok {
			// Re-validate: the entry may have been touched since the scan.
			e.mu.Lock()
			stale := e.lastAccess.Before(cutoff)
			e.mu.Unlock()
			if stale {
				delete(b.entries, k)
			} else {
				ok = false
			}
		}
		b.mu.Unlock()
		if ok {
			b.release(e)
			removed++
		}
	}

	if removed > 0 {
		b.log.Debug().Int("entries", removed).Msg("frame buffer sweep removed idle entries")
	}
}

func (b *Buffer) release(e *entry) {
	e.mu.Lock()
	metrics.BufferedBytes.Sub(float64(e.bytes))
	e.frames = nil
	e.bytes = 0
	e.mu.Unlock()
	metrics.BufferEntries.Dec()
}

func (b *Buffer) get(k string) *entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.entries[k]
}

func (b *Buffer) getOrCreate(k string) *entry {
	b.mu.RLock()
	e := b.entries[k]
	b.mu.RUnlock()
	if e != nil {
		return e
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e = b.entries[k]; e != nil {
		return e
	}
	e = &entry{lastAccess: b.now()}
	b.entries[k] = e
	metrics.BufferEntries.Inc()
	return e
}
