package aggregator

import (
	"sync"
	"time"
)

// Block is one published audio block. Samples must not be modified once the
// block has been published.
type Block struct {
	Seq        uint64    // Monotonic publish counter, starts at 1
	Samples    []float64 // Normalised mono samples
	ReceivedAt time.Time
}

// BlockBuffer holds the most recent audio block written by a capture callback.
//
// It is a single slot: every Write replaces the previous block whether or not it
// was read. Write copies the frames before taking the lock and only swaps a
// pointer under it, so readers never observe a partially written block and the
// writer never waits on a slow reader.
type BlockBuffer struct {
	mu      sync.RWMutex
	latest  *Block
	seq     uint64
	dropped uint64 // Blocks overwritten before anyone read them
	read    uint64 // Seq of the last block returned by Latest
}

// NewBlockBuffer creates an empty block buffer
func NewBlockBuffer() *BlockBuffer {
	return &BlockBuffer{}
}

// Write publishes a copy of frames as the newest block
func (b *BlockBuffer) Write(frames []float32) uint64 {
	samples := make([]float64, len(frames))
	for i, f := range frames {
		samples[i] = float64(f)
	}
	return b.publish(samples)
}

// WriteSamples publishes a copy of samples as the newest block
func (b *BlockBuffer) WriteSamples(samples []float64) uint64 {
	owned := make([]float64, len(samples))
	copy(owned, samples)
	return b.publish(owned)
}

func (b *BlockBuffer) publish(samples []float64) uint64 {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latest != nil && b.latest.Seq > b.read {
		b.dropped++
	}
	b.seq++
	b.latest = &Block{Seq: b.seq, Samples: samples, ReceivedAt: now}
	return b.seq
}

// Latest returns the newest block. ok is false until the first Write.
func (b *BlockBuffer) Latest() (Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latest == nil {
		return Block{}, false
	}
	if b.latest.Seq > b.read {
		b.read = b.latest.Seq
	}
	return *b.latest, true
}

// Peek returns the newest block without marking it read, so it does not
// affect the Dropped count
func (b *BlockBuffer) Peek() (Block, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.latest == nil {
		return Block{}, false
	}
	return *b.latest, true
}

// Seq returns the sequence number of the newest block (0 when empty)
func (b *BlockBuffer) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Dropped returns how many blocks were overwritten without being read
func (b *BlockBuffer) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Reset empties the slot
func (b *BlockBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = nil
	b.read = b.seq
}
