// Package cycler turns a finite record set into an endless, restartable
// sequence of fixed-size batches.
//
// The cursor walks the owned sequence circularly. Every time it sits at
// index 0 before a read (the very first read included) the sequence is
// reshuffled in place, so each record is visited exactly once per pass of N
// records. A batch may straddle the wrap and mix records from two orderings.
package cycler

import (
	"iter"
	"math/rand/v2"
	"sync"

	"github.com/nvr-ai/go-ml-train/annotations"
)

// Cycler hands out batches of batchSize items forever.
type Cycler[T any] struct {
	mu        sync.Mutex
	items     []T
	batchSize int
	cursor    int
	shuffles  int
	rng       *rand.Rand
}

// New builds a cycler over a private copy of items.
//
// Arguments:
// - items: The records to cycle over. The caller keeps ownership of the slice.
// - batchSize: Number of items per batch.
// - rng: Source of the reshuffles. Must not be shared with another goroutine
// without external locking.
//
// Returns:
// - The cycler.
// - A *annotations.ConfigurationError when items is empty, batchSize <= 0 or
// rng is nil.
//
// @example
// c, err := cycler.New(records, 32, rand.New(rand.NewPCG(seed, seed)))
//
//	for batch := range c.Batches() {
//		...
//	}
func New[T any](items []T, batchSize int, rng *rand.Rand) (*Cycler[T], error) {
	if len(items) == 0 {
		return nil, annotations.NewConfigurationError("dataset", "no records to cycle over")
	}
	if batchSize <= 0 {
		return nil, annotations.NewConfigurationError("batchsize", "batch size must be positive, got %d", batchSize)
	}
	if rng == nil {
		return nil, annotations.NewConfigurationError("seed", "random source is required")
	}

	return &Cycler[T]{
		items:     append([]T(nil), items...),
		batchSize: batchSize,
		rng:       rng,
	}, nil
}

// Len returns the number of records.
func (c *Cycler[T]) Len() int {
	return len(c.items)
}

// BatchSize returns the batch size.
func (c *Cycler[T]) BatchSize() int {
	return c.batchSize
}

// Epoch returns how many times the sequence has been reshuffled.
func (c *Cycler[T]) Epoch() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.shuffles
}

// Next returns the next batch. The returned slice is freshly allocated and
// belongs to the caller.
func (c *Cycler[T]) Next() []T {
	return c.Take(c.batchSize)
}

// Take reads n items from the cursor, reshuffling on every wrap exactly as
// Next does. The pipeline uses it to replace records it had to skip.
func (c *Cycler[T]) Take(n int) []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := make([]T, max(n, 0))
	for i := range batch {
		if c.cursor == 0 {
			c.rng.Shuffle(len(c.items), func(a, b int) {
				c.items[a], c.items[b] = c.items[b], c.items[a]
			})
			c.shuffles++
		}
		batch[i] = c.items[c.cursor]
		c.cursor = (c.cursor + 1) % len(c.items)
	}
	return batch
}

// Batches returns the cycler as a pull-based sequence. It never ends on its
// own; ranging over it again continues from the current cursor.
func (c *Cycler[T]) Batches() iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		for {
			if !yield(c.Next()) {
				return
			}
		}
	}
}

// Reset rewinds the cursor so the next read starts a fresh, reshuffled pass.
func (c *Cycler[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cursor = 0
}

// StepsPerEpoch is the number of batches the orchestrator pulls per reported
// epoch: n/batchSize, at least 1.
func StepsPerEpoch(n, batchSize int) int {
	if batchSize <= 0 {
		return 1
	}
	return max(1, n/batchSize)
}
