package cycler

import (
	"math/rand/v2"
	"sort"
	"sync"
	"testing"

	"github.com/nvr-ai/go-ml-train/annotations"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func tenRecords() []int {
	return []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
}

func TestNewRejectsEmptyConfiguration(t *testing.T) {
	tests := []struct {
		name      string
		items     []int
		batchSize int
		rng       *rand.Rand
	}{
		{"No records", nil, 3, seeded(1)},
		{"Zero batch", tenRecords(), 0, seeded(1)},
		{"Negative batch", tenRecords(), -2, seeded(1)},
		{"No random source", tenRecords(), 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.items, tt.batchSize, tt.rng)
			assert.Nil(t, c)
			var cfgErr *annotations.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestTenRecordsBatchesOfThree(t *testing.T) {
	c, err := New(tenRecords(), 3, seeded(42))
	require.NoError(t, err)

	var seen []int
	for i := 0; i < 40; i++ {
		batch := c.Next()
		require.Len(t, batch, 3)
		seen = append(seen, batch...)

		// Reads consumed so far: 3*(i+1). A shuffle happens before reads 0, 10, 20...
		assert.Equal(t, (3*(i+1)+9)/10, c.Epoch(), "after batch %d", i)
	}

	t.Run("Every epoch block is a permutation", func(t *testing.T) {
		for start := 0; start+10 <= len(seen); start += 10 {
			block := append([]int(nil), seen[start:start+10]...)
			sort.Ints(block)
			assert.Equal(t, tenRecords(), block, "block at %d", start)
		}
	})

	t.Run("First four batches cover every record", func(t *testing.T) {
		covered := map[int]bool{}
		for _, v := range seen[:12] {
			covered[v] = true
		}
		assert.Len(t, covered, 10)
	})
}

func TestBatchesIsRestartable(t *testing.T) {
	a, err := New(tenRecords(), 4, seeded(7))
	require.NoError(t, err)
	b, err := New(tenRecords(), 4, seeded(7))
	require.NoError(t, err)

	var fromRange [][]int
	for batch := range a.Batches() {
		fromRange = append(fromRange, batch)
		if len(fromRange) == 3 {
			break
		}
	}
	for batch := range a.Batches() {
		fromRange = append(fromRange, batch)
		if len(fromRange) == 6 {
			break
		}
	}

	var fromNext [][]int
	for i := 0; i < 6; i++ {
		fromNext = append(fromNext, b.Next())
	}
	assert.Equal(t, fromNext, fromRange)
}

func TestCallerSliceIsNotMutated(t *testing.T) {
	items := tenRecords()
	c, err := New(items, 5, seeded(3))
	require.NoError(t, err)

	c.Next()
	c.Next()
	assert.Equal(t, tenRecords(), items)
	assert.Equal(t, 10, c.Len())
	assert.Equal(t, 5, c.BatchSize())
}

func TestResetStartsNewPass(t *testing.T) {
	c, err := New(tenRecords(), 3, seeded(9))
	require.NoError(t, err)

	c.Next()
	require.Equal(t, 1, c.Epoch())
	c.Reset()
	c.Next()
	assert.Equal(t, 2, c.Epoch())
}

func TestBatchLargerThanDataset(t *testing.T) {
	c, err := New([]string{"a", "b"}, 5, seeded(1))
	require.NoError(t, err)

	batch := c.Next()
	require.Len(t, batch, 5)
	assert.Equal(t, 3, c.Epoch())
	counts := map[string]int{}
	for _, v := range batch {
		counts[v]++
	}
	assert.Equal(t, 5, counts["a"]+counts["b"])
	assert.GreaterOrEqual(t, counts["a"], 2)
	assert.GreaterOrEqual(t, counts["b"], 2)
}

func TestConcurrentReadersSeeWholeEpochs(t *testing.T) {
	c, err := New(tenRecords(), 2, seeded(11))
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		all []int
		wg  sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				batch := c.Next()
				mu.Lock()
				all = append(all, batch...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	counts := map[int]int{}
	for _, v := range all {
		counts[v]++
	}
	// 200 reads over 10 records is exactly 20 passes.
	for _, v := range tenRecords() {
		assert.Equal(t, 20, counts[v], "record %d", v)
	}
	assert.Equal(t, 20, c.Epoch())
}

func TestTakeSharesTheCursor(t *testing.T) {
	a, err := New(tenRecords(), 3, seeded(21))
	require.NoError(t, err)
	b, err := New(tenRecords(), 3, seeded(21))
	require.NoError(t, err)

	got := append(a.Next(), a.Take(1)...)
	got = append(got, a.Next()...)
	want := append(b.Take(4), b.Take(3)...)
	assert.Equal(t, want, got)
	assert.Empty(t, a.Take(0))
}

func TestStepsPerEpoch(t *testing.T) {
	assert.Equal(t, 3, StepsPerEpoch(10, 3))
	assert.Equal(t, 1, StepsPerEpoch(2, 32))
	assert.Equal(t, 5, StepsPerEpoch(20, 4))
	assert.Equal(t, 1, StepsPerEpoch(10, 0))
}
