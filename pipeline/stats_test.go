package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStatsSummaries(t *testing.T) {
	s := NewStats()
	s.Observe(StageEncode, 10*time.Millisecond)
	s.Observe(StageEncode, 30*time.Millisecond)
	s.Observe(StageAugment, 5*time.Millisecond)
	s.addBatch(4, 1, 3)

	snap := s.Snapshot()
	enc := snap.Stages[StageEncode]
	assert.Equal(t, int64(2), enc.Count)
	assert.InDelta(t, float64(20*time.Millisecond), float64(enc.Mean), float64(time.Microsecond))
	assert.Equal(t, 10*time.Millisecond, enc.Min)
	assert.Equal(t, 30*time.Millisecond, enc.Max)
	assert.Greater(t, enc.StdDev, time.Duration(0))
	assert.Zero(t, snap.Stages[StageAugment].StdDev)
	assert.Equal(t, int64(4), snap.Records)
	assert.Equal(t, int64(1), snap.Skipped)
	assert.Equal(t, int64(3), snap.DroppedBoxes)

	s.Reset()
	assert.Empty(t, s.Snapshot().Stages)
	assert.Zero(t, s.Snapshot().Batches)
}

func TestStatsWindowIsBounded(t *testing.T) {
	s := NewStats()
	s.maxSamples = 3
	for _, ms := range []int{100, 1, 1, 1} {
		s.Observe(StageBatch, time.Duration(ms)*time.Millisecond)
	}

	st := s.Snapshot().Stages[StageBatch]
	assert.Equal(t, int64(4), st.Count)
	assert.InDelta(t, float64(time.Millisecond), float64(st.Mean), float64(time.Microsecond))
	assert.Equal(t, 100*time.Millisecond, st.Max)
}

func TestSnapshotLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewStats()
	s.Start(StageTensor)()
	s.addBatch(2, 0, 0)

	zap.New(core).Info("epoch", s.Snapshot().Field())

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()["pipeline"].(map[string]any)
		assert.Equal(t, int64(2), fields["records"])
		assert.Contains(t, fields, StageTensor)
	}
}
