package pipeline

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/stat"
)

// Stage names recorded by the pipeline.
const (
	StageAugment = "augment"
	StageEncode  = "encode"
	StageTensor  = "tensor"
	StageBatch   = "batch"
)

// defaultMaxSamples bounds the rolling window of durations kept per stage.
const defaultMaxSamples = 1000

// timer keeps a rolling window of durations for one stage.
type timer struct {
	durations []float64 // seconds
	count     int64
	minTime   time.Duration
	maxTime   time.Duration
}

// Stats collects per-stage timings and record counters. It is safe for
// concurrent use.
type Stats struct {
	mu         sync.Mutex
	maxSamples int
	timers     map[string]*timer

	batches      int64
	records      int64
	skipped      int64
	droppedBoxes int64
}

// StageSummary summarises one stage's timings over the rolling window.
type StageSummary struct {
	Count  int64
	Mean   time.Duration
	StdDev time.Duration
	Min    time.Duration
	Max    time.Duration
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Stages       map[string]StageSummary
	Batches      int64
	Records      int64
	Skipped      int64
	DroppedBoxes int64
}

// NewStats creates an empty collector.
func NewStats() *Stats {
	return &Stats{
		maxSamples: defaultMaxSamples,
		timers:     make(map[string]*timer),
	}
}

// Start begins timing a stage.
//
// Arguments:
// - stage: The stage name, one of the Stage constants.
//
// Returns:
// - A function to call when the stage completes.
//
// @example
// done := stats.Start(StageEncode)
// targets, err := enc.EncodeBatch(boxes)
// done()
func (s *Stats) Start(stage string) func() {
	start := time.Now()
	return func() {
		s.Observe(stage, time.Since(start))
	}
}

// Observe records one duration for a stage.
func (s *Stats) Observe(stage string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[stage]
	if !ok {
		t = &timer{minTime: d, maxTime: d}
		s.timers[stage] = t
	}

	t.durations = append(t.durations, d.Seconds())
	if len(t.durations) > s.maxSamples {
		t.durations = t.durations[1:]
	}
	t.count++
	t.minTime = min(t.minTime, d)
	t.maxTime = max(t.maxTime, d)
}

func (s *Stats) addBatch(records, skipped, droppedBoxes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches++
	s.records += int64(records)
	s.skipped += int64(skipped)
	s.droppedBoxes += int64(droppedBoxes)
}

// Snapshot copies the current counters and summarises each stage.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Stages:       make(map[string]StageSummary, len(s.timers)),
		Batches:      s.batches,
		Records:      s.records,
		Skipped:      s.skipped,
		DroppedBoxes: s.droppedBoxes,
	}
	for name, t := range s.timers {
		mean, std := stat.MeanStdDev(t.durations, nil)
		if len(t.durations) < 2 {
			std = 0
		}
		snap.Stages[name] = StageSummary{
			Count:  t.count,
			Mean:   seconds(mean),
			StdDev: seconds(std),
			Min:    t.minTime,
			Max:    t.maxTime,
		}
	}
	return snap
}

// Reset clears every timer and counter.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timers = make(map[string]*timer)
	s.batches, s.records, s.skipped, s.droppedBoxes = 0, 0, 0, 0
}

// MarshalLogObject lets a snapshot be logged with zap.Object.
func (snap Snapshot) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("batches", snap.Batches)
	enc.AddInt64("records", snap.Records)
	enc.AddInt64("skipped", snap.Skipped)
	enc.AddInt64("droppedBoxes", snap.DroppedBoxes)

	names := make([]string, 0, len(snap.Stages))
	for name := range snap.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := snap.Stages[name]
		if err := enc.AddObject(name, zapcore.ObjectMarshalerFunc(func(e zapcore.ObjectEncoder) error {
			e.AddInt64("count", st.Count)
			e.AddDuration("mean", st.Mean)
			e.AddDuration("stddev", st.StdDev)
			e.AddDuration("min", st.Min)
			e.AddDuration("max", st.Max)
			return nil
		})); err != nil {
			return err
		}
	}
	return nil
}

// Field returns the snapshot as a zap field.
func (snap Snapshot) Field() zap.Field {
	return zap.Object("pipeline", snap)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
