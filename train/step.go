package train

import (
	"context"
	"sync"

	"github.com/nvr-ai/go-ml-train/encoder"
	"github.com/nvr-ai/go-ml-train/pipeline"
	"go.uber.org/zap"
)

// Step is the model side of training: it consumes one batch and reports a
// loss. Implementations own the network, the loss and the optimiser.
type Step interface {
	// Train runs one optimisation step.
	Train(ctx context.Context, stage Stage, batch pipeline.Batch) (float64, error)
	// Evaluate computes the validation loss of a batch without updating weights.
	Evaluate(ctx context.Context, stage Stage, batch pipeline.Batch) (float64, error)
}

// DryRunStep stands in for a model. It pushes every batch through a
// GraphFeeder and reports positive assignments per image as the loss, so
// the whole pipeline can be exercised without a network.
type DryRunStep struct {
	enc *encoder.Encoder
	log *zap.Logger

	mu      sync.Mutex
	feeders map[int]*GraphFeeder
}

// NewDryRunStep creates a dry-run step for targets produced by enc.
func NewDryRunStep(enc *encoder.Encoder, log *zap.Logger) *DryRunStep {
	if log == nil {
		log = zap.NewNop()
	}
	return &DryRunStep{enc: enc, log: log, feeders: make(map[int]*GraphFeeder)}
}

// Train implements Step.
func (d *DryRunStep) Train(ctx context.Context, stage Stage, batch pipeline.Batch) (float64, error) {
	return d.run(ctx, stage, batch)
}

// Evaluate implements Step.
func (d *DryRunStep) Evaluate(ctx context.Context, stage Stage, batch pipeline.Batch) (float64, error) {
	return d.run(ctx, stage, batch)
}

func (d *DryRunStep) run(ctx context.Context, stage Stage, batch pipeline.Batch) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	feeder, ok := d.feeders[batch.Size()]
	if !ok {
		var err error
		feeder, err = NewGraphFeeder(d.enc, batch.Size())
		if err != nil {
			return 0, err
		}
		d.feeders[batch.Size()] = feeder
	}

	res, err := feeder.Feed(batch)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for _, p := range res.Positives {
		total += p
	}
	d.log.Debug("dry run batch",
		zap.String("stage", stage.Name),
		zap.Float64s("positives", res.Positives[:]),
		zap.Float64("meanPixel", res.MeanPixel))
	return total / float64(batch.Size()), nil
}

// Close releases every graph the step built.
func (d *DryRunStep) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var first error
	for size, f := range d.feeders {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(d.feeders, size)
	}
	return first
}
