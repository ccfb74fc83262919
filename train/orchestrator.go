// Package train drives the external model through training stages, pulling
// batches from the data pipeline and reporting progress to listeners.
package train

import (
	"context"
	"math/rand/v2"

	"github.com/nvr-ai/go-ml-train/annotations"
	"github.com/nvr-ai/go-ml-train/augment"
	"github.com/nvr-ai/go-ml-train/encoder"
	"github.com/nvr-ai/go-ml-train/pipeline"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Stage is one training phase with its own batch size.
type Stage struct {
	Name      string
	Epochs    int
	BatchSize int
}

// DefaultStages are the frozen-body transfer stage followed by fine-tuning.
var DefaultStages = []Stage{
	{Name: "frozen", Epochs: 51, BatchSize: 32},
	{Name: "fine-tune", Epochs: 51, BatchSize: 4},
}

// Options configures an Orchestrator.
type Options struct {
	// Seed derives the cycler random sources of every stage.
	Seed uint64
	// Prefetch is how many training batches are produced ahead of the step.
	Prefetch       int
	Workers        int
	SkipBadRecords bool
	Logger         *zap.Logger
}

// Orchestrator runs stages over a train and validation split.
type Orchestrator struct {
	train, val []annotations.Record
	aug        *augment.Augmenter
	enc        *encoder.Encoder
	step       Step
	opts       Options
	listeners  []Listener
	log        *zap.Logger
}

// New creates an orchestrator.
//
// Arguments:
// - train, val: The dataset split. val may be empty, which disables validation.
// - aug, enc: Shared by every stage's pipelines.
// - step: The model.
// - opts: Orchestrator options.
//
// Returns:
// - The orchestrator.
// - A *annotations.ConfigurationError when train is empty or a collaborator is missing.
func New(train, val []annotations.Record, aug *augment.Augmenter, enc *encoder.Encoder, step Step, opts Options) (*Orchestrator, error) {
	if len(train) == 0 {
		return nil, annotations.NewConfigurationError("dataset", "training split is empty")
	}
	if aug == nil || enc == nil || step == nil {
		return nil, annotations.NewConfigurationError("train", "augmenter, encoder and step are required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{train: train, val: val, aug: aug, enc: enc, step: step, opts: opts, log: log}, nil
}

// AddListener registers a listener. Listeners are called in registration order.
func (o *Orchestrator) AddListener(l Listener) {
	o.listeners = append(o.listeners, l)
}

// Run executes the stages in order. Epoch numbering continues across stages.
//
// Returns:
// - The history of every completed stage, keyed by stage name.
// - The first error from the pipeline, the step or a listener, or ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, stages []Stage) (map[string]History, error) {
	histories := make(map[string]History, len(stages))
	epoch := 0
	for i, stage := range stages {
		h, err := o.runStage(ctx, i, stage, epoch)
		if err != nil {
			return histories, errors.Wrapf(err, "stage %s", stage.Name)
		}
		histories[stage.Name] = h
		epoch += stage.Epochs
	}
	return histories, nil
}

func (o *Orchestrator) newPipeline(records []annotations.Record, batchSize int, stream uint64, random bool) (*pipeline.Pipeline, error) {
	return pipeline.New(records, batchSize, rand.New(rand.NewPCG(o.opts.Seed, stream)), o.aug, o.enc, pipeline.Options{
		Random:         random,
		Workers:        o.opts.Workers,
		SkipBadRecords: o.opts.SkipBadRecords,
		Logger:         o.log,
	})
}

func (o *Orchestrator) runStage(ctx context.Context, index int, stage Stage, initialEpoch int) (History, error) {
	trainPipe, err := o.newPipeline(o.train, stage.BatchSize, uint64(2*index), true)
	if err != nil {
		return History{}, err
	}
	var valPipe *pipeline.Pipeline
	valSteps := 0
	if len(o.val) > 0 {
		if valPipe, err = o.newPipeline(o.val, stage.BatchSize, uint64(2*index+1), false); err != nil {
			return History{}, err
		}
		valSteps = valPipe.StepsPerEpoch()
	}
	trainSteps := trainPipe.StepsPerEpoch()

	for _, l := range o.listeners {
		if err := l.StageStarted(stage, trainSteps, valSteps); err != nil {
			return History{}, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches := trainPipe.Prefetch(ctx, o.opts.Prefetch)

	var h History
	for e := 0; e < stage.Epochs; e++ {
		losses := make([]float64, 0, trainSteps)
		for range trainSteps {
			var res pipeline.Result
			select {
			case <-ctx.Done():
				return h, ctx.Err()
			case r, ok := <-batches:
				if !ok {
					return h, ctx.Err()
				}
				res = r
			}
			if res.Err != nil {
				return h, res.Err
			}
			loss, err := o.step.Train(ctx, stage, res.Batch)
			if err != nil {
				return h, errors.Wrap(err, "train step")
			}
			losses = append(losses, loss)
		}

		result := EpochResult{
			Stage:    stage,
			Epoch:    initialEpoch + e,
			Loss:     stat.Mean(losses, nil),
			Pipeline: trainPipe.Stats().Snapshot(),
		}
		trainPipe.Stats().Reset()
		h.Loss = append(h.Loss, result.Loss)

		if valPipe != nil {
			valLoss, err := o.validate(ctx, stage, valPipe, valSteps)
			if err != nil {
				return h, err
			}
			result.ValLoss, result.HasValidation = valLoss, true
			h.ValLoss = append(h.ValLoss, valLoss)
		}

		for _, l := range o.listeners {
			if err := l.EpochEnded(result); err != nil {
				return h, err
			}
		}
	}

	for _, l := range o.listeners {
		if err := l.StageEnded(stage, h); err != nil {
			return h, err
		}
	}
	return h, nil
}

func (o *Orchestrator) validate(ctx context.Context, stage Stage, p *pipeline.Pipeline, steps int) (float64, error) {
	losses := make([]float64, 0, steps)
	for range steps {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch, err := p.Next()
		if err != nil {
			return 0, err
		}
		loss, err := o.step.Evaluate(ctx, stage, batch)
		if err != nil {
			return 0, errors.Wrap(err, "validation step")
		}
		losses = append(losses, loss)
	}
	return stat.Mean(losses, nil), nil
}
