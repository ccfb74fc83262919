package train

import (
	"fmt"

	"github.com/nvr-ai/go-ml-train/anchors"
	"github.com/nvr-ai/go-ml-train/encoder"
	"github.com/nvr-ai/go-ml-train/pipeline"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// FeedResult holds the values the feeder's graph computes for one batch.
type FeedResult struct {
	// Positives is the number of objectness flags per scale, summed over the batch.
	Positives [anchors.NumScales]float64
	// MeanPixel is the mean of the image tensor.
	MeanPixel float64
}

// GraphFeeder binds batches to the input nodes of a gorgonia graph shaped
// for one batch size, the way a model built on gorgonia receives them.
//
// The graph here only reduces its inputs: per-scale positive counts through
// an objectness mask, and the mean pixel. A real model replaces the
// reductions with its forward pass and loss.
type GraphFeeder struct {
	batchSize int
	g         *G.ExprGraph
	images    *G.Node
	targets   [anchors.NumScales]*G.Node
	masks     [anchors.NumScales]*G.Node
	maskVals  [anchors.NumScales]*tensor.Dense

	positives [anchors.NumScales]G.Value
	meanPixel G.Value
	vm        G.VM
}

// NewGraphFeeder builds the graph for batches of batchSize images.
//
// Arguments:
// - enc: The encoder producing the targets; fixes canvas and target shapes.
// - batchSize: Images per batch.
//
// Returns:
// - The feeder. Close releases its machine.
// - An error if the graph cannot be built.
//
// @example
// feeder, err := NewGraphFeeder(enc, 32)
// defer feeder.Close()
// res, err := feeder.Feed(batch)
func NewGraphFeeder(enc *encoder.Encoder, batchSize int) (*GraphFeeder, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}

	canvas := enc.Canvas()
	f := &GraphFeeder{batchSize: batchSize, g: G.NewGraph()}
	f.images = G.NewTensor(f.g, tensor.Float32, 4, G.WithShape(batchSize, canvas.Y, canvas.X, 3), G.WithName("images"))

	for s := range f.targets {
		shape := append([]int{batchSize}, enc.Shape(s)...)
		f.targets[s] = G.NewTensor(f.g, tensor.Float32, len(shape), G.WithShape(shape...), G.WithName(fmt.Sprintf("targets_%d", s)))
		f.masks[s] = G.NewTensor(f.g, tensor.Float32, len(shape), G.WithShape(shape...), G.WithName(fmt.Sprintf("objectness_mask_%d", s)))
		f.maskVals[s] = objectnessMask(shape)

		masked, err := G.HadamardProd(f.targets[s], f.masks[s])
		if err != nil {
			return nil, errors.Wrapf(err, "scale %d: mask", s)
		}
		total, err := G.Sum(masked)
		if err != nil {
			return nil, errors.Wrapf(err, "scale %d: sum", s)
		}
		G.Read(total, &f.positives[s])
	}

	mean, err := G.Mean(f.images)
	if err != nil {
		return nil, errors.Wrap(err, "image mean")
	}
	G.Read(mean, &f.meanPixel)

	f.vm = G.NewTapeMachine(f.g)
	return f, nil
}

// objectnessMask is 1 at the objectness offset of every slot and 0 elsewhere.
func objectnessMask(shape []int) *tensor.Dense {
	depth := shape[len(shape)-1]
	backing := make([]float32, tensor.Shape(shape).TotalSize())
	for i := encoder.OffsetObjectness; i < len(backing); i += depth {
		backing[i] = 1
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

// BatchSize returns the batch size the graph was built for.
func (f *GraphFeeder) BatchSize() int {
	return f.batchSize
}

// Feed binds a batch and runs the graph once.
func (f *GraphFeeder) Feed(batch pipeline.Batch) (FeedResult, error) {
	if batch.Size() != f.batchSize {
		return FeedResult{}, errors.Errorf("graph expects %d images, batch has %d", f.batchSize, batch.Size())
	}
	defer f.vm.Reset()

	if err := G.Let(f.images, batch.Images); err != nil {
		return FeedResult{}, errors.Wrap(err, "failed to bind images")
	}
	for s := range f.targets {
		if err := G.Let(f.targets[s], batch.Targets[s]); err != nil {
			return FeedResult{}, errors.Wrapf(err, "failed to bind targets of scale %d", s)
		}
		if err := G.Let(f.masks[s], f.maskVals[s]); err != nil {
			return FeedResult{}, errors.Wrapf(err, "failed to bind mask of scale %d", s)
		}
	}

	if err := f.vm.RunAll(); err != nil {
		return FeedResult{}, errors.Wrap(err, "failed to run graph")
	}

	var res FeedResult
	for s, v := range f.positives {
		p, err := scalar(v)
		if err != nil {
			return FeedResult{}, errors.Wrapf(err, "scale %d", s)
		}
		res.Positives[s] = p
	}
	mean, err := scalar(f.meanPixel)
	if err != nil {
		return FeedResult{}, errors.Wrap(err, "mean pixel")
	}
	res.MeanPixel = mean
	return res, nil
}

// Close releases the tape machine.
func (f *GraphFeeder) Close() error {
	return f.vm.Close()
}

func scalar(v G.Value) (float64, error) {
	if v == nil {
		return 0, errors.New("graph produced no value")
	}
	switch d := v.Data().(type) {
	case float32:
		return float64(d), nil
	case float64:
		return d, nil
	case []float32:
		if len(d) == 1 {
			return float64(d[0]), nil
		}
	}
	return 0, errors.Errorf("expected a scalar, got %T", v.Data())
}
