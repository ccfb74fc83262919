// Package pipeline turns annotation records into training batches: records
// are drawn from a cycler, augmented onto the canvas and encoded into the
// three multi-scale target tensors.
package pipeline

import (
	"context"
	"image"
	"iter"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/anthonynsimon/bild/parallel"
	"github.com/nvr-ai/go-ml-train/annotations"
	"github.com/nvr-ai/go-ml-train/augment"
	"github.com/nvr-ai/go-ml-train/cycler"
	"github.com/nvr-ai/go-ml-train/encoder"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

// Batch is one finished training batch. It is never touched by the
// pipeline again once returned.
type Batch struct {
	// Images is [B, H, W, 3] float32 in [0, 1].
	Images *tensor.Dense
	// Targets are the stacked per-scale targets, [B, gh, gw, 3, 5+C].
	Targets encoder.Targets
	// Records are the source records, in batch order.
	Records []annotations.Record
	// Boxes are the augmented canvas-space boxes, in batch order.
	Boxes [][]annotations.Box
}

// Size returns the number of images in the batch.
func (b Batch) Size() int {
	return len(b.Records)
}

// Options configures a Pipeline.
type Options struct {
	// Random enables augmentation jitter. Validation pipelines leave it off.
	Random bool
	// Workers bounds concurrent record augmentation within a batch. Values
	// below 1 mean one worker.
	Workers int
	// SkipBadRecords replaces records whose image cannot be read instead of
	// failing the batch.
	SkipBadRecords bool
	// Logger receives skip warnings. Nil disables logging.
	Logger *zap.Logger
}

// Result is a batch or the error that ended a prefetch stream.
type Result struct {
	Batch Batch
	Err   error
}

// Pipeline produces batches on demand.
type Pipeline struct {
	mu      sync.Mutex
	records *cycler.Cycler[annotations.Record]
	aug     *augment.Augmenter
	enc     *encoder.Encoder
	opts    Options
	stats   *Stats
	log     *zap.Logger
}

// New builds a pipeline over records.
//
// Arguments:
// - records: The split to cycle over.
// - batchSize: Records per batch.
// - rng: Random source for the cycler's reshuffles.
// - aug: The augmenter. Its canvas must match the encoder's.
// - enc: The target encoder.
// - opts: Pipeline options.
//
// Returns:
// - The pipeline.
// - A *annotations.ConfigurationError for an empty split, a non-positive
// batch size or mismatched canvases.
//
// @example
// p, err := pipeline.New(train, 32, rand.New(rand.NewPCG(seed, 1)), aug, enc, pipeline.Options{Random: true, Workers: 4})
// batch, err := p.Next()
func New(records []annotations.Record, batchSize int, rng *rand.Rand, aug *augment.Augmenter, enc *encoder.Encoder, opts Options) (*Pipeline, error) {
	if aug == nil || enc == nil {
		return nil, annotations.NewConfigurationError("pipeline", "augmenter and encoder are required")
	}
	if aug.Options().Canvas != enc.Canvas() {
		return nil, annotations.NewConfigurationError("input", "augmenter canvas %v does not match encoder canvas %v",
			aug.Options().Canvas, enc.Canvas())
	}
	c, err := cycler.New(records, batchSize, rng)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	opts.Workers = max(opts.Workers, 1)

	return &Pipeline{
		records: c,
		aug:     aug,
		enc:     enc,
		opts:    opts,
		stats:   NewStats(),
		log:     log,
	}, nil
}

// BatchSize returns the number of records per batch.
func (p *Pipeline) BatchSize() int {
	return p.records.BatchSize()
}

// Len returns the number of records in the split.
func (p *Pipeline) Len() int {
	return p.records.Len()
}

// StepsPerEpoch returns how many batches make up one reported epoch.
func (p *Pipeline) StepsPerEpoch() int {
	return cycler.StepsPerEpoch(p.records.Len(), p.records.BatchSize())
}

// Stats returns the pipeline's collector.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Next produces one batch synchronously.
//
// Returns:
// - The batch.
// - A *annotations.RecordError when a record fails and SkipBadRecords is off,
// or when every record in the split fails.
// - An *encoder.EncodingError on an encoder invariant violation. These are
// never skipped.
func (p *Pipeline) Next() (Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	defer p.stats.Start(StageBatch)()

	records := p.records.Next()
	samples := make([]augment.Sample, len(records))
	failed, err := p.augmentAll(records, samples)
	if err != nil {
		return Batch{}, err
	}

	skipped := 0
	for _, i := range failed {
		n, err := p.replace(i, records, samples)
		skipped += n
		if err != nil {
			return Batch{}, err
		}
	}

	boxes := make([][]annotations.Box, len(samples))
	dropped := 0
	for i, s := range samples {
		boxes[i] = s.Boxes
		dropped += s.Dropped
	}

	done := p.stats.Start(StageEncode)
	targets, err := p.enc.EncodeBatch(boxes)
	done()
	if err != nil {
		return Batch{}, err
	}

	done = p.stats.Start(StageTensor)
	images := imageTensor(samples, p.enc.Canvas())
	done()

	p.stats.addBatch(len(records), skipped, dropped)
	return Batch{Images: images, Targets: targets, Records: records, Boxes: boxes}, nil
}

// augmentAll draws every plan in batch order, then renders the records
// concurrently. It returns the slots that failed with a RecordError when
// skipping is enabled.
func (p *Pipeline) augmentAll(records []annotations.Record, samples []augment.Sample) ([]int, error) {
	plans := make([]augment.Plan, len(records))
	for i, rec := range records {
		plans[i] = p.aug.Draw(len(rec.Boxes), p.opts.Random)
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []int
	)
	g.SetLimit(p.opts.Workers)
	for i := range records {
		g.Go(func() error {
			done := p.stats.Start(StageAugment)
			sample, err := p.aug.LoadPlan(records[i], plans[i])
			done()
			if err != nil {
				if p.skippable(err) {
					mu.Lock()
					failed = append(failed, i)
					mu.Unlock()
					return nil
				}
				return err
			}
			samples[i] = sample
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(failed)
	return failed, nil
}

// replace fills slot i with the next readable record from the cycler. It
// returns how many records were skipped, including the original.
func (p *Pipeline) replace(i int, records []annotations.Record, samples []augment.Sample) (int, error) {
	skipped := 0
	for attempt := 0; attempt <= p.records.Len(); attempt++ {
		p.log.Warn("skipping unreadable record",
			zap.String("path", records[i].ImagePath),
			zap.Int("line", records[i].Line))
		skipped++

		rec := p.records.Take(1)[0]
		done := p.stats.Start(StageAugment)
		sample, err := p.aug.Load(rec, p.opts.Random)
		done()
		records[i] = rec
		if err == nil {
			samples[i] = sample
			return skipped, nil
		}
		if !p.skippable(err) {
			return skipped, err
		}
	}
	return skipped, errors.Wrapf(&annotations.RecordError{Path: records[i].ImagePath, Line: records[i].Line,
		Err: errors.New("no readable record left")}, "gave up after %d consecutive failures", skipped)
}

func (p *Pipeline) skippable(err error) bool {
	var recErr *annotations.RecordError
	return p.opts.SkipBadRecords && errors.As(err, &recErr)
}

// imageTensor packs the samples into a [B, H, W, 3] float32 tensor in [0, 1].
func imageTensor(samples []augment.Sample, canvas image.Point) *tensor.Dense {
	w, h := canvas.X, canvas.Y
	backing := make([]float32, len(samples)*h*w*3)
	for i, s := range samples {
		img := s.Image
		dst := backing[i*h*w*3 : (i+1)*h*w*3]
		parallel.Line(h, func(start, end int) {
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride : y*img.Stride+w*4]
				row := dst[y*w*3 : (y+1)*w*3]
				for x := 0; x < w; x++ {
					row[x*3+0] = float32(src[x*4+0]) / 255
					row[x*3+1] = float32(src[x*4+1]) / 255
					row[x*3+2] = float32(src[x*4+2]) / 255
				}
			}
		})
	}
	return tensor.New(tensor.WithShape(len(samples), h, w, 3), tensor.WithBacking(backing))
}

// All returns the pipeline as a pull-based sequence of batches. The sequence
// stops after yielding the first error.
func (p *Pipeline) All() iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for {
			b, err := p.Next()
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Prefetch runs a single producer goroutine that keeps up to depth finished
// batches ready. The channel closes when ctx is cancelled or after the first
// error is delivered. Callers that stop reading must cancel ctx.
//
// @example
// ctx, cancel := context.WithCancel(ctx)
// defer cancel()
//
//	for res := range p.Prefetch(ctx, 2) {
//		if res.Err != nil {
//			return res.Err
//		}
//		step(res.Batch)
//	}
func (p *Pipeline) Prefetch(ctx context.Context, depth int) <-chan Result {
	out := make(chan Result, max(depth, 0))
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			b, err := p.Next()
			select {
			case out <- Result{Batch: b, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
