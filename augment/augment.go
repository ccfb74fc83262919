// Package augment places one source image and its boxes onto the fixed
// training canvas, either with random geometric and colour jitter or with a
// plain letterbox.
package augment

import (
	"image"
	"math/rand/v2"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-ml-train/annotations"
	"github.com/nvr-ai/go-ml-train/images"
)

// Sample is an augmented image and its boxes in canvas pixels.
type Sample struct {
	// Image is exactly Options.Canvas in size.
	Image *image.NRGBA
	// Boxes are clipped to the canvas, at least one pixel wide and high, and
	// at most Options.MaxBoxes long.
	Boxes []annotations.Box
	// Dropped counts boxes removed by clipping, the size filter or truncation.
	Dropped int
}

// Plan holds every random decision for one sample. Drawing the plan is the
// only step that touches the random source, so plans can be drawn in order
// and rendered concurrently without losing reproducibility.
type Plan struct {
	Random bool
	// Size is the pasted image size in random mode.
	Size image.Point
	// Offset is the paste position in random mode. It may be negative.
	Offset image.Point
	Flip   bool
	// Hue is the additive hue rotation as a fraction of a turn.
	Hue float64
	// Saturation and Value are multiplicative factors.
	Saturation float64
	Value      float64
	// Order is the box permutation applied before truncation.
	Order []int
}

// Augmenter applies Options using an explicitly seeded random source.
//
// Augmenter is safe for concurrent use; draws from the random source are
// serialised.
type Augmenter struct {
	opts   Options
	loader *images.Loader

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an augmenter.
//
// Arguments:
// - opts: Validated augmentation options.
// - rng: The random source. The augmenter takes ownership of it.
// - loader: Image loader used by Load. Nil creates an uncached loader.
//
// Returns:
// - The augmenter.
// - A *annotations.ConfigurationError for invalid options or a nil rng.
//
// @example
// aug, err := augment.New(augment.DefaultOptions(image.Pt(416, 416)), rand.New(rand.NewPCG(1, 1)), nil)
// sample, err := aug.Load(record, true)
func New(opts Options, rng *rand.Rand, loader *images.Loader) (*Augmenter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, annotations.NewConfigurationError("seed", "random source is required")
	}
	if loader == nil {
		loader = images.NewLoader(false)
	}
	return &Augmenter{opts: opts, loader: loader, rng: rng}, nil
}

// Options returns the options in effect.
func (a *Augmenter) Options() Options {
	return a.opts
}

// Draw samples a plan for an image with numBoxes boxes. With random false
// the plan is empty and consumes no randomness.
func (a *Augmenter) Draw(numBoxes int, random bool) Plan {
	if !random {
		return Plan{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	w, h := float64(a.opts.Canvas.X), float64(a.opts.Canvas.Y)
	j := a.opts.Jitter
	aspect := w / h * a.uniform(1-j, 1+j) / a.uniform(1-j, 1+j)
	scale := a.uniform(a.opts.ScaleMin, a.opts.ScaleMax)

	var nw, nh int
	if aspect < 1 {
		nh = int(scale * h)
		nw = int(float64(nh) * aspect)
	} else {
		nw = int(scale * w)
		nh = int(float64(nw) / aspect)
	}
	nw, nh = max(nw, 1), max(nh, 1)

	p := Plan{
		Random: true,
		Size:   image.Pt(nw, nh),
		Offset: image.Pt(int(a.uniform(0, w-float64(nw))), int(a.uniform(0, h-float64(nh)))),
		Flip:   a.rng.Float64() < a.opts.FlipProb,
		Hue:    a.uniform(-a.opts.Hue, a.opts.Hue),
	}
	p.Saturation = a.factor(a.opts.Saturation)
	p.Value = a.factor(a.opts.Value)
	p.Order = a.rng.Perm(numBoxes)
	return p
}

func (a *Augmenter) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*a.rng.Float64()
}

// factor draws U(1,limit) or its reciprocal with equal probability.
func (a *Augmenter) factor(limit float64) float64 {
	f := a.uniform(1, limit)
	if a.rng.Float64() < 0.5 {
		return f
	}
	return 1 / f
}

// Apply draws a plan and renders src and boxes onto the canvas.
//
// Arguments:
// - src: The decoded source image.
// - boxes: Boxes in source pixels. The slice is not modified.
// - random: Random jitter when true, letterbox when false.
//
// Returns:
// - The sample.
// - An error only if src is empty.
func (a *Augmenter) Apply(src image.Image, boxes []annotations.Box, random bool) (Sample, error) {
	return a.Render(src, boxes, a.Draw(len(boxes), random))
}

// Load decodes the record's image and applies a freshly drawn plan.
func (a *Augmenter) Load(rec annotations.Record, random bool) (Sample, error) {
	return a.LoadPlan(rec, a.Draw(len(rec.Boxes), random))
}

// LoadPlan decodes the record's image and renders it with plan.
//
// Returns:
// - The sample.
// - A *annotations.RecordError carrying the record's path and line when the
// image cannot be read or decoded.
func (a *Augmenter) LoadPlan(rec annotations.Record, plan Plan) (Sample, error) {
	src, _, err := a.loader.Load(rec.ImagePath)
	if err != nil {
		return Sample{}, &annotations.RecordError{Path: rec.ImagePath, Line: rec.Line, Err: err}
	}
	sample, err := a.Render(src, rec.Boxes, plan)
	if err != nil {
		return Sample{}, &annotations.RecordError{Path: rec.ImagePath, Line: rec.Line, Err: err}
	}
	return sample, nil
}

// Render applies a previously drawn plan. It does not touch the random source.
func (a *Augmenter) Render(src image.Image, boxes []annotations.Box, plan Plan) (Sample, error) {
	b := src.Bounds()
	if b.Empty() {
		return Sample{}, errEmptyImage
	}
	if !plan.Random {
		return a.letterbox(src, boxes), nil
	}

	iw, ih := float32(b.Dx()), float32(b.Dy())
	resized := resizeTo(src, plan.Size)
	canvas := imaging.New(a.opts.Canvas.X, a.opts.Canvas.Y, a.opts.Fill)
	canvas = imaging.Paste(canvas, resized, plan.Offset)
	if plan.Flip {
		canvas = imaging.FlipH(canvas)
	}
	jitterHSV(canvas, plan.Hue, plan.Saturation, plan.Value)

	ordered := make([]annotations.Box, len(boxes))
	for i := range boxes {
		j := i
		if len(plan.Order) == len(boxes) {
			j = plan.Order[i]
		}
		ordered[i] = boxes[j].Remap(
			float32(plan.Size.X)/iw, float32(plan.Size.Y)/ih,
			float32(plan.Offset.X), float32(plan.Offset.Y),
		)
		if plan.Flip {
			ordered[i] = ordered[i].MirrorX(float32(a.opts.Canvas.X))
		}
	}

	kept, dropped := a.finish(ordered)
	return Sample{Image: canvas, Boxes: kept, Dropped: dropped}, nil
}

// resizeTo resamples src to size with bicubic interpolation, skipping the
// work when the size already matches.
func resizeTo(src image.Image, size image.Point) image.Image {
	if src.Bounds().Size() == size {
		return src
	}
	return resize.Resize(uint(size.X), uint(size.Y), src, resize.Bicubic)
}

// finish clips boxes to the canvas, drops those under one pixel and
// truncates to MaxBoxes.
func (a *Augmenter) finish(boxes []annotations.Box) ([]annotations.Box, int) {
	w, h := float32(a.opts.Canvas.X), float32(a.opts.Canvas.Y)
	kept := make([]annotations.Box, 0, min(len(boxes), a.opts.MaxBoxes))
	for _, box := range boxes {
		clipped, inside := box.Clip(w, h)
		if !inside || clipped.Width() < 1 || clipped.Height() < 1 {
			continue
		}
		if len(kept) == a.opts.MaxBoxes {
			break
		}
		kept = append(kept, clipped)
	}
	return kept, len(boxes) - len(kept)
}
