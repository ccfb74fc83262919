// Package encoder - Maps canvas-space ground-truth boxes onto the three YOLO target grids.
//
// Every target tensor has the layout [grid_h, grid_w, anchors.PerScale, 5+C]
// (with a leading batch axis for EncodeBatch). The last axis holds, in order,
// the box encoding (tx, ty, tw, th), the objectness flag and the one-hot
// class vector:
//
//	tx = cx/stride - cell_x      ty = cy/stride - cell_y
//	tw = ln(w/anchor_w)          th = ln(h/anchor_h)
//
// Encoding is a pure function of its inputs; no randomness is involved.
package encoder

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-ml-train/anchors"
	"github.com/nvr-ai/go-ml-train/annotations"
	"gorgonia.org/tensor"
)

// Channel offsets along the last target axis.
const (
	OffsetBox        = 0
	OffsetObjectness = 4
	OffsetClass      = 5
)

// Strides holds the canvas pixels per grid cell for each scale, coarse first.
var Strides = [anchors.NumScales]int{32, 16, 8}

// CollisionPolicy decides what happens when two boxes of one image map to
// the same (scale, cell, anchor) triple.
type CollisionPolicy int

const (
	// LastWriteWins lets the later box in iteration order overwrite the
	// earlier one in full. This reproduces the reference YOLOv3 target
	// builder; whether a size- or IoU-based tie-break would train better is
	// an open question, so the policy is kept explicit rather than implied.
	LastWriteWins CollisionPolicy = iota
)

// EncodingError reports an invariant violation inside the encoder. It always
// indicates a defect upstream (an unclipped box, an unvalidated class id) and
// must not be skipped like a bad record.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return "encoding invariant violated: " + e.Reason
}

func encodingErrorf(format string, args ...any) *EncodingError {
	return &EncodingError{Reason: fmt.Sprintf(format, args...)}
}

// Targets holds one tensor per scale, coarse (stride 32) first.
type Targets [anchors.NumScales]*tensor.Dense

// Assignment is the (scale, cell, anchor) triple a box is responsible for,
// together with the box geometry it encodes.
type Assignment struct {
	// Scale indexes Strides and the target tensors.
	Scale int
	// CellX and CellY are the grid cell containing the box centre.
	CellX, CellY int
	// Slot is the anchor's position within its scale group.
	Slot int
	// Anchor is the anchor's index in the full set.
	Anchor int
	// Class is the box class.
	Class int
	// CX, CY, W, H are the box centre and size in canvas pixels.
	CX, CY, W, H float32
}

// Encoder turns box lists into target tensors for a fixed canvas, anchor set
// and class count.
type Encoder struct {
	canvas     image.Point
	set        anchors.Set
	numClasses int
	policy     CollisionPolicy
	grids      [anchors.NumScales]image.Point
}

// New validates the encoder configuration.
//
// Arguments:
// - canvas: Canvas size (X = width, Y = height); both must be positive
// multiples of the coarsest stride.
// - set: The anchor set.
// - numClasses: Number of classes, at least 1.
//
// Returns:
// - The encoder.
// - A *annotations.ConfigurationError when any argument is unusable.
//
// @example
// enc, err := New(image.Pt(416, 416), set, len(classNames))
func New(canvas image.Point, set anchors.Set, numClasses int) (*Encoder, error) {
	if canvas.X <= 0 || canvas.Y <= 0 {
		return nil, annotations.NewConfigurationError("input", "canvas %dx%d must be positive", canvas.X, canvas.Y)
	}
	if canvas.X%Strides[0] != 0 || canvas.Y%Strides[0] != 0 {
		return nil, annotations.NewConfigurationError("input", "canvas %dx%d must be a multiple of %d", canvas.X, canvas.Y, Strides[0])
	}
	if numClasses < 1 {
		return nil, annotations.NewConfigurationError("classes", "need at least one class, got %d", numClasses)
	}
	if len(set.Anchors()) != anchors.Total {
		return nil, annotations.NewConfigurationError("anchors", "anchor set is not initialised")
	}

	e := &Encoder{canvas: canvas, set: set, numClasses: numClasses, policy: LastWriteWins}
	for s, stride := range Strides {
		e.grids[s] = image.Pt(canvas.X/stride, canvas.Y/stride)
	}
	return e, nil
}

// Canvas returns the canvas size the encoder was built for.
func (e *Encoder) Canvas() image.Point {
	return e.canvas
}

// NumClasses returns the class count.
func (e *Encoder) NumClasses() int {
	return e.numClasses
}

// Anchors returns the anchor set.
func (e *Encoder) Anchors() anchors.Set {
	return e.set
}

// Policy returns the collision policy in effect.
func (e *Encoder) Policy() CollisionPolicy {
	return e.policy
}

// Depth is the size of the last target axis, 5 + number of classes.
func (e *Encoder) Depth() int {
	return OffsetClass + e.numClasses
}

// Grid returns the grid size (X = columns, Y = rows) of a scale.
func (e *Encoder) Grid(scale int) image.Point {
	return e.grids[scale]
}

// Shape returns the per-image target shape of a scale.
func (e *Encoder) Shape(scale int) tensor.Shape {
	g := e.grids[scale]
	return tensor.Shape{g.Y, g.X, anchors.PerScale, e.Depth()}
}

// scaleVolume is the number of float32 values in one image's target for a scale.
func (e *Encoder) scaleVolume(scale int) int {
	return e.Shape(scale).TotalSize()
}

// Assign computes the responsibility triple for one box.
//
// Arguments:
// - box: A box in canvas pixels.
//
// Returns:
// - The assignment.
// - false when the box is degenerate (w <= 0 or h <= 0) and must be skipped.
// - An *EncodingError when the class or centre is outside the valid range.
func (e *Encoder) Assign(box annotations.Box) (Assignment, bool, error) {
	w, h := box.Width(), box.Height()
	if w <= 0 || h <= 0 {
		return Assignment{}, false, nil
	}
	if box.Class < 0 || box.Class >= e.numClasses {
		return Assignment{}, false, encodingErrorf("class %d outside [0,%d)", box.Class, e.numClasses)
	}

	cx, cy := box.Center()
	best := e.set.Best(w, h)
	if e.set.At(best).Area() <= 0 {
		return Assignment{}, false, encodingErrorf("no anchor with positive area matches box %v", box)
	}
	scale, slot := e.set.Locate(best)
	stride := float32(Strides[scale])
	cellX := int(math32.Floor(cx / stride))
	cellY := int(math32.Floor(cy / stride))

	grid := e.grids[scale]
	if cellX < 0 || cellY < 0 || cellX >= grid.X || cellY >= grid.Y {
		return Assignment{}, false, encodingErrorf("box %v centre (%.2f, %.2f) falls outside the %dx%d grid of scale %d",
			box, cx, cy, grid.X, grid.Y, scale)
	}

	return Assignment{
		Scale:  scale,
		CellX:  cellX,
		CellY:  cellY,
		Slot:   slot,
		Anchor: best,
		Class:  box.Class,
		CX:     cx,
		CY:     cy,
		W:      w,
		H:      h,
	}, true, nil
}

// Encode builds the three target tensors for one image.
//
// Arguments:
// - boxes: The image's boxes in canvas pixels.
//
// Returns:
// - Targets with shapes Shape(0), Shape(1), Shape(2).
// - An *EncodingError on an invariant violation.
//
// @example
// targets, err := enc.Encode(sample.Boxes)
// objectness, _ := targets[0].At(6, 6, 0, OffsetObjectness)
func (e *Encoder) Encode(boxes []annotations.Box) (Targets, error) {
	var backing [anchors.NumScales][]float32
	for s := range backing {
		backing[s] = make([]float32, e.scaleVolume(s))
	}
	if err := e.encodeInto(backing, boxes); err != nil {
		return Targets{}, err
	}

	var t Targets
	for s := range t {
		t[s] = tensor.New(tensor.WithShape(e.Shape(s)...), tensor.WithBacking(backing[s]))
	}
	return t, nil
}

// EncodeBatch encodes several images into stacked tensors with a leading
// batch axis, [B, grid_h, grid_w, anchors.PerScale, 5+C].
func (e *Encoder) EncodeBatch(batch [][]annotations.Box) (Targets, error) {
	var backing [anchors.NumScales][]float32
	for s := range backing {
		backing[s] = make([]float32, len(batch)*e.scaleVolume(s))
	}

	for i, boxes := range batch {
		var view [anchors.NumScales][]float32
		for s := range view {
			vol := e.scaleVolume(s)
			view[s] = backing[s][i*vol : (i+1)*vol]
		}
		if err := e.encodeInto(view, boxes); err != nil {
			return Targets{}, fmt.Errorf("image %d of batch: %w", i, err)
		}
	}

	var t Targets
	for s := range t {
		shape := append(tensor.Shape{len(batch)}, e.Shape(s)...)
		t[s] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing[s]))
	}
	return t, nil
}

// encodeInto writes boxes into zeroed per-scale backing slices of one image.
func (e *Encoder) encodeInto(dst [anchors.NumScales][]float32, boxes []annotations.Box) error {
	depth := e.Depth()
	for _, box := range boxes {
		a, ok, err := e.Assign(box)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		anchor := e.set.At(a.Anchor)
		stride := float32(Strides[a.Scale])
		grid := e.grids[a.Scale]
		base := ((a.CellY*grid.X+a.CellX)*anchors.PerScale + a.Slot) * depth
		cell := dst[a.Scale][base : base+depth]

		// LastWriteWins: wipe whatever an earlier box left in this slot.
		clear(cell)
		cell[OffsetBox+0] = a.CX/stride - float32(a.CellX)
		cell[OffsetBox+1] = a.CY/stride - float32(a.CellY)
		cell[OffsetBox+2] = math32.Log(a.W / anchor.W)
		cell[OffsetBox+3] = math32.Log(a.H / anchor.H)
		cell[OffsetObjectness] = 1
		cell[OffsetClass+a.Class] = 1
	}
	return nil
}
