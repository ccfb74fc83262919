package encoder

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-ml-train/anchors"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Decode recovers the positive assignments of one image's targets, inverting
// the box encoding:
//
//	cx = (cell_x + tx) * stride    w = anchor_w * e^tw
//	cy = (cell_y + ty) * stride    h = anchor_h * e^th
//
// Arguments:
// - t: Per-image targets as returned by Encode.
// - set: The anchor set used to encode them.
//
// Returns:
// - One Assignment per cell/anchor with objectness 1, coarse scale first,
// row-major within a scale.
// - An error if a tensor is not a 4-D float32 tensor.
func Decode(t Targets, set anchors.Set) ([]Assignment, error) {
	var out []Assignment
	for scale, dense := range t {
		if dense == nil {
			continue
		}
		shape := dense.Shape()
		if len(shape) != 4 || shape[2] != anchors.PerScale {
			return nil, errors.Errorf("scale %d: expected [h, w, %d, depth] target, got %v", scale, anchors.PerScale, shape)
		}
		data, ok := dense.Data().([]float32)
		if !ok {
			return nil, errors.Errorf("scale %d: expected float32 data, got %T", scale, dense.Data())
		}

		rows, cols, depth := shape[0], shape[1], shape[3]
		stride := float32(Strides[scale])
		group := set.Mask()[scale]
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				for slot := 0; slot < anchors.PerScale; slot++ {
					base := ((y*cols+x)*anchors.PerScale + slot) * depth
					cell := data[base : base+depth]
					if cell[OffsetObjectness] != 1 {
						continue
					}
					anchor := set.At(group[slot])
					out = append(out, Assignment{
						Scale:  scale,
						CellX:  x,
						CellY:  y,
						Slot:   slot,
						Anchor: group[slot],
						Class:  argmax(cell[OffsetClass:]),
						CX:     (float32(x) + cell[OffsetBox+0]) * stride,
						CY:     (float32(y) + cell[OffsetBox+1]) * stride,
						W:      anchor.W * math32.Exp(cell[OffsetBox+2]),
						H:      anchor.H * math32.Exp(cell[OffsetBox+3]),
					})
				}
			}
		}
	}
	return out, nil
}

// CountPositives returns the number of objectness flags set in a target
// tensor of any rank whose last axis has the target depth.
func CountPositives(t *tensor.Dense) int {
	shape := t.Shape()
	data, ok := t.Data().([]float32)
	if !ok || len(shape) == 0 {
		return 0
	}
	depth := shape[len(shape)-1]
	n := 0
	for i := OffsetObjectness; i < len(data); i += depth {
		if data[i] == 1 {
			n++
		}
	}
	return n
}

func argmax(v []float32) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
