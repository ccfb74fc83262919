// Package anchors - Anchor priors, their partition across detection scales, and shape matching.
package anchors

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-ml-train/annotations"
	"gonum.org/v1/gonum/floats"
)

const (
	// NumScales is the number of detection scales (coarse, medium, fine).
	NumScales = 3
	// PerScale is the number of anchors assigned to each scale.
	PerScale = 3
	// Total is the number of anchors in a set.
	Total = NumScales * PerScale
)

// DefaultMask lists, coarse scale first, which anchor indices belong to each
// scale. Anchor files are conventionally sorted small to large, so the
// coarsest grid gets the largest priors.
var DefaultMask = [NumScales][PerScale]int{{6, 7, 8}, {3, 4, 5}, {0, 1, 2}}

// Anchor is a (width, height) prior in canvas pixels.
type Anchor struct {
	W, H float32
}

// Area returns W*H.
func (a Anchor) Area() float32 {
	return a.W * a.H
}

// Set is an immutable group of Total anchors partitioned into NumScales
// groups of PerScale.
type Set struct {
	anchors []Anchor
	mask    [NumScales][PerScale]int
	// scaleOf and slotOf invert mask: anchor index -> (scale, position in group).
	scaleOf [Total]int
	slotOf  [Total]int
}

// NewSet validates the anchors and mask and builds the inverse lookup.
//
// Arguments:
// - list: Exactly Total anchors, in file order.
// - mask: Per scale (coarse first), the anchor indices of that scale's group.
//
// Returns:
// - The set.
// - A *annotations.ConfigurationError if the count is wrong, a dimension is
// negative, or the mask is not a permutation of 0..Total-1.
//
// @example
// set, err := NewSet(list, DefaultMask)
func NewSet(list []Anchor, mask [NumScales][PerScale]int) (Set, error) {
	if len(list) != Total {
		return Set{}, annotations.NewConfigurationError("anchors", "expected %d anchors, got %d", Total, len(list))
	}
	for i, a := range list {
		if a.W < 0 || a.H < 0 {
			return Set{}, annotations.NewConfigurationError("anchors", "anchor %d has negative size %vx%v", i, a.W, a.H)
		}
	}

	s := Set{anchors: append([]Anchor(nil), list...), mask: mask}
	var seen [Total]bool
	for scale, group := range mask {
		for slot, idx := range group {
			if idx < 0 || idx >= Total {
				return Set{}, annotations.NewConfigurationError("anchors.mask", "index %d out of range", idx)
			}
			if seen[idx] {
				return Set{}, annotations.NewConfigurationError("anchors.mask", "index %d listed twice", idx)
			}
			seen[idx] = true
			s.scaleOf[idx] = scale
			s.slotOf[idx] = slot
		}
	}
	return s, nil
}

// Anchors returns a copy of the anchors in file order.
func (s Set) Anchors() []Anchor {
	return append([]Anchor(nil), s.anchors...)
}

// At returns the anchor at index i.
func (s Set) At(i int) Anchor {
	return s.anchors[i]
}

// Mask returns the scale partition.
func (s Set) Mask() [NumScales][PerScale]int {
	return s.mask
}

// Locate returns the scale and the position within that scale's group for
// anchor index i.
func (s Set) Locate(i int) (scale, slot int) {
	return s.scaleOf[i], s.slotOf[i]
}

// Group returns the anchors of one scale, in mask order.
func (s Set) Group(scale int) [PerScale]Anchor {
	var g [PerScale]Anchor
	for slot, idx := range s.mask[scale] {
		g[slot] = s.anchors[idx]
	}
	return g
}

// IoU computes a position-independent intersection over union between a box
// of size w x h and an anchor, treating both as centred on the same point.
//
// Because both rectangles share a centre the intersection is simply
// min(w,aw) * min(h,ah); the union follows from inclusion-exclusion:
//
//	union = w*h + aw*ah - intersection
//
// An anchor with zero area, or a zero union, scores 0.
//
// Arguments:
// - w, h: Box size in canvas pixels.
// - a: The anchor prior.
//
// Returns:
// - A value in [0,1].
//
// @example
// IoU(20, 20, Anchor{W: 20, H: 20}) // 1.0
// IoU(10, 20, Anchor{W: 20, H: 20}) // 200 / 400 = 0.5
func IoU(w, h float32, a Anchor) float32 {
	if a.Area() <= 0 || w <= 0 || h <= 0 {
		return 0
	}
	overlap := math32.Min(w, a.W) * math32.Min(h, a.H)
	union := w*h + a.Area() - overlap
	if union <= 0 {
		return 0
	}
	return overlap / union
}

// Best returns the index of the anchor with the highest IoU against a w x h
// box. Ties go to the lowest index. The choice depends only on the box size,
// never on its position.
func (s Set) Best(w, h float32) int {
	scores := make([]float64, len(s.anchors))
	for i, a := range s.anchors {
		scores[i] = float64(IoU(w, h, a))
	}
	return floats.MaxIdx(scores)
}

// Parse reads a single comma-separated line of 2*Total floats.
func Parse(line, source string) ([]Anchor, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 2*Total {
		return nil, annotations.NewConfigurationError(source, "expected %d values, got %d", 2*Total, len(parts))
	}

	list := make([]Anchor, Total)
	for i := 0; i < Total; i++ {
		w, err := strconv.ParseFloat(strings.TrimSpace(parts[2*i]), 32)
		if err != nil {
			return nil, annotations.NewConfigurationError(source, "anchor %d width: %v", i, err)
		}
		h, err := strconv.ParseFloat(strings.TrimSpace(parts[2*i+1]), 32)
		if err != nil {
			return nil, annotations.NewConfigurationError(source, "anchor %d height: %v", i, err)
		}
		list[i] = Anchor{W: float32(w), H: float32(h)}
	}
	return list, nil
}

// Load reads the first line of the anchor file at path and builds a Set
// with the given mask.
func Load(path string, mask [NumScales][PerScale]int) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return Set{}, annotations.NewConfigurationError(path, "cannot open anchor file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Set{}, annotations.NewConfigurationError(path, "cannot read anchor file: %v", err)
		}
		return Set{}, annotations.NewConfigurationError(path, "anchor file is empty")
	}

	list, err := Parse(scanner.Text(), path)
	if err != nil {
		return Set{}, err
	}
	return NewSet(list, mask)
}

// String lists the anchors per scale for logging.
func (s Set) String() string {
	var b strings.Builder
	for scale := 0; scale < NumScales; scale++ {
		if scale > 0 {
			b.WriteString(" | ")
		}
		g := s.Group(scale)
		fmt.Fprintf(&b, "scale %d: %vx%v %vx%v %vx%v", scale, g[0].W, g[0].H, g[1].W, g[1].H, g[2].W, g[2].H)
	}
	return b.String()
}
