// Package annotations - Ground-truth records, boxes, and the text formats they are loaded from.
package annotations

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// Box is an axis-aligned ground-truth rectangle with its class index.
//
// Coordinates are pixels of whatever canvas the box currently lives on: the
// source image when loaded, the training canvas after augmentation. Methods
// never mutate the receiver; every transform returns a new Box.
type Box struct {
	XMin, YMin, XMax, YMax float32
	// Class is the zero-based index into the class-name file.
	Class int
}

// String formats the box for logs and test failures.
func (b Box) String() string {
	return fmt.Sprintf("class %d: (%.2f, %.2f), (%.2f, %.2f)", b.Class, b.XMin, b.YMin, b.XMax, b.YMax)
}

// Width returns XMax-XMin. It is negative for inverted boxes.
func (b Box) Width() float32 {
	return b.XMax - b.XMin
}

// Height returns YMax-YMin. It is negative for inverted boxes.
func (b Box) Height() float32 {
	return b.YMax - b.YMin
}

// Center returns the box centre.
func (b Box) Center() (float32, float32) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

// Remap applies the affine transform x*sx+dx, y*sy+dy to both corners.
//
// Arguments:
// - sx, sy: Horizontal and vertical scale factors.
// - dx, dy: Translation applied after scaling.
//
// Returns:
// - The transformed box; the class is preserved.
//
// @example
// b := Box{XMin: 10, YMin: 10, XMax: 20, YMax: 30}
// r := b.Remap(2, 2, 5, 0) // (25, 20), (45, 60)
func (b Box) Remap(sx, sy, dx, dy float32) Box {
	return Box{
		XMin:  b.XMin*sx + dx,
		YMin:  b.YMin*sy + dy,
		XMax:  b.XMax*sx + dx,
		YMax:  b.YMax*sy + dy,
		Class: b.Class,
	}
}

// MirrorX reflects the box about a vertical axis at x = width/2, keeping
// XMin <= XMax.
func (b Box) MirrorX(width float32) Box {
	return Box{
		XMin:  width - b.XMax,
		YMin:  b.YMin,
		XMax:  width - b.XMin,
		YMax:  b.YMax,
		Class: b.Class,
	}
}

// Clip clamps the box to [0,width]x[0,height]. The second return value is
// false when the box lies entirely outside the canvas.
func (b Box) Clip(width, height float32) (Box, bool) {
	if b.XMax <= 0 || b.YMax <= 0 || b.XMin >= width || b.YMin >= height {
		return Box{}, false
	}
	return Box{
		XMin:  math32.Max(b.XMin, 0),
		YMin:  math32.Max(b.YMin, 0),
		XMax:  math32.Min(b.XMax, width),
		YMax:  math32.Min(b.YMax, height),
		Class: b.Class,
	}, true
}

// ToRect converts the box to an integral image.Rectangle.
func (b Box) ToRect() image.Rectangle {
	return image.Rect(int(b.XMin), int(b.YMin), int(b.XMax), int(b.YMax)).Canon()
}
