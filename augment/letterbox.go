package augment

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/nvr-ai/go-ml-train/annotations"
	"github.com/pkg/errors"
)

var errEmptyImage = errors.New("image has no pixels")

// letterbox fits src inside the canvas without distorting it and centres it
// on the fill colour. Boxes keep their order.
//
// An image that already matches the canvas comes back pixel-for-pixel
// unchanged, with unchanged boxes.
func (a *Augmenter) letterbox(src image.Image, boxes []annotations.Box) Sample {
	b := src.Bounds()
	iw, ih := b.Dx(), b.Dy()
	cw, ch := a.opts.Canvas.X, a.opts.Canvas.Y

	scale := min(float64(cw)/float64(iw), float64(ch)/float64(ih))
	nw := max(int(float64(iw)*scale), 1)
	nh := max(int(float64(ih)*scale), 1)
	dx, dy := (cw-nw)/2, (ch-nh)/2

	canvas := imaging.New(cw, ch, a.opts.Fill)
	canvas = imaging.Paste(canvas, resizeTo(src, image.Pt(nw, nh)), image.Pt(dx, dy))

	remapped := make([]annotations.Box, len(boxes))
	sx, sy := float32(nw)/float32(iw), float32(nh)/float32(ih)
	for i, box := range boxes {
		remapped[i] = box.Remap(sx, sy, float32(dx), float32(dy))
	}

	kept, dropped := a.finish(remapped)
	return Sample{Image: canvas, Boxes: kept, Dropped: dropped}
}
