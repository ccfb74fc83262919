package augment

import (
	"image"
	"image/color"

	"github.com/nvr-ai/go-ml-train/annotations"
)

// Options configures the augmenter. Ranges are inclusive bounds of uniform
// draws.
type Options struct {
	// Canvas is the output size (X = width, Y = height).
	Canvas image.Point
	// Jitter bounds the aspect-ratio distortion: each of two factors is drawn
	// from U(1-Jitter, 1+Jitter) and their ratio multiplies the canvas aspect.
	Jitter float64
	// ScaleMin and ScaleMax bound the size of the pasted image relative to the canvas.
	ScaleMin float64
	ScaleMax float64
	// Hue is the maximum hue rotation as a fraction of a full turn.
	Hue float64
	// Saturation and Value bound the multiplicative factors; each factor is
	// U(1, S) or its reciprocal with equal probability.
	Saturation float64
	Value      float64
	// FlipProb is the probability of a horizontal flip.
	FlipProb float64
	// MaxBoxes caps the boxes kept per image; excess boxes are dropped.
	MaxBoxes int
	// Fill paints canvas area not covered by the image.
	Fill color.NRGBA
}

// DefaultOptions returns the standard YOLOv3 augmentation settings for a canvas.
func DefaultOptions(canvas image.Point) Options {
	return Options{
		Canvas:     canvas,
		Jitter:     0.3,
		ScaleMin:   0.25,
		ScaleMax:   2,
		Hue:        0.1,
		Saturation: 1.5,
		Value:      1.5,
		FlipProb:   0.5,
		MaxBoxes:   20,
		Fill:       color.NRGBA{R: 128, G: 128, B: 128, A: 255},
	}
}

// Validate reports the first unusable option as a ConfigurationError.
func (o Options) Validate() error {
	switch {
	case o.Canvas.X <= 0 || o.Canvas.Y <= 0:
		return annotations.NewConfigurationError("augment.canvas", "canvas %dx%d must be positive", o.Canvas.X, o.Canvas.Y)
	case o.Jitter < 0 || o.Jitter >= 1:
		return annotations.NewConfigurationError("augment.jitter", "jitter %v must be in [0,1)", o.Jitter)
	case o.ScaleMin <= 0 || o.ScaleMax < o.ScaleMin:
		return annotations.NewConfigurationError("augment.scale", "scale range [%v,%v] is invalid", o.ScaleMin, o.ScaleMax)
	case o.Hue < 0 || o.Hue > 0.5:
		return annotations.NewConfigurationError("augment.hue", "hue %v must be in [0,0.5]", o.Hue)
	case o.Saturation < 1 || o.Value < 1:
		return annotations.NewConfigurationError("augment.hsv", "saturation %v and value %v must be >= 1", o.Saturation, o.Value)
	case o.FlipProb < 0 || o.FlipProb > 1:
		return annotations.NewConfigurationError("augment.flipprob", "flip probability %v must be in [0,1]", o.FlipProb)
	case o.MaxBoxes <= 0:
		return annotations.NewConfigurationError("augment.maxboxes", "max boxes must be positive, got %d", o.MaxBoxes)
	}
	return nil
}
