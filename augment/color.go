package augment

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/parallel"
	"github.com/lucasb-eyer/go-colorful"
)

// jitterHSV rotates hue by hue turns and scales saturation and value, in
// place, clamping each channel to [0,1]. Alpha is left untouched.
func jitterHSV(img *image.NRGBA, hue, saturation, value float64) {
	if hue == 0 && saturation == 1 && value == 1 {
		return
	}

	b := img.Bounds()
	width := b.Dx()
	parallel.Line(b.Dy(), func(start, end int) {
		for y := start; y < end; y++ {
			row := img.Pix[y*img.Stride : y*img.Stride+width*4]
			for x := 0; x < len(row); x += 4 {
				c := colorful.Color{
					R: float64(row[x]) / 255,
					G: float64(row[x+1]) / 255,
					B: float64(row[x+2]) / 255,
				}
				h, s, v := c.Hsv()

				// colorful works in degrees.
				h = math.Mod(h+hue*360, 360)
				if h < 0 {
					h += 360
				}
				s = clamp01(s * saturation)
				v = clamp01(v * value)

				row[x], row[x+1], row[x+2] = colorful.Hsv(h, s, v).Clamped().RGB255()
			}
		}
	})
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
