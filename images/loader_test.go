package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestLoaderDecodesPNG(t *testing.T) {
	path := writePNG(t, t.TempDir(), "a.png", 40, 30)

	img, format, err := NewLoader(false).Load(path)
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, format)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())

	r, g, b, _ := img.At(5, 7).RGBA()
	assert.Equal(t, uint32(5), r>>8)
	assert.Equal(t, uint32(7), g>>8)
	assert.Equal(t, uint32(200), b>>8)
}

func TestLoaderCachesDecodedImages(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png", 8, 8)
	loader := NewLoader(true)

	first, _, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.Len())

	// The cached copy survives the file disappearing.
	require.NoError(t, os.Remove(path))
	second, _, err := loader.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLoaderErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := NewLoader(false).Load(filepath.Join(dir, "missing.jpg"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(errors.Cause(err)))

	text := filepath.Join(dir, "notes.jpg")
	require.NoError(t, os.WriteFile(text, []byte("definitely not pixels"), 0o644))
	_, _, err = NewLoader(false).Load(text)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat), "got %v", err)

	// A valid PNG signature followed by garbage sniffs as PNG but fails to decode.
	truncated := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(truncated, append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x01}, 64)...), 0o644))
	_, _, err = NewLoader(false).Load(truncated)
	assert.True(t, errors.Is(err, ErrDecode), "got %v", err)

	_, _, err = Decode(nil)
	assert.True(t, errors.Is(err, ErrDecode))
}
