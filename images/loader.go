package images

import (
	"bytes"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

var (
	// ErrUnsupportedFormat is returned when the file content is not a decodable image.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDecode is returned when the content claims an image format but fails to decode.
	ErrDecode = errors.New("corrupt image data")
)

// Loader reads and decodes images by path, optionally caching decoded images.
//
// Caching trades memory for disk reads: a small dataset visited for many
// epochs decodes every image once. Cached images are shared, so callers must
// treat them as read-only; the augmenter always draws onto a fresh canvas.
//
// Loader is safe for concurrent use.
type Loader struct {
	cache bool
	mu    sync.RWMutex
	items map[string]image.Image
}

// NewLoader creates a loader. With cache disabled every Load reads from disk.
//
// Arguments:
// - cache: Whether decoded images are kept in memory.
//
// Returns:
// - A ready Loader.
//
// @example
// loader := NewLoader(true)
// img, format, err := loader.Load("images/cat.jpg")
func NewLoader(cache bool) *Loader {
	return &Loader{
		cache: cache,
		items: make(map[string]image.Image),
	}
}

// Load reads the file at path, sniffs its format and decodes it.
//
// Arguments:
// - path: The image path.
//
// Returns:
// - The decoded image.
// - The detected format.
// - An error wrapping the open failure, ErrUnsupportedFormat or ErrDecode.
func (l *Loader) Load(path string) (image.Image, ImageFormat, error) {
	if l.cache {
		l.mu.RLock()
		img, ok := l.items[path]
		l.mu.RUnlock()
		if ok {
			return img, "", nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to open image")
	}

	img, format, err := Decode(data)
	if err != nil {
		return nil, "", err
	}

	if l.cache {
		l.mu.Lock()
		l.items[path] = img
		l.mu.Unlock()
	}
	return img, format, nil
}

// Len returns the number of cached images.
func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Decode sniffs the MIME type of data and decodes it.
//
// Arguments:
// - data: Raw file content.
//
// Returns:
// - The decoded image, with EXIF orientation applied for JPEGs.
// - The detected format.
// - ErrUnsupportedFormat or ErrDecode (wrapped) on failure.
func Decode(data []byte) (image.Image, ImageFormat, error) {
	if len(data) == 0 {
		return nil, "", errors.Wrap(ErrDecode, "empty file")
	}

	mime := strings.Split(mimetype.Detect(data).String(), ";")[0]
	format, ok := formatsByMIME[mime]
	if !ok {
		return nil, "", errors.Wrapf(ErrUnsupportedFormat, "detected %s", mime)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, format, errors.Wrapf(ErrDecode, "%s: %v", format, err)
	}
	return img, format, nil
}
