package anchors

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-ml-train/annotations"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yoloAnchors = "10,13, 16,30, 33,23, 30,61, 62,45, 59,119, 116,90, 156,198, 373,326"

func mustSet(t *testing.T, line string) Set {
	t.Helper()
	list, err := Parse(line, "test")
	require.NoError(t, err)
	set, err := NewSet(list, DefaultMask)
	require.NoError(t, err)
	return set
}

// TestIoU_Correctness validates the centred IoU against hand-computed cases.
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		w, h     float32
		anchor   Anchor
		expected float32
	}{
		{"Identical", 20, 20, Anchor{20, 20}, 1.0},
		{"Half width", 10, 20, Anchor{20, 20}, 0.5},
		{"Box contains anchor", 40, 40, Anchor{20, 20}, 0.25},
		{"Crossed shapes", 10, 40, Anchor{40, 10}, 100.0 / 700.0},
		{"Zero-area anchor", 10, 10, Anchor{0, 5}, 0},
		{"Degenerate box", 0, 10, Anchor{5, 5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, IoU(tt.w, tt.h, tt.anchor), 1e-6)
		})
	}
}

func TestBestPrefersLowestIndexOnTie(t *testing.T) {
	set := mustSet(t, "20,20, 20,20, 1,1, 2,2, 3,3, 4,4, 5,5, 6,6, 20,20")

	assert.Equal(t, 0, set.Best(20, 20))
}

func TestBestIsTranslationInvariant(t *testing.T) {
	set := mustSet(t, yoloAnchors)

	// Best only takes a size, so any two boxes with the same size match the
	// same anchor regardless of where they sit.
	a := annotations.Box{XMin: 10, YMin: 10, XMax: 70, YMax: 130}
	b := annotations.Box{XMin: 300, YMin: 200, XMax: 360, YMax: 320}
	assert.Equal(t, set.Best(a.Width(), a.Height()), set.Best(b.Width(), b.Height()))
	assert.Equal(t, 5, set.Best(a.Width(), a.Height()), "60x120 is closest to 59x119")
}

func TestLocate(t *testing.T) {
	set := mustSet(t, yoloAnchors)

	scale, slot := set.Locate(8)
	assert.Equal(t, 0, scale)
	assert.Equal(t, 2, slot)

	scale, slot = set.Locate(0)
	assert.Equal(t, 2, scale)
	assert.Equal(t, 0, slot)

	g := set.Group(1)
	assert.Equal(t, [PerScale]Anchor{{30, 61}, {62, 45}, {59, 119}}, g)
}

func TestParseRejectsWrongCount(t *testing.T) {
	_, err := Parse("1,2,3,4", "anchors.txt")
	var cfgErr *annotations.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "anchors.txt", cfgErr.Source)
}

func TestNewSetRejectsBadMask(t *testing.T) {
	list, err := Parse(yoloAnchors, "test")
	require.NoError(t, err)

	_, err = NewSet(list, [NumScales][PerScale]int{{0, 1, 2}, {3, 4, 5}, {6, 7, 7}})
	var cfgErr *annotations.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = NewSet(list[:8], DefaultMask)
	assert.True(t, errors.As(err, &cfgErr))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yolo_anchors.txt")
	require.NoError(t, os.WriteFile(path, []byte(yoloAnchors+"\n"), 0o644))

	set, err := Load(path, DefaultMask)
	require.NoError(t, err)
	assert.Equal(t, Anchor{373, 326}, set.At(8))
	assert.Len(t, set.Anchors(), Total)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = Load(empty, DefaultMask)
	var cfgErr *annotations.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}
