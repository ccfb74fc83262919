package annotations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected Record
		wantErr  bool
	}{
		{
			name:     "Image without boxes",
			line:     "images/empty.jpg",
			expected: Record{ImagePath: "images/empty.jpg", Line: 3, Boxes: []Box{}},
		},
		{
			name: "Two boxes",
			line: "images/cat.jpg 10,20,110,220,0 5,5,50,60,2",
			expected: Record{
				ImagePath: "images/cat.jpg",
				Line:      3,
				Boxes: []Box{
					{XMin: 10, YMin: 20, XMax: 110, YMax: 220, Class: 0},
					{XMin: 5, YMin: 5, XMax: 50, YMax: 60, Class: 2},
				},
			},
		},
		{
			name:    "Too few values in a group",
			line:    "images/cat.jpg 10,20,110,0",
			wantErr: true,
		},
		{
			name:    "Non-numeric coordinate",
			line:    "images/cat.jpg 10,x,110,220,0",
			wantErr: true,
		},
		{
			name:    "NaN coordinate",
			line:    "images/cat.jpg 8,8,NaN,40,0",
			wantErr: true,
		},
		{
			name:    "Infinite coordinate",
			line:    "images/cat.jpg -Inf,8,40,40,0",
			wantErr: true,
		},
		{
			name:    "Negative class",
			line:    "images/cat.jpg 10,20,110,220,-1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseLine(tt.line, "train.txt", 3)
			if tt.wantErr {
				var recErr *RecordError
				require.True(t, errors.As(err, &recErr), "expected a RecordError, got %v", err)
				assert.Equal(t, "train.txt", recErr.Path)
				assert.Equal(t, 3, recErr.Line)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.expected, rec); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadAnnotationsSkipsBlankLinesAndKeepsLineNumbers(t *testing.T) {
	input := "a.jpg 1,1,10,10,0\n\n  \nb.jpg 2,2,20,20,1\n"

	records, err := ReadAnnotations(strings.NewReader(input), "mem")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Line)
	assert.Equal(t, 4, records[1].Line)
	assert.Equal(t, "b.jpg", records[1].ImagePath)
}

func TestReadAnnotationsReportsMalformedLine(t *testing.T) {
	input := "a.jpg 1,1,10,10,0\nb.jpg 2,2,20\n"

	_, err := ReadAnnotations(strings.NewReader(input), "mem")
	var recErr *RecordError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, 2, recErr.Line)
	assert.Contains(t, recErr.Error(), "line 2")
}

func TestLoadAnnotationsEmptyFileIsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0o644))

	_, err := LoadAnnotations(path)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, path, cfgErr.Source)
}

func TestLoadAnnotationsMissingFile(t *testing.T) {
	_, err := LoadAnnotations(filepath.Join(t.TempDir(), "missing.txt"))
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestReadClasses(t *testing.T) {
	names, err := ReadClasses(strings.NewReader("cat\n dog \n\nbird\n"), "classes.names")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog", "bird"}, names)

	_, err = ReadClasses(strings.NewReader("\n\n"), "classes.names")
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestValidateClasses(t *testing.T) {
	records := []Record{
		{ImagePath: "a.jpg", Line: 1, Boxes: []Box{{XMax: 1, YMax: 1, Class: 1}}},
		{ImagePath: "b.jpg", Line: 2, Boxes: []Box{{XMax: 1, YMax: 1, Class: 0}, {XMax: 1, YMax: 1, Class: 4}}},
	}

	require.NoError(t, ValidateClasses(records, 5))

	err := ValidateClasses(records, 2)
	var recErr *RecordError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, "b.jpg", recErr.Path)
	assert.Equal(t, 2, recErr.Line)
}
