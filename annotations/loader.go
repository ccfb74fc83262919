package annotations

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// maxLineBytes bounds a single annotation line; images with hundreds of boxes
// still fit comfortably.
const maxLineBytes = 1 << 20

// ParseLine parses one annotation line of the form
//
//	<image_path> x1,y1,x2,y2,class_id x1,y1,x2,y2,class_id ...
//
// Arguments:
// - text: The raw line.
// - source: The annotation file name, used for error context.
// - line: The 1-based line number, used for error context.
//
// Returns:
// - The parsed record.
// - A *RecordError if the line has no path or a malformed box group.
//
// @example
// rec, err := ParseLine("images/cat.jpg 10,20,110,220,0", "train.txt", 1)
func ParseLine(text, source string, line int) (Record, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Record{}, &RecordError{Path: source, Line: line, Err: errors.New("empty annotation line")}
	}

	rec := Record{
		ImagePath: fields[0],
		Line:      line,
		Boxes:     make([]Box, 0, len(fields)-1),
	}
	for i, group := range fields[1:] {
		box, err := parseBox(group)
		if err != nil {
			return Record{}, &RecordError{
				Path: source,
				Line: line,
				Err:  errors.Wrapf(err, "box %d (%q)", i, group),
			}
		}
		rec.Boxes = append(rec.Boxes, box)
	}
	return rec, nil
}

func parseBox(group string) (Box, error) {
	parts := strings.Split(group, ",")
	if len(parts) != 5 {
		return Box{}, errors.Errorf("expected 5 comma-separated values, got %d", len(parts))
	}

	var coords [4]float32
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 32)
		if err != nil {
			return Box{}, errors.Wrap(err, "invalid coordinate")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Box{}, errors.Errorf("non-finite coordinate %q", parts[i])
		}
		coords[i] = float32(v)
	}

	class, err := strconv.Atoi(strings.TrimSpace(parts[4]))
	if err != nil {
		return Box{}, errors.Wrap(err, "invalid class id")
	}
	if class < 0 {
		return Box{}, errors.Errorf("negative class id %d", class)
	}

	return Box{XMin: coords[0], YMin: coords[1], XMax: coords[2], YMax: coords[3], Class: class}, nil
}

// ReadAnnotations parses every non-blank line of r.
//
// Arguments:
// - r: The annotation stream.
// - source: Name used in error context (usually the file path).
//
// Returns:
// - The records in file order.
// - The first *RecordError encountered, or a wrapped read error.
func ReadAnnotations(r io.Reader, source string) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		rec, err := ParseLine(text, source, line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read annotations from %s", source)
	}
	return records, nil
}

// LoadAnnotations reads the annotation file at path.
//
// An unreadable file or a file with no records is a *ConfigurationError:
// without records no batch can ever be produced.
func LoadAnnotations(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewConfigurationError(path, "cannot open annotation file: %v", err)
	}
	defer f.Close()

	records, err := ReadAnnotations(f, path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, NewConfigurationError(path, "annotation file has no records")
	}
	return records, nil
}

// ReadClasses reads one class name per line. Line order defines the class
// index; blank lines are skipped.
func ReadClasses(r io.Reader, source string) ([]string, error) {
	scanner := bufio.NewScanner(r)

	var names []string
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read classes from %s", source)
	}
	if len(names) == 0 {
		return nil, NewConfigurationError(source, "class-name file has no entries")
	}
	return names, nil
}

// LoadClasses reads the class-name file at path.
func LoadClasses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewConfigurationError(path, "cannot open class-name file: %v", err)
	}
	defer f.Close()

	return ReadClasses(f, path)
}

// ValidateClasses checks every box class against the class count.
//
// Returns:
// - A *RecordError naming the first record that references an unknown class.
func ValidateClasses(records []Record, numClasses int) error {
	for _, rec := range records {
		for i, box := range rec.Boxes {
			if box.Class >= numClasses {
				return &RecordError{
					Path: rec.ImagePath,
					Line: rec.Line,
					Err:  errors.Errorf("box %d has class %d, only %d classes defined", i, box.Class, numClasses),
				}
			}
		}
	}
	return nil
}
