package annotations

import "fmt"

// ConfigurationError reports a setup problem that prevents any batch from
// being produced: bad batch size, empty dataset, malformed anchor or class
// files, unusable canvas dimensions.
type ConfigurationError struct {
	// Source names the offending file or option.
	Source string
	// Reason describes what is wrong with it.
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Source, e.Reason)
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(source, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Source: source, Reason: fmt.Sprintf(format, args...)}
}

// RecordError reports a problem with a single record: a malformed annotation
// line or an image that cannot be opened or decoded. The caller decides
// whether to skip the record or abort.
type RecordError struct {
	// Path is the image path, or the annotation file for parse errors.
	Path string
	// Line is the 1-based annotation line, 0 when unknown.
	Line int
	// Err is the underlying cause.
	Err error
}

func (e *RecordError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("record %s (line %d): %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("record %s: %v", e.Path, e.Err)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *RecordError) Unwrap() error {
	return e.Err
}
