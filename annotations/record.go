package annotations

// Record is one line of the annotation file: an image and its boxes.
//
// Records are loaded once and shared read-only between the cycler and the
// augmenter; augmentation always produces new box slices.
type Record struct {
	// ImagePath is the path exactly as written in the annotation file.
	ImagePath string
	// Line is the 1-based line number the record was parsed from.
	Line int
	// Boxes are the ground-truth boxes in source-image pixels, in file order.
	Boxes []Box
}
