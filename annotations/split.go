package annotations

import (
	"math/rand/v2"
)

// DefaultSplitSeed is the seed used to shuffle records before the
// train/validation split, so the split is stable between runs.
const DefaultSplitSeed = 10101

// Split shuffles a copy of records with a seeded source and holds out the
// first int(len*valSplit) records for validation.
//
// Arguments:
// - records: All loaded records. The slice itself is not reordered.
// - valSplit: Fraction in [0,1) held out for validation.
// - seed: Seed for the shuffle.
//
// Returns:
// - train, val: Disjoint record sets covering the input.
// - A *ConfigurationError when valSplit is out of range.
//
// @example
// train, val, err := Split(records, 0.1, DefaultSplitSeed)
func Split(records []Record, valSplit float64, seed uint64) ([]Record, []Record, error) {
	if valSplit < 0 || valSplit >= 1 {
		return nil, nil, NewConfigurationError("valsplit", "must be in [0,1), got %v", valSplit)
	}

	shuffled := make([]Record, len(records))
	copy(shuffled, records)
	rng := rand.New(rand.NewPCG(seed, seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	numVal := int(float64(len(shuffled)) * valSplit)
	numTrain := len(shuffled) - numVal
	return shuffled[:numTrain], shuffled[numTrain:], nil
}
