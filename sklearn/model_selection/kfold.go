package model_selection

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// KFoldSplitter defines interface for cross-validation splitters
type KFoldSplitter interface {
	Split(X, y mat.Matrix) ([]CVFold, error)
	GetNSplits() int
}

// CVFold represents a single fold in cross-validation
type CVFold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold implements k-fold cross-validation splitter
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool, randomSeed int64) *KFold {
	return &KFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split generates train/test indices for each fold
func (kf *KFold) Split(X, _ mat.Matrix) ([]CVFold, error) {
	nSamples, _ := X.Dims()
	if err := checkNSplits(kf.NSplits, nSamples); err != nil {
		return nil, err
	}

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		r := newRand(kf.RandomSeed)
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	testFolds := make([][]int, kf.NSplits)
	foldSize := nSamples / kf.NSplits
	remainder := nSamples % kf.NSplits
	current := 0
	for i := 0; i < kf.NSplits; i++ {
		testSize := foldSize
		if i < remainder {
			testSize++
		}
		testFolds[i] = append([]int(nil), indices[current:current+testSize]...)
		current += testSize
	}
	return buildFolds(testFolds, nSamples), nil
}

// StratifiedKFold implements stratified k-fold cross-validation
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed int64) *StratifiedKFold {
	return &StratifiedKFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split generates stratified train/test indices for each fold.
// Every class is dealt across the folds separately, so each test fold holds
// floor or ceil of count/k rows of every class.
func (skf *StratifiedKFold) Split(X, y mat.Matrix) ([]CVFold, error) {
	nSamples, _ := X.Dims()
	if yRows, _ := y.Dims(); yRows != nSamples {
		return nil, errors.NewDimensionError("StratifiedKFold.Split", nSamples, yRows, 0)
	}
	if err := checkNSplits(skf.NSplits, nSamples); err != nil {
		return nil, err
	}

	classes, groups := classGroups(y)
	maxCount := 0
	for _, c := range classes {
		if n := len(groups[c]); n > maxCount {
			maxCount = n
		}
		if n := len(groups[c]); n < skf.NSplits {
			log.GetLoggerWithName("model_selection").Warn("Least populated class has fewer members than n_splits",
				"class", c,
				log.SamplesKey, n,
				log.FoldsKey, skf.NSplits,
			)
		}
	}
	if maxCount < skf.NSplits {
		return nil, errors.NewValueError("StratifiedKFold.Split",
			fmt.Sprintf("n_splits=%d cannot be greater than the number of members in each class", skf.NSplits))
	}

	var r *rand.Rand
	if skf.Shuffle {
		r = newRand(skf.RandomSeed)
	}

	testFolds := make([][]int, skf.NSplits)
	offset := 0
	for _, c := range classes {
		indices := append([]int(nil), groups[c]...)
		if r != nil {
			r.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}

		// Rotate the starting fold per class so the larger folds do not all coincide
		nClass := len(indices)
		foldSize := nClass / skf.NSplits
		remainder := nClass % skf.NSplits
		current := 0
		for i := 0; i < skf.NSplits; i++ {
			fold := (i + offset) % skf.NSplits
			testSize := foldSize
			if i < remainder {
				testSize++
			}
			testFolds[fold] = append(testFolds[fold], indices[current:current+testSize]...)
			current += testSize
		}
		offset = (offset + remainder) % skf.NSplits
	}

	for _, fold := range testFolds {
		sort.Ints(fold)
	}
	return buildFolds(testFolds, nSamples), nil
}

func checkNSplits(nSplits, nSamples int) error {
	if nSplits < 2 {
		return errors.NewValidationError("n_splits", "must be at least 2", nSplits)
	}
	if nSplits > nSamples {
		return errors.NewValueError("KFold.Split",
			fmt.Sprintf("cannot have number of splits n_splits=%d greater than the number of samples n_samples=%d", nSplits, nSamples))
	}
	return nil
}

// buildFolds derives each fold's training indices as the complement of its test indices
func buildFolds(testFolds [][]int, nSamples int) []CVFold {
	folds := make([]CVFold, len(testFolds))
	for i, test := range testFolds {
		inTest := make([]bool, nSamples)
		for _, idx := range test {
			inTest[idx] = true
		}
		train := make([]int, 0, nSamples-len(test))
		for j := 0; j < nSamples; j++ {
			if !inTest[j] {
				train = append(train, j)
			}
		}
		folds[i] = CVFold{TrainIndices: train, TestIndices: test}
	}
	return folds
}
