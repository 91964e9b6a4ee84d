// Package model_selection provides train/test splitting, k-fold splitters and
// cross-validation for binary classifiers.
package model_selection

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// SplitOption is a functional option for TrainTestSplit
type SplitOption func(*splitConfig)

type splitConfig struct {
	testSize    float64
	randomState int64
	stratify    bool
}

// WithTestSize sets the fraction of rows placed in the test set (default 0.2)
func WithTestSize(testSize float64) SplitOption {
	return func(c *splitConfig) {
		c.testSize = testSize
	}
}

// WithSplitRandomState sets the shuffle seed (default 42)
func WithSplitRandomState(seed int64) SplitOption {
	return func(c *splitConfig) {
		c.randomState = seed
	}
}

// WithStratify enables or disables stratification on y (default true)
func WithStratify(stratify bool) SplitOption {
	return func(c *splitConfig) {
		c.stratify = stratify
	}
}

// newRand returns the seeded generator shared by every splitter in this package
func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

// TrainTestSplit splits X and y into random train and test subsets.
//
// With stratification (the default) the class proportions of y are preserved in
// both subsets: the test set holds ceil(testSize*n) rows and each class receives
// its proportional share, with leftover rows assigned by largest remainder.
// The same seed always yields the same partition.
func TrainTestSplit(X, y mat.Matrix, opts ...SplitOption) (XTrain, XTest, yTrain, yTest *mat.Dense, err error) {
	cfg := &splitConfig{testSize: 0.2, randomState: 42, stratify: true}
	for _, opt := range opts {
		opt(cfg)
	}

	nSamples, _ := X.Dims()
	if nSamples == 0 {
		return nil, nil, nil, nil, errors.Wrap(errors.ErrEmptyData, "TrainTestSplit")
	}
	if yRows, yCols := y.Dims(); yRows != nSamples || yCols != 1 {
		return nil, nil, nil, nil, errors.NewDimensionError("TrainTestSplit", nSamples, yRows, 0)
	}
	if cfg.testSize <= 0 || cfg.testSize >= 1 {
		return nil, nil, nil, nil, errors.NewValidationError("test_size", "must be in the open interval (0, 1)", cfg.testSize)
	}

	nTest := int(math.Ceil(cfg.testSize * float64(nSamples)))
	nTrain := nSamples - nTest
	if nTrain <= 0 {
		return nil, nil, nil, nil, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("with n_samples=%d and test_size=%v the resulting train set is empty", nSamples, cfg.testSize))
	}

	rng := newRand(cfg.randomState)
	var trainIdx, testIdx []int
	if cfg.stratify {
		trainIdx, testIdx, err = stratifiedShuffle(y, nTrain, nTest, rng)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	} else {
		perm := rng.Perm(nSamples)
		testIdx, trainIdx = perm[:nTest], perm[nTest:]
	}

	log.GetLoggerWithName("model_selection").Debug("Split data",
		log.OperationKey, log.OperationSplit,
		log.SamplesKey, nSamples,
		"train_samples", len(trainIdx),
		"test_samples", len(testIdx),
		log.RandomSeedKey, cfg.randomState,
	)

	XTrain, yTrain = extractSubset(X, y, trainIdx)
	XTest, yTest = extractSubset(X, y, testIdx)
	return XTrain, XTest, yTrain, yTest, nil
}

// classGroups returns the sorted distinct labels of y and the row indices of each
func classGroups(y mat.Matrix) ([]float64, map[float64][]int) {
	n, _ := y.Dims()
	groups := make(map[float64][]int)
	for i := 0; i < n; i++ {
		label := y.At(i, 0)
		groups[label] = append(groups[label], i)
	}
	classes := make([]float64, 0, len(groups))
	for label := range groups {
		classes = append(classes, label)
	}
	sort.Float64s(classes)
	return classes, groups
}

func stratifiedShuffle(y mat.Matrix, nTrain, nTest int, rng *rand.Rand) (train, test []int, err error) {
	classes, groups := classGroups(y)
	nClasses := len(classes)
	if nClasses < 2 {
		return nil, nil, errors.NewValidationError("y", "stratification requires at least two classes", nClasses)
	}

	counts := make([]int, nClasses)
	for k, c := range classes {
		counts[k] = len(groups[c])
		if counts[k] < 2 {
			return nil, nil, errors.NewInsufficientSamplesError("TrainTestSplit", c, counts[k], 2)
		}
	}
	if nTrain < nClasses || nTest < nClasses {
		return nil, nil, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("train size %d and test size %d must each be at least the number of classes %d", nTrain, nTest, nClasses))
	}

	trainCounts := approximateMode(counts, nTrain, rng)
	remaining := make([]int, nClasses)
	for k := range counts {
		remaining[k] = counts[k] - trainCounts[k]
	}
	testCounts := approximateMode(remaining, nTest, rng)

	for k, c := range classes {
		idx := append([]int(nil), groups[c]...)
		rng.Shuffle(len(idx), func(i, j int) {
			idx[i], idx[j] = idx[j], idx[i]
		})
		train = append(train, idx[:trainCounts[k]]...)
		test = append(test, idx[trainCounts[k]:trainCounts[k]+testCounts[k]]...)
	}

	rng.Shuffle(len(train), func(i, j int) {
		train[i], train[j] = train[j], train[i]
	})
	rng.Shuffle(len(test), func(i, j int) {
		test[i], test[j] = test[j], test[i]
	})
	return train, test, nil
}

// approximateMode distributes nDraws among classes proportionally to counts.
// Each class first gets floor(share); the rows still missing go to the classes
// with the largest fractional remainders, ties broken at random.
func approximateMode(counts []int, nDraws int, rng *rand.Rand) []int {
	total := 0
	for _, c := range counts {
		total += c
	}

	result := make([]int, len(counts))
	remainders := make([]float64, len(counts))
	assigned := 0
	for k, c := range counts {
		continuous := float64(c) / float64(total) * float64(nDraws)
		result[k] = int(math.Floor(continuous))
		remainders[k] = continuous - float64(result[k])
		assigned += result[k]
	}

	needToAdd := nDraws - assigned
	if needToAdd <= 0 {
		return result
	}

	// Distinct remainder values in descending order
	values := append([]float64(nil), remainders...)
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	for i, v := range values {
		if needToAdd == 0 {
			break
		}
		if i > 0 && v == values[i-1] {
			continue
		}
		var tied []int
		for k, r := range remainders {
			if r == v {
				tied = append(tied, k)
			}
		}
		rng.Shuffle(len(tied), func(a, b int) {
			tied[a], tied[b] = tied[b], tied[a]
		})
		for _, k := range tied {
			if needToAdd == 0 {
				break
			}
			result[k]++
			needToAdd--
		}
	}
	return result
}

// extractSubset copies the rows of X and y named by indices, in that order
func extractSubset(X, y mat.Matrix, indices []int) (*mat.Dense, *mat.Dense) {
	_, xCols := X.Dims()
	_, yCols := y.Dims()

	xSubset := mat.NewDense(len(indices), xCols, nil)
	ySubset := mat.NewDense(len(indices), yCols, nil)
	for i, idx := range indices {
		for j := 0; j < xCols; j++ {
			xSubset.Set(i, j, X.At(idx, j))
		}
		for j := 0; j < yCols; j++ {
			ySubset.Set(i, j, y.At(idx, j))
		}
	}
	return xSubset, ySubset
}
