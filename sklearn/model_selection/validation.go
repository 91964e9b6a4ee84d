package model_selection

import (
	"fmt"
	"time"

	"github.com/YuminosukeSato/imbalanced/core/model"
	"github.com/YuminosukeSato/imbalanced/metrics"
	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Resampler rebalances a training set before fitting
type Resampler interface {
	FitResample(X, y mat.Matrix) (*mat.Dense, *mat.Dense, error)
}

// ResamplerFactory builds the resampler for one fold from that fold's seed
type ResamplerFactory func(seed int64) Resampler

// SeedStrategy controls which seed each fold's resampler receives
type SeedStrategy int

const (
	// SeedShared gives every fold the same seed
	SeedShared SeedStrategy = iota
	// SeedPerFold gives fold i the seed randomState+i
	SeedPerFold
)

// String returns the configuration name of the strategy
func (s SeedStrategy) String() string {
	switch s {
	case SeedShared:
		return "shared"
	case SeedPerFold:
		return "per_fold"
	default:
		return fmt.Sprintf("SeedStrategy(%d)", int(s))
	}
}

// ParseSeedStrategy converts "shared" or "per_fold" into a SeedStrategy
func ParseSeedStrategy(s string) (SeedStrategy, error) {
	switch s {
	case "shared", "":
		return SeedShared, nil
	case "per_fold":
		return SeedPerFold, nil
	default:
		return SeedShared, errors.NewValidationError("seed_strategy", "must be \"shared\" or \"per_fold\"", s)
	}
}

// CVOption is a functional option for CrossValidate
type CVOption func(*cvConfig)

type cvConfig struct {
	nSplits      int
	randomState  int64
	resampler    ResamplerFactory
	seedStrategy SeedStrategy
}

// WithNSplits sets the number of folds (default 5)
func WithNSplits(k int) CVOption {
	return func(c *cvConfig) {
		c.nSplits = k
	}
}

// WithCVRandomState sets the seed of the fold shuffle and of the resampler (default 42)
func WithCVRandomState(seed int64) CVOption {
	return func(c *cvConfig) {
		c.randomState = seed
	}
}

// WithResampler rebalances every training fold before fitting
func WithResampler(factory ResamplerFactory) CVOption {
	return func(c *cvConfig) {
		c.resampler = factory
	}
}

// WithSeedStrategy selects how resampler seeds are derived per fold (default SeedShared)
func WithSeedStrategy(strategy SeedStrategy) CVOption {
	return func(c *cvConfig) {
		c.seedStrategy = strategy
	}
}

// CVResult stores cross-validation results
type CVResult struct {
	// Per-fold scores, exactly one entry per fold
	F1Scores    []float64
	AUCPRScores []float64
	FitTimes    []float64 // seconds

	F1Mean    float64
	F1Std     float64
	AUCPRMean float64
	AUCPRStd  float64
}

// AsMap returns the aggregate scores under their conventional report names
func (r *CVResult) AsMap() map[string]float64 {
	return map[string]float64{
		"F1_mean":     r.F1Mean,
		"F1_std":      r.F1Std,
		"AUC_PR_mean": r.AUCPRMean,
		"AUC_PR_std":  r.AUCPRStd,
	}
}

// CrossValidate scores a classifier with shuffled stratified k-fold cross-validation.
//
// factory is called once per fold, so each fold is fitted on a fresh classifier.
// When a resampler is configured it is applied to the training part of every
// fold only; the held-out fold is always scored on original rows. Each fold is
// scored by F1 on the predicted labels and by AUC-PR on the probability of the
// larger class label. Standard deviations are population (ddof=0) values.
func CrossValidate(factory model.ClassifierFactory, X, y mat.Matrix, opts ...CVOption) (*CVResult, error) {
	cfg := &cvConfig{nSplits: 5, randomState: 42}
	for _, opt := range opts {
		opt(cfg)
	}
	if factory == nil {
		return nil, errors.NewValidationError("factory", "must not be nil", nil)
	}

	logger := log.GetLoggerWithName("model_selection").With(
		log.FoldsKey, cfg.nSplits,
		log.RandomSeedKey, cfg.randomState,
	)

	splitter := NewStratifiedKFold(cfg.nSplits, true, cfg.randomState)
	folds, err := splitter.Split(X, y)
	if err != nil {
		return nil, err
	}

	result := &CVResult{
		F1Scores:    make([]float64, len(folds)),
		AUCPRScores: make([]float64, len(folds)),
		FitTimes:    make([]float64, len(folds)),
	}

	for i, fold := range folds {
		f1, aucPR, fitTime, err := scoreFold(factory(), X, y, fold, i, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d", i)
		}
		result.F1Scores[i] = f1
		result.AUCPRScores[i] = aucPR
		result.FitTimes[i] = fitTime.Seconds()

		logger.Debug("Fold scored",
			log.FoldKey, i,
			log.F1Key, f1,
			log.AUCPRKey, aucPR,
			log.DurationMsKey, fitTime.Milliseconds(),
		)
	}

	result.F1Mean, result.F1Std = stat.PopMeanStdDev(result.F1Scores, nil)
	result.AUCPRMean, result.AUCPRStd = stat.PopMeanStdDev(result.AUCPRScores, nil)

	logger.Info("Cross-validation finished",
		log.F1Key, result.F1Mean,
		log.AUCPRKey, result.AUCPRMean,
	)
	return result, nil
}

func scoreFold(clf model.Classifier, X, y mat.Matrix, fold CVFold, index int, cfg *cvConfig) (f1, aucPR float64, fitTime time.Duration, err error) {
	if clf == nil {
		return 0, 0, 0, errors.NewValueError("CrossValidate", "factory returned a nil classifier")
	}

	XTrain, yTrain := extractSubset(X, y, fold.TrainIndices)
	XTest, yTest := extractSubset(X, y, fold.TestIndices)

	var XFit, yFit mat.Matrix = XTrain, yTrain
	if cfg.resampler != nil {
		seed := cfg.randomState
		if cfg.seedStrategy == SeedPerFold {
			seed += int64(index)
		}
		XFit, yFit, err = cfg.resampler(seed).FitResample(XTrain, yTrain)
		if err != nil {
			return 0, 0, 0, err
		}
	}

	start := time.Now()
	if err := clf.Fit(XFit, yFit); err != nil {
		return 0, 0, 0, err
	}
	fitTime = time.Since(start)

	pred, err := clf.Predict(XTest)
	if err != nil {
		return 0, 0, 0, err
	}
	proba, err := clf.PredictProba(XTest)
	if err != nil {
		return 0, 0, 0, err
	}

	posLabel, posCol, err := PositiveClass(clf.Classes())
	if err != nil {
		return 0, 0, 0, err
	}
	yTrue := metrics.VecFromColumn(yTest, 0)

	f1, err = metrics.F1Score(yTrue, metrics.VecFromColumn(pred, 0), posLabel)
	if err != nil {
		return 0, 0, 0, err
	}
	aucPR, err = metrics.AUCPR(yTrue, metrics.VecFromColumn(proba, posCol), posLabel)
	if err != nil {
		return 0, 0, 0, err
	}
	return f1, aucPR, fitTime, nil
}

// PositiveClass returns the larger of a binary classifier's two labels and its
// column in PredictProba output.
func PositiveClass(classes []float64) (label float64, column int, err error) {
	if len(classes) != 2 {
		return 0, 0, errors.NewValueError("PositiveClass",
			fmt.Sprintf("expected a binary classifier with 2 classes, got %d", len(classes)))
	}
	column = 0
	if classes[1] > classes[0] {
		column = 1
	}
	return classes[column], column, nil
}
