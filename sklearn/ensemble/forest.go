// Package ensemble provides bagged tree ensembles.
package ensemble

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/YuminosukeSato/imbalanced/core/model"
	"github.com/YuminosukeSato/imbalanced/core/parallel"
	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"github.com/YuminosukeSato/imbalanced/sklearn/tree"
	"gonum.org/v1/gonum/mat"
)

// RandomForestClassifier averages the class probabilities of decision trees
// fitted on bootstrap samples with a random feature subset per split.
// Compatible with scikit-learn's RandomForestClassifier.
type RandomForestClassifier struct {
	state *model.StateManager

	// Hyperparameters
	nEstimators     int
	criterion       string
	maxDepth        int // values below 1 mean unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	bootstrap       bool
	classWeight     string // "balanced", "balanced_subsample" or "none"
	randomState     int64
	nJobs           int // values <= 0 use every CPU

	// Fitted attributes
	estimators_         []*tree.DecisionTreeClassifier
	classes_            []float64
	nClasses_           int
	nFeatures_          int
	featureImportances_ []float64
}

// Option is a functional option for RandomForestClassifier
type Option func(*RandomForestClassifier)

// NewRandomForestClassifier creates a new RandomForestClassifier
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     100,
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "sqrt",
		bootstrap:       true,
		classWeight:     "none",
		randomState:     -1,
		nJobs:           1,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// WithNEstimators sets the number of trees
func WithNEstimators(n int) Option {
	return func(rf *RandomForestClassifier) {
		rf.nEstimators = n
	}
}

// WithCriterion sets the impurity measure of every tree
func WithCriterion(criterion string) Option {
	return func(rf *RandomForestClassifier) {
		rf.criterion = criterion
	}
}

// WithMaxDepth limits the depth of every tree
func WithMaxDepth(depth int) Option {
	return func(rf *RandomForestClassifier) {
		rf.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum number of rows needed to split a node
func WithMinSamplesSplit(n int) Option {
	return func(rf *RandomForestClassifier) {
		rf.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum number of rows in a leaf
func WithMinSamplesLeaf(n int) Option {
	return func(rf *RandomForestClassifier) {
		rf.minSamplesLeaf = n
	}
}

// WithMaxFeatures sets the features drawn per split: "sqrt", "log2" or "all"
func WithMaxFeatures(maxFeatures string) Option {
	return func(rf *RandomForestClassifier) {
		rf.maxFeatures = maxFeatures
	}
}

// WithBootstrap sets whether trees see bootstrap samples or the whole training set
func WithBootstrap(bootstrap bool) Option {
	return func(rf *RandomForestClassifier) {
		rf.bootstrap = bootstrap
	}
}

// WithClassWeight sets the class weighting: "balanced", "balanced_subsample" or "none"
func WithClassWeight(classWeight string) Option {
	return func(rf *RandomForestClassifier) {
		rf.classWeight = classWeight
	}
}

// WithRandomState sets the seed controlling bootstrap draws and feature sampling
func WithRandomState(seed int64) Option {
	return func(rf *RandomForestClassifier) {
		rf.randomState = seed
	}
}

// WithNJobs sets the number of trees fitted concurrently, -1 for every CPU
func WithNJobs(nJobs int) Option {
	return func(rf *RandomForestClassifier) {
		rf.nJobs = nJobs
	}
}

func (rf *RandomForestClassifier) validateParams() error {
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be at least 1", rf.nEstimators)
	}
	switch rf.classWeight {
	case "balanced", "balanced_subsample", "none", "":
	default:
		return errors.NewValidationError("class_weight",
			"must be \"balanced\", \"balanced_subsample\" or \"none\"", rf.classWeight)
	}
	return nil
}

func (rf *RandomForestClassifier) newTree(seed int64) *tree.DecisionTreeClassifier {
	return tree.NewDecisionTreeClassifier(
		tree.WithCriterion(rf.criterion),
		tree.WithMaxDepth(rf.maxDepth),
		tree.WithMinSamplesSplit(rf.minSamplesSplit),
		tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
		tree.WithMaxFeatures(rf.maxFeatures),
		tree.WithRandomState(seed),
	)
}

// Fit trains the forest on (X, y).
// Per-tree seeds are drawn from the forest seed before any tree starts,
// so the fitted forest does not depend on the number of workers.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestClassifier.Fit")
	start := time.Now()

	if err := rf.validateParams(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 {
		return errors.Wrap(errors.ErrEmptyData, "RandomForestClassifier.Fit")
	}
	if nSamples != yRows {
		return errors.NewDimensionError("RandomForestClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("RandomForestClassifier.Fit",
			fmt.Sprintf("y must be a column vector: got shape (%d, %d)", yRows, yCols))
	}
	if err := errors.CheckMatrix("RandomForestClassifier.Fit", X); err != nil {
		return err
	}

	labels := mat.Col(nil, 0, y)
	classes, encoded := tree.EncodeClasses(labels)
	classWeights := make([]float64, len(classes))
	for k := range classWeights {
		classWeights[k] = 1
	}
	if rf.classWeight == "balanced" {
		classWeights = tree.BalancedClassWeights(encoded, len(classes))
	}

	seed := uint64(rf.randomState)
	if rf.randomState < 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	seeds := make([]int64, rf.nEstimators)
	for t := range seeds {
		seeds[t] = rng.Int64()
	}

	// Trees read X concurrently; a *mat.Dense is shared as is
	data, ok := X.(*mat.Dense)
	if !ok {
		data = mat.DenseCopyOf(X)
	}
	yCol := mat.NewDense(nSamples, 1, labels)

	workers := parallel.Workers(rf.nJobs, rf.nEstimators)
	logger := log.GetLoggerWithName("ensemble").With(log.ModelNameKey, "RandomForestClassifier")
	logger.Debug("Fitting model",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.WorkersKey, workers,
		log.HyperParamsKey, rf.GetParams(),
	)

	estimators := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	err = parallel.ForEach(rf.nEstimators, workers, func(t int) error {
		weights := rf.treeWeights(seeds[t], encoded, classWeights, len(classes))
		est := rf.newTree(seeds[t])
		if err := est.FitWeighted(data, yCol, weights); err != nil {
			return errors.Wrapf(err, "tree %d", t)
		}
		estimators[t] = est
		return nil
	})
	if err != nil {
		return errors.NewModelError("RandomForestClassifier.Fit", "tree fitting failed", err)
	}

	rf.estimators_ = estimators
	rf.classes_ = classes
	rf.nClasses_ = len(classes)
	rf.nFeatures_ = nFeatures
	rf.featureImportances_ = rf.meanImportances(nFeatures)
	rf.state.SetFitted(nFeatures, nSamples)

	logger.Info("Model fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		"forest.n_estimators", rf.nEstimators,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// treeWeights returns the sample weights of one tree: bootstrap counts
// times the class weight of each row
func (rf *RandomForestClassifier) treeWeights(seed int64, encoded []int, classWeights []float64, nClasses int) []float64 {
	n := len(encoded)
	weights := make([]float64, n)
	if !rf.bootstrap {
		for i := range weights {
			weights[i] = 1
		}
	} else {
		rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)+1))
		for range n {
			weights[rng.IntN(n)]++
		}
	}

	if rf.classWeight == "balanced_subsample" {
		drawn := make([]int, 0, n)
		for i, w := range weights {
			for c := 0; c < int(w); c++ {
				drawn = append(drawn, encoded[i])
			}
		}
		classWeights = tree.BalancedClassWeights(drawn, nClasses)
	}
	for i, k := range encoded {
		weights[i] *= classWeights[k]
	}
	return weights
}

// meanImportances averages the importances of trees that split at least once
// and renormalises them
func (rf *RandomForestClassifier) meanImportances(nFeatures int) []float64 {
	mean := make([]float64, nFeatures)
	used := 0
	for _, est := range rf.estimators_ {
		if est.Tree().NodeCount() <= 1 {
			continue
		}
		used++
		for j, v := range est.GetFeatureImportances() {
			mean[j] += v
		}
	}
	if used == 0 {
		return mean
	}
	total := 0.0
	for j := range mean {
		mean[j] /= float64(used)
		total += mean[j]
	}
	if total > 0 {
		for j := range mean {
			mean[j] /= total
		}
	}
	return mean
}

// PredictProba returns the mean class probabilities of the trees
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.CheckInput("RandomForestClassifier", "PredictProba", X); err != nil {
		return nil, err
	}
	nSamples, _ := X.Dims()

	perTree := make([]mat.Matrix, len(rf.estimators_))
	err := parallel.ForEach(len(rf.estimators_), parallel.Workers(rf.nJobs, len(rf.estimators_)), func(t int) error {
		p, err := rf.estimators_[t].PredictProba(X)
		perTree[t] = p
		return err
	})
	if err != nil {
		return nil, errors.NewModelError("RandomForestClassifier.PredictProba", "tree prediction failed", err)
	}

	probas := mat.NewDense(nSamples, rf.nClasses_, nil)
	for _, p := range perTree {
		probas.Add(probas, p)
	}
	probas.Scale(1/float64(len(perTree)), probas)
	return probas, nil
}

// Predict returns the class with the highest mean probability for each row.
// Ties go to the smaller class label.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	nSamples, _ := probas.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		best := 0
		for k := 1; k < rf.nClasses_; k++ {
			if probas.At(i, k) > probas.At(i, best) {
				best = k
			}
		}
		predictions.Set(i, 0, rf.classes_[best])
	}
	return predictions, nil
}

// Score returns the mean accuracy on the given test data and labels
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) float64 {
	predictions, err := rf.Predict(X)
	if err != nil {
		return 0.0
	}
	nSamples, _ := X.Dims()
	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples)
}

// FeatureImportances returns the mean decrease in impurity per feature, summing to 1
func (rf *RandomForestClassifier) FeatureImportances() ([]float64, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "FeatureImportances"); err != nil {
		return nil, err
	}
	return append([]float64(nil), rf.featureImportances_...), nil
}

// Estimators returns the fitted trees. They are shared with the forest.
func (rf *RandomForestClassifier) Estimators() []*tree.DecisionTreeClassifier {
	return rf.estimators_
}

// Classes returns the sorted class labels seen during fitting
func (rf *RandomForestClassifier) Classes() []float64 {
	return append([]float64(nil), rf.classes_...)
}

// IsFitted reports whether Fit has completed successfully
func (rf *RandomForestClassifier) IsFitted() bool {
	return rf.state.IsFitted()
}

// GetDimensions returns the feature and sample counts seen during fitting
func (rf *RandomForestClassifier) GetDimensions() (nFeatures, nSamples int) {
	return rf.state.GetDimensions()
}

// Clone returns an unfitted copy with the same hyperparameters
func (rf *RandomForestClassifier) Clone() model.Classifier {
	return &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     rf.nEstimators,
		criterion:       rf.criterion,
		maxDepth:        rf.maxDepth,
		minSamplesSplit: rf.minSamplesSplit,
		minSamplesLeaf:  rf.minSamplesLeaf,
		maxFeatures:     rf.maxFeatures,
		bootstrap:       rf.bootstrap,
		classWeight:     rf.classWeight,
		randomState:     rf.randomState,
		nJobs:           rf.nJobs,
	}
}

// GetParams returns the model hyperparameters
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"class_weight":      rf.classWeight,
		"random_state":      rf.randomState,
		"n_jobs":            rf.nJobs,
	}
}

// SetParams sets the model hyperparameters
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "n_estimators":
			rf.nEstimators, ok = value.(int)
		case "criterion":
			rf.criterion, ok = value.(string)
		case "max_depth":
			rf.maxDepth, ok = value.(int)
		case "min_samples_split":
			rf.minSamplesSplit, ok = value.(int)
		case "min_samples_leaf":
			rf.minSamplesLeaf, ok = value.(int)
		case "max_features":
			rf.maxFeatures, ok = value.(string)
		case "bootstrap":
			rf.bootstrap, ok = value.(bool)
		case "class_weight":
			rf.classWeight, ok = value.(string)
		case "random_state":
			rf.randomState, ok = value.(int64)
		case "n_jobs":
			rf.nJobs, ok = value.(int)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return nil
}

// forestSnapshot is the gob representation of a RandomForestClassifier
type forestSnapshot struct {
	Fitted             bool
	NSamples           int
	NEstimators        int
	Criterion          string
	MaxDepth           int
	MinSamplesSplit    int
	MinSamplesLeaf     int
	MaxFeatures        string
	Bootstrap          bool
	ClassWeight        string
	RandomState        int64
	NJobs              int
	Estimators         []*tree.DecisionTreeClassifier
	Classes            []float64
	NFeatures          int
	FeatureImportances []float64
}

// GobEncode implements gob.GobEncoder
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	_, nSamples := rf.state.GetDimensions()
	snap := forestSnapshot{
		Fitted:             rf.state.IsFitted(),
		NSamples:           nSamples,
		NEstimators:        rf.nEstimators,
		Criterion:          rf.criterion,
		MaxDepth:           rf.maxDepth,
		MinSamplesSplit:    rf.minSamplesSplit,
		MinSamplesLeaf:     rf.minSamplesLeaf,
		MaxFeatures:        rf.maxFeatures,
		Bootstrap:          rf.bootstrap,
		ClassWeight:        rf.classWeight,
		RandomState:        rf.randomState,
		NJobs:              rf.nJobs,
		Estimators:         rf.estimators_,
		Classes:            rf.classes_,
		NFeatures:          rf.nFeatures_,
		FeatureImportances: rf.featureImportances_,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, errors.Wrap(err, "encode RandomForestClassifier")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var snap forestSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode RandomForestClassifier")
	}
	rf.state = model.NewStateManager()
	if snap.Fitted {
		rf.state.SetFitted(snap.NFeatures, snap.NSamples)
	}
	rf.nEstimators = snap.NEstimators
	rf.criterion = snap.Criterion
	rf.maxDepth = snap.MaxDepth
	rf.minSamplesSplit = snap.MinSamplesSplit
	rf.minSamplesLeaf = snap.MinSamplesLeaf
	rf.maxFeatures = snap.MaxFeatures
	rf.bootstrap = snap.Bootstrap
	rf.classWeight = snap.ClassWeight
	rf.randomState = snap.RandomState
	rf.nJobs = snap.NJobs
	rf.estimators_ = snap.Estimators
	rf.classes_ = snap.Classes
	rf.nClasses_ = len(snap.Classes)
	rf.nFeatures_ = snap.NFeatures
	rf.featureImportances_ = snap.FeatureImportances
	return nil
}
