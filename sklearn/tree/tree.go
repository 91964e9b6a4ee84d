package tree

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/YuminosukeSato/imbalanced/core/model"
	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// featureThreshold is the smallest gap between two sorted feature values
// that is treated as a split point
const featureThreshold = 1e-7

// DecisionTreeClassifier is a CART classification tree.
// Compatible with scikit-learn's DecisionTreeClassifier (best splitter).
type DecisionTreeClassifier struct {
	state *model.StateManager

	// Hyperparameters
	criterion       string // "gini" or "entropy"
	maxDepth        int    // values below 1 mean unlimited
	minSamplesSplit int    // Minimum rows required to split a node
	minSamplesLeaf  int    // Minimum rows required in each child
	maxFeatures     string // "", "all", "sqrt" or "log2"
	classWeight     string // "balanced" or "none"
	randomState     int64  // Seed for the feature permutation, negative for a random seed

	// Fitted attributes
	tree_               *Tree
	classes_            []float64
	nClasses_           int
	nFeatures_          int
	featureImportances_ []float64
}

// Option is a functional option for DecisionTreeClassifier
type Option func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier creates a new DecisionTreeClassifier
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "all",
		classWeight:     "none",
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// WithCriterion sets the impurity measure: "gini" or "entropy"
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.criterion = criterion
	}
}

// WithMaxDepth limits the depth of the tree
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum number of rows needed to split a node
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum number of rows in a leaf
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesLeaf = n
	}
}

// WithMaxFeatures sets how many features are considered per split: "all", "sqrt" or "log2"
func WithMaxFeatures(maxFeatures string) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.maxFeatures = maxFeatures
	}
}

// WithClassWeight sets the class weighting: "balanced" or "none"
func WithClassWeight(classWeight string) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.classWeight = classWeight
	}
}

// WithRandomState sets the seed of the feature permutation
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.randomState = seed
	}
}

func (dt *DecisionTreeClassifier) validateParams() error {
	if _, ok := criterionFunc(dt.criterion); !ok {
		return errors.NewValidationError("criterion", "must be \"gini\" or \"entropy\"", dt.criterion)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", dt.minSamplesLeaf)
	}
	switch dt.maxFeatures {
	case "", "all", "sqrt", "log2":
	default:
		return errors.NewValidationError("max_features", "must be \"all\", \"sqrt\" or \"log2\"", dt.maxFeatures)
	}
	switch dt.classWeight {
	case "balanced", "none", "":
	default:
		return errors.NewValidationError("class_weight", "must be \"balanced\" or \"none\"", dt.classWeight)
	}
	return nil
}

// resolveMaxFeatures returns the number of features drawn per split
func (dt *DecisionTreeClassifier) resolveMaxFeatures(nFeatures int) int {
	var k int
	switch dt.maxFeatures {
	case "sqrt":
		k = int(math.Sqrt(float64(nFeatures)))
	case "log2":
		k = int(math.Log2(float64(nFeatures)))
	default:
		k = nFeatures
	}
	return max(1, min(k, nFeatures))
}

// Fit builds the tree from the training set (X, y)
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	return dt.FitWeighted(X, y, nil)
}

// FitWeighted builds the tree with per-row sample weights.
// Rows with zero weight do not reach any node but their labels still
// count as classes, so trees fitted on bootstrap weights of the same y
// share one class encoding. A nil sampleWeight weighs every row 1.
func (dt *DecisionTreeClassifier) FitWeighted(X, y mat.Matrix, sampleWeight []float64) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")
	start := time.Now()

	if err := dt.validateParams(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.Wrap(errors.ErrEmptyData, "DecisionTreeClassifier.Fit")
	}
	if nSamples != yRows {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("DecisionTreeClassifier.Fit",
			fmt.Sprintf("y must be a column vector: got shape (%d, %d)", yRows, yCols))
	}
	if sampleWeight != nil && len(sampleWeight) != nSamples {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, len(sampleWeight), 0)
	}
	if err := errors.CheckMatrix("DecisionTreeClassifier.Fit", X); err != nil {
		return err
	}

	labels := mat.Col(nil, 0, y)
	classes, encoded := EncodeClasses(labels)
	weights := make([]float64, nSamples)
	for i := range weights {
		weights[i] = 1
		if sampleWeight != nil {
			if sampleWeight[i] < 0 || math.IsNaN(sampleWeight[i]) {
				return errors.NewValidationError("sample_weight", "must be non-negative", sampleWeight[i])
			}
			weights[i] = sampleWeight[i]
		}
	}
	if dt.classWeight == "balanced" {
		cw := BalancedClassWeights(encoded, len(classes))
		for i, k := range encoded {
			weights[i] *= cw[k]
		}
	}

	samples := make([]int, 0, nSamples)
	for i, w := range weights {
		if w != 0 {
			samples = append(samples, i)
		}
	}
	if len(samples) == 0 {
		return errors.NewValueError("DecisionTreeClassifier.Fit", "sum of sample weights is zero")
	}

	seed := uint64(dt.randomState)
	if dt.randomState < 0 {
		seed = rand.Uint64()
	}
	impurity, _ := criterionFunc(dt.criterion)
	b := &builder{
		data:            asRaw(X),
		y:               encoded,
		w:               weights,
		nClasses:        len(classes),
		impurity:        impurity,
		maxDepth:        dt.maxDepth,
		minSamplesSplit: dt.minSamplesSplit,
		minSamplesLeaf:  dt.minSamplesLeaf,
		maxFeatures:     dt.resolveMaxFeatures(nFeatures),
		rng:             rand.New(rand.NewPCG(seed, seed)),
		tree:            &Tree{},
		importances:     make([]float64, nFeatures),
		features:        make([]int, nFeatures),
	}
	for j := range b.features {
		b.features[j] = j
	}
	b.build(samples, 0)

	dt.tree_ = b.tree
	dt.classes_ = classes
	dt.nClasses_ = len(classes)
	dt.nFeatures_ = nFeatures
	dt.featureImportances_ = normalise(b.importances)
	dt.state.SetFitted(nFeatures, nSamples)

	log.GetLoggerWithName("tree").Debug("Tree fitted",
		log.ModelNameKey, "DecisionTreeClassifier",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, len(samples),
		log.FeaturesKey, nFeatures,
		"tree.nodes", b.tree.NodeCount(),
		"tree.depth", b.tree.MaxDepth,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// EncodeClasses returns the sorted distinct labels and the class index of every row
func EncodeClasses(labels []float64) ([]float64, []int) {
	seen := make(map[float64]bool)
	var classes []float64
	for _, label := range labels {
		if !seen[label] {
			seen[label] = true
			classes = append(classes, label)
		}
	}
	sort.Float64s(classes)
	index := make(map[float64]int, len(classes))
	for k, c := range classes {
		index[c] = k
	}
	encoded := make([]int, len(labels))
	for i, label := range labels {
		encoded[i] = index[label]
	}
	return classes, encoded
}

// BalancedClassWeights returns n / (nClasses * count(k)) for every class index k.
// Classes absent from encoded get weight 0.
func BalancedClassWeights(encoded []int, nClasses int) []float64 {
	counts := make([]int, nClasses)
	for _, k := range encoded {
		counts[k]++
	}
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	weights := make([]float64, nClasses)
	for k, c := range counts {
		if c > 0 {
			weights[k] = float64(len(encoded)) / (float64(present) * float64(c))
		}
	}
	return weights
}

func normalise(values []float64) []float64 {
	out := append([]float64(nil), values...)
	total := 0.0
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}

func asRaw(X mat.Matrix) blas64.General {
	if d, ok := X.(*mat.Dense); ok {
		return d.RawMatrix()
	}
	return mat.DenseCopyOf(X).RawMatrix()
}

// builder grows a Tree depth first
type builder struct {
	data            blas64.General
	y               []int
	w               []float64
	nClasses        int
	impurity        impurityFunc
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	rng             *rand.Rand
	tree            *Tree
	importances     []float64
	features        []int
}

type split struct {
	feature     int
	threshold   float64
	improvement float64
	pos         int // rows in the left child
	impLeft     float64
	impRight    float64
	weightLeft  float64
}

func (b *builder) x(i, j int) float64 {
	return b.data.Data[i*b.data.Stride+j]
}

// build adds the node for samples and its subtree, returning the node id
func (b *builder) build(samples []int, depth int) int {
	counts := make([]float64, b.nClasses)
	weighted := 0.0
	for _, i := range samples {
		counts[b.y[i]] += b.w[i]
		weighted += b.w[i]
	}
	impurity := b.impurity(counts, weighted)
	value := make([]float64, b.nClasses)
	for k, c := range counts {
		value[k] = c / weighted
	}

	n := len(samples)
	if depth > b.tree.MaxDepth {
		b.tree.MaxDepth = depth
	}
	isLeaf := (b.maxDepth > 0 && depth >= b.maxDepth) ||
		n < b.minSamplesSplit ||
		n < 2*b.minSamplesLeaf ||
		impurity <= 1e-12

	var best split
	if !isLeaf {
		var found bool
		best, found = b.bestSplit(samples, counts, weighted, impurity)
		isLeaf = !found
	}
	if isLeaf {
		return b.tree.addNode(-1, -2, value, weighted, n, impurity)
	}

	node := b.tree.addNode(best.feature, best.threshold, value, weighted, n, impurity)
	b.importances[best.feature] += weighted*impurity -
		best.weightLeft*best.impLeft - (weighted-best.weightLeft)*best.impRight

	// Partition so rows with x <= threshold come first
	lo, hi := 0, n-1
	for lo <= hi {
		if b.x(samples[lo], best.feature) <= best.threshold {
			lo++
		} else {
			samples[lo], samples[hi] = samples[hi], samples[lo]
			hi--
		}
	}
	left := b.build(samples[:lo], depth+1)
	right := b.build(samples[lo:], depth+1)
	b.tree.Left[node] = left
	b.tree.Right[node] = right
	return node
}

// bestSplit searches a random subset of features for the split with the largest
// impurity decrease. Features are drawn until maxFeatures have been visited and
// at least one of them was non-constant in the node.
func (b *builder) bestSplit(samples []int, counts []float64, weighted, impurity float64) (split, bool) {
	n := len(samples)
	best := split{improvement: math.Inf(-1)}
	found := false

	sorted := make([]int, n)
	xs := make([]float64, n)
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)

	visited, constant := 0, 0
	for remaining := len(b.features); remaining > 0; remaining-- {
		if visited >= b.maxFeatures && visited > constant {
			break
		}
		j := b.rng.IntN(remaining)
		b.features[j], b.features[remaining-1] = b.features[remaining-1], b.features[j]
		f := b.features[remaining-1]
		visited++

		copy(sorted, samples)
		sort.Slice(sorted, func(a, c int) bool {
			va, vc := b.x(sorted[a], f), b.x(sorted[c], f)
			if va != vc {
				return va < vc
			}
			return sorted[a] < sorted[c]
		})
		for p, i := range sorted {
			xs[p] = b.x(i, f)
		}
		if xs[n-1] <= xs[0]+featureThreshold {
			constant++
			continue
		}

		for k := range left {
			left[k] = 0
		}
		wl := 0.0
		for p := 1; p < n; p++ {
			i := sorted[p-1]
			left[b.y[i]] += b.w[i]
			wl += b.w[i]
			if xs[p] <= xs[p-1]+featureThreshold {
				continue
			}
			if p < b.minSamplesLeaf || n-p < b.minSamplesLeaf {
				continue
			}
			wr := weighted - wl
			for k := range right {
				right[k] = counts[k] - left[k]
			}
			impL := b.impurity(left, wl)
			impR := b.impurity(right, wr)
			improvement := impurity - (wl*impL+wr*impR)/weighted
			if improvement > best.improvement {
				threshold := (xs[p-1] + xs[p]) / 2
				if threshold == xs[p] || math.IsInf(threshold, 0) {
					threshold = xs[p-1]
				}
				best = split{
					feature:     f,
					threshold:   threshold,
					improvement: improvement,
					pos:         p,
					impLeft:     impL,
					impRight:    impR,
					weightLeft:  wl,
				}
				found = true
			}
		}
	}
	return best, found
}

// Predict returns the class with the highest leaf probability for each row
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	nSamples, _ := probas.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		best := 0
		for k := 1; k < dt.nClasses_; k++ {
			if probas.At(i, k) > probas.At(i, best) {
				best = k
			}
		}
		predictions.Set(i, 0, dt.classes_[best])
	}
	return predictions, nil
}

// PredictProba returns the class distribution of the leaf each row falls into
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.CheckInput("DecisionTreeClassifier", "PredictProba", X); err != nil {
		return nil, err
	}
	nSamples, _ := X.Dims()
	probas := mat.NewDense(nSamples, dt.nClasses_, nil)
	row := make([]float64, dt.nFeatures_)
	for i := 0; i < nSamples; i++ {
		mat.Row(row, i, X)
		probas.SetRow(i, dt.tree_.Value[dt.tree_.Apply(row)])
	}
	return probas, nil
}

// Score returns the mean accuracy on the given test data and labels
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	predictions, err := dt.Predict(X)
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

// Tree returns the fitted tree structure, or nil before Fit.
// The returned value is shared with the classifier and must not be modified.
func (dt *DecisionTreeClassifier) Tree() *Tree {
	return dt.tree_
}

// GetFeatureImportances returns the normalised impurity decrease per feature.
// A tree without splits reports all zeros.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// FeatureImportances returns the normalised impurity decrease per feature
func (dt *DecisionTreeClassifier) FeatureImportances() ([]float64, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", "FeatureImportances"); err != nil {
		return nil, err
	}
	return dt.GetFeatureImportances(), nil
}

// GetDepth returns the depth of the fitted tree, 0 for a single leaf
func (dt *DecisionTreeClassifier) GetDepth() int {
	if dt.tree_ == nil {
		return 0
	}
	return dt.tree_.MaxDepth
}

// GetNLeaves returns the number of leaves of the fitted tree
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	if dt.tree_ == nil {
		return 0
	}
	return dt.tree_.NLeaves()
}

// Classes returns the sorted class labels seen during fitting
func (dt *DecisionTreeClassifier) Classes() []float64 {
	return append([]float64(nil), dt.classes_...)
}

// IsFitted reports whether Fit has completed successfully
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

// GetDimensions returns the feature and sample counts seen during fitting
func (dt *DecisionTreeClassifier) GetDimensions() (nFeatures, nSamples int) {
	return dt.state.GetDimensions()
}

// Clone returns an unfitted copy with the same hyperparameters
func (dt *DecisionTreeClassifier) Clone() model.Classifier {
	return &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       dt.criterion,
		maxDepth:        dt.maxDepth,
		minSamplesSplit: dt.minSamplesSplit,
		minSamplesLeaf:  dt.minSamplesLeaf,
		maxFeatures:     dt.maxFeatures,
		classWeight:     dt.classWeight,
		randomState:     dt.randomState,
	}
}

// GetParams returns the model hyperparameters
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"max_features":      dt.maxFeatures,
		"class_weight":      dt.classWeight,
		"random_state":      dt.randomState,
	}
}

// SetParams sets the model hyperparameters
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "criterion":
			dt.criterion, ok = value.(string)
		case "max_depth":
			dt.maxDepth, ok = value.(int)
		case "min_samples_split":
			dt.minSamplesSplit, ok = value.(int)
		case "min_samples_leaf":
			dt.minSamplesLeaf, ok = value.(int)
		case "max_features":
			dt.maxFeatures, ok = value.(string)
		case "class_weight":
			dt.classWeight, ok = value.(string)
		case "random_state":
			dt.randomState, ok = value.(int64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return nil
}

// treeSnapshot is the gob representation of a DecisionTreeClassifier
type treeSnapshot struct {
	Fitted             bool
	NSamples           int
	Criterion          string
	MaxDepth           int
	MinSamplesSplit    int
	MinSamplesLeaf     int
	MaxFeatures        string
	ClassWeight        string
	RandomState        int64
	Tree               *Tree
	Classes            []float64
	NFeatures          int
	FeatureImportances []float64
}

// GobEncode implements gob.GobEncoder
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	_, nSamples := dt.state.GetDimensions()
	snap := treeSnapshot{
		Fitted:             dt.state.IsFitted(),
		NSamples:           nSamples,
		Criterion:          dt.criterion,
		MaxDepth:           dt.maxDepth,
		MinSamplesSplit:    dt.minSamplesSplit,
		MinSamplesLeaf:     dt.minSamplesLeaf,
		MaxFeatures:        dt.maxFeatures,
		ClassWeight:        dt.classWeight,
		RandomState:        dt.randomState,
		Tree:               dt.tree_,
		Classes:            dt.classes_,
		NFeatures:          dt.nFeatures_,
		FeatureImportances: dt.featureImportances_,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, errors.Wrap(err, "encode DecisionTreeClassifier")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var snap treeSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode DecisionTreeClassifier")
	}
	dt.state = model.NewStateManager()
	if snap.Fitted {
		dt.state.SetFitted(snap.NFeatures, snap.NSamples)
	}
	dt.criterion = snap.Criterion
	dt.maxDepth = snap.MaxDepth
	dt.minSamplesSplit = snap.MinSamplesSplit
	dt.minSamplesLeaf = snap.MinSamplesLeaf
	dt.maxFeatures = snap.MaxFeatures
	dt.classWeight = snap.ClassWeight
	dt.randomState = snap.RandomState
	dt.tree_ = snap.Tree
	dt.classes_ = snap.Classes
	dt.nClasses_ = len(snap.Classes)
	dt.nFeatures_ = snap.NFeatures
	dt.featureImportances_ = snap.FeatureImportances
	return nil
}
