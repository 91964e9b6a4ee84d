// Package shap computes exact SHAP values for tree ensembles and renders
// the usual summary and force charts.
//
// Values are computed with the path-dependent TreeSHAP algorithm
// (Lundberg et al., "Consistent Individualized Feature Attribution for Tree
// Ensembles"), using the weighted training cover of each node as the
// background distribution. For every row,
//
//	ExpectedValue() + Σ_j phi[j] == predicted probability of the explained class
package shap

import (
	"fmt"
	"time"

	"github.com/YuminosukeSato/imbalanced/core/parallel"
	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"github.com/YuminosukeSato/imbalanced/sklearn/tree"
	"gonum.org/v1/gonum/mat"
)

// TreeEnsemble is a fitted model made of decision trees whose probabilities
// are averaged, such as ensemble.RandomForestClassifier
type TreeEnsemble interface {
	Estimators() []*tree.DecisionTreeClassifier
	Classes() []float64
	IsFitted() bool
	GetDimensions() (nFeatures, nSamples int)
}

// TreeExplainer attributes the probability of one class to the input features
type TreeExplainer struct {
	trees         []*tree.Tree
	classIndex    int
	classLabel    float64
	nFeatures     int
	expectedValue float64
}

// ExplainerOption configures a TreeExplainer
type ExplainerOption func(*explainerConfig)

type explainerConfig struct {
	classLabel *float64
}

// WithClassLabel selects the explained class. The default is the greatest label.
func WithClassLabel(label float64) ExplainerOption {
	return func(c *explainerConfig) {
		c.classLabel = &label
	}
}

// NewTreeExplainer prepares an explainer for a fitted tree ensemble
func NewTreeExplainer(model TreeEnsemble, opts ...ExplainerOption) (*TreeExplainer, error) {
	if model == nil || !model.IsFitted() {
		return nil, errors.NewNotFittedError(fmt.Sprintf("%T", model), "NewTreeExplainer")
	}
	cfg := explainerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	classes := model.Classes()
	if len(classes) < 2 {
		return nil, errors.NewValueError("shap.NewTreeExplainer",
			fmt.Sprintf("model was fitted on a single class: %v", classes))
	}
	classIndex := len(classes) - 1
	if cfg.classLabel != nil {
		classIndex = -1
		for k, c := range classes {
			if c == *cfg.classLabel {
				classIndex = k
			}
		}
		if classIndex < 0 {
			return nil, errors.NewValueError("shap.NewTreeExplainer",
				fmt.Sprintf("class %v not in %v", *cfg.classLabel, classes))
		}
	}

	estimators := model.Estimators()
	e := &TreeExplainer{
		trees:      make([]*tree.Tree, len(estimators)),
		classIndex: classIndex,
		classLabel: classes[classIndex],
	}
	e.nFeatures, _ = model.GetDimensions()
	for t, est := range estimators {
		e.trees[t] = est.Tree()
		e.expectedValue += e.trees[t].Value[0][classIndex]
	}
	e.expectedValue /= float64(len(e.trees))
	return e, nil
}

// ExpectedValue returns the mean predicted probability over the training cover
func (e *TreeExplainer) ExpectedValue() float64 {
	return e.expectedValue
}

// ClassLabel returns the explained class
func (e *TreeExplainer) ClassLabel() float64 {
	return e.classLabel
}

// ShapValues returns an n_samples x n_features matrix of attributions
func (e *TreeExplainer) ShapValues(X mat.Matrix) (*mat.Dense, error) {
	start := time.Now()
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "TreeExplainer.ShapValues")
	}
	if nFeatures != e.nFeatures {
		return nil, errors.NewDimensionError("TreeExplainer.ShapValues", e.nFeatures, nFeatures, 1)
	}
	if err := errors.CheckMatrix("TreeExplainer.ShapValues", X); err != nil {
		return nil, err
	}

	out := mat.NewDense(nSamples, nFeatures, nil)
	parallel.ParallelizeWithThreshold(nSamples, 16, func(begin, end int) {
		row := make([]float64, nFeatures)
		phi := make([]float64, nFeatures)
		for i := begin; i < end; i++ {
			mat.Row(row, i, X)
			for j := range phi {
				phi[j] = 0
			}
			for _, t := range e.trees {
				w := newWalker(t, row, phi, e.classIndex, 1/float64(len(e.trees)))
				w.recurse(0, 0, 0, 1, 1, -1)
			}
			out.SetRow(i, phi)
		}
	})

	log.GetLoggerWithName("shap").Debug("SHAP values computed",
		log.OperationKey, log.OperationExplain,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		"shap.trees", len(e.trees),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Explanation is the attribution of a single row
type Explanation struct {
	BaseValue    float64
	Prediction   float64
	Values       []float64
	Data         []float64
	FeatureNames []string
}

// Explain computes the attribution of row index of X.
// featureNames may be nil, in which case features are named by position.
func (e *TreeExplainer) Explain(X mat.Matrix, index int, featureNames []string) (*Explanation, error) {
	nSamples, nFeatures := X.Dims()
	if index < 0 || index >= nSamples {
		return nil, errors.NewValueError("TreeExplainer.Explain",
			fmt.Sprintf("row index %d out of range [0, %d)", index, nSamples))
	}
	row := mat.NewDense(1, nFeatures, mat.Row(nil, index, X))
	values, err := e.ShapValues(row)
	if err != nil {
		return nil, err
	}
	return e.ExplanationFor(values, row, 0, featureNames)
}

// ExplanationFor picks row index out of previously computed SHAP values and
// the matching feature matrix.
func (e *TreeExplainer) ExplanationFor(values, X mat.Matrix, index int, featureNames []string) (*Explanation, error) {
	nSamples, nFeatures := values.Dims()
	xRows, xCols := X.Dims()
	if xRows != nSamples {
		return nil, errors.NewDimensionError("TreeExplainer.ExplanationFor", nSamples, xRows, 0)
	}
	if xCols != nFeatures {
		return nil, errors.NewDimensionError("TreeExplainer.ExplanationFor", nFeatures, xCols, 1)
	}
	if index < 0 || index >= nSamples {
		return nil, errors.NewValueError("TreeExplainer.ExplanationFor",
			fmt.Sprintf("row index %d out of range [0, %d)", index, nSamples))
	}
	names, err := resolveNames(featureNames, nFeatures)
	if err != nil {
		return nil, err
	}

	exp := &Explanation{
		BaseValue:    e.expectedValue,
		Prediction:   e.expectedValue,
		Values:       mat.Row(nil, index, values),
		Data:         mat.Row(nil, index, X),
		FeatureNames: names,
	}
	for _, v := range exp.Values {
		exp.Prediction += v
	}
	return exp, nil
}

func resolveNames(featureNames []string, nFeatures int) ([]string, error) {
	if featureNames == nil {
		names := make([]string, nFeatures)
		for j := range names {
			names[j] = fmt.Sprintf("Feature %d", j)
		}
		return names, nil
	}
	if len(featureNames) != nFeatures {
		return nil, errors.NewDimensionError("shap.featureNames", nFeatures, len(featureNames), 1)
	}
	return featureNames, nil
}

// pathElement is one feature on the unique path from the root to a node
type pathElement struct {
	feature int
	zero    float64 // fraction of cover flowing down this path when the feature is unknown
	one     float64 // 1 if the row follows this path, 0 otherwise
	weight  float64 // permutation weight of subsets of this size
}

// walker evaluates TreeSHAP for one row on one tree
type walker struct {
	tree       *tree.Tree
	row        []float64
	phi        []float64
	classIndex int
	scale      float64
	buf        []pathElement
}

func newWalker(t *tree.Tree, row, phi []float64, classIndex int, scale float64) *walker {
	d := t.MaxDepth + 2
	return &walker{
		tree:       t,
		row:        row,
		phi:        phi,
		classIndex: classIndex,
		scale:      scale,
		buf:        make([]pathElement, (d+1)*(d+2)/2+d),
	}
}

func extendPath(path []pathElement, depth int, zero, one float64, feature int) {
	path[depth] = pathElement{feature: feature, zero: zero, one: one}
	if depth == 0 {
		path[depth].weight = 1
	}
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / float64(depth+1)
		path[i].weight = zero * path[i].weight * float64(depth-i) / float64(depth+1)
	}
}

func unwindPath(path []pathElement, depth, index int) {
	one, zero := path[index].one, path[index].zero
	next := path[depth].weight
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * float64(depth+1) / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/float64(depth+1)
		} else {
			path[i].weight = path[i].weight * float64(depth+1) / (zero * float64(depth-i))
		}
	}
	for i := index; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
}

// unwoundPathSum returns the total permutation weight of the path with
// element index removed, without modifying the path
func unwoundPathSum(path []pathElement, depth, index int) float64 {
	one, zero := path[index].one, path[index].zero
	next := path[depth].weight
	total := 0.0
	if one != 0 {
		for i := depth - 1; i >= 0; i-- {
			tmp := next / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)
		}
	} else {
		for i := depth - 1; i >= 0; i-- {
			total += path[i].weight / (zero * float64(depth-i))
		}
	}
	return total * float64(depth+1)
}

// recurse visits node with a unique path of length depth stored at buf[parent:]
func (w *walker) recurse(node, depth, parent int, parentZero, parentOne float64, parentFeature int) {
	offset := parent + depth + 1
	path := w.buf[offset:]
	copy(path[:depth+1], w.buf[parent:parent+depth+1])
	extendPath(path, depth, parentZero, parentOne, parentFeature)

	t := w.tree
	if t.IsLeaf(node) {
		value := t.Value[node][w.classIndex] * w.scale
		for i := 1; i <= depth; i++ {
			el := path[i]
			w.phi[el.feature] += unwoundPathSum(path, depth, i) * (el.one - el.zero) * value
		}
		return
	}

	feature := t.Feature[node]
	hot, cold := t.Left[node], t.Right[node]
	if w.row[feature] > t.Threshold[node] {
		hot, cold = cold, hot
	}
	cover := t.WeightedNSamples[node]
	hotZero := t.WeightedNSamples[hot] / cover
	coldZero := t.WeightedNSamples[cold] / cover

	incomingZero, incomingOne := 1.0, 1.0
	for k := 0; k <= depth; k++ {
		if path[k].feature == feature {
			incomingZero, incomingOne = path[k].zero, path[k].one
			unwindPath(path, depth, k)
			depth--
			break
		}
	}
	w.recurse(hot, depth+1, offset, hotZero*incomingZero, incomingOne, feature)
	w.recurse(cold, depth+1, offset, coldZero*incomingZero, 0, feature)
}
