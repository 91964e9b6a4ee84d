package linear_model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/YuminosukeSato/imbalanced/core/model"
	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// LogisticRegression implements L2-regularised logistic regression for classification
// Compatible with scikit-learn's LogisticRegression(solver="lbfgs")
type LogisticRegression struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	penalty      string  // Regularization: "l2", "none"
	C            float64 // Inverse regularization strength (1/alpha)
	fitIntercept bool    // Whether to fit intercept
	classWeight  string  // Class weight: "balanced", "none"
	randomState  int64   // Random seed (lbfgs is deterministic; kept for parameter parity)
	solver       string  // Solver: "lbfgs"
	maxIter      int     // Maximum iterations
	tol          float64 // Tolerance for stopping (max abs gradient)

	// Model parameters
	coef_      [][]float64 // Coefficients (1 x n_features for binary, n_classes x n_features otherwise)
	intercept_ []float64   // Intercept terms
	classes_   []float64   // Sorted unique class labels
	nClasses_  int         // Number of classes
	nFeatures_ int         // Number of features
	nIter_     []int       // Actual iterations per binary problem
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		classWeight:  "none",
		randomState:  -1,
		solver:       "lbfgs",
		maxIter:      100,
		tol:          1e-4,
	}

	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// Option functions

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRClassWeight sets the class weighting: "balanced" or "none"
func WithLRClassWeight(classWeight string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.classWeight = classWeight
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRRandomState sets the random seed
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.randomState = seed
	}
}

func (lr *LogisticRegression) validateParams() error {
	switch lr.penalty {
	case "l2", "none":
	default:
		return errors.NewValidationError("penalty", "must be \"l2\" or \"none\"", lr.penalty)
	}
	if lr.solver != "lbfgs" {
		return errors.NewValidationError("solver", "only \"lbfgs\" is supported", lr.solver)
	}
	switch lr.classWeight {
	case "balanced", "none", "":
	default:
		return errors.NewValidationError("class_weight", "must be \"balanced\" or \"none\"", lr.classWeight)
	}
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be at least 1", lr.maxIter)
	}
	return nil
}

// Fit trains the logistic regression model.
// Binary targets are solved as one problem; with more classes one
// problem per class is solved (one-vs-rest).
func (lr *LogisticRegression) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "LogisticRegression.Fit")
	start := time.Now()

	if err := lr.validateParams(); err != nil {
		return err
	}

	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 {
		return errors.Wrap(errors.ErrEmptyData, "LogisticRegression.Fit")
	}
	if nSamples != yRows {
		return errors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("LogisticRegression.Fit",
			fmt.Sprintf("y must be a column vector: got shape (%d, %d)", yRows, yCols))
	}
	if err := errors.CheckMatrix("LogisticRegression.Fit", X); err != nil {
		return err
	}

	classes := uniqueClasses(y)
	if len(classes) < 2 {
		return errors.NewValueError("LogisticRegression.Fit",
			fmt.Sprintf("this solver needs samples of at least 2 classes in the data, but the data contains only one class: %v", classes))
	}

	logger := log.GetLoggerWithName("linear_model").With(log.ModelNameKey, "LogisticRegression")
	logger.Debug("Fitting model",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.HyperParamsKey, lr.GetParams(),
	)

	data := mat.DenseCopyOf(X).RawMatrix()
	labels := mat.Col(nil, 0, y)
	sampleWeight := lr.sampleWeights(labels, len(classes))

	nProblems := 1
	if len(classes) > 2 {
		nProblems = len(classes)
	}
	coefs := make([][]float64, nProblems)
	intercepts := make([]float64, nProblems)
	nIters := make([]int, nProblems)

	var finalLoss float64
	for k := 0; k < nProblems; k++ {
		positive := classes[1]
		if nProblems > 1 {
			positive = classes[k]
		}
		target := make([]float64, nSamples)
		for i, label := range labels {
			if label == positive {
				target[i] = 1
			}
		}

		coef, intercept, nIter, loss, err := lr.fitBinary(data, target, sampleWeight)
		if err != nil {
			return errors.NewModelError("LogisticRegression.Fit", "optimization failed", err)
		}
		coefs[k] = coef
		intercepts[k] = intercept
		nIters[k] = nIter
		finalLoss = loss
	}

	// A failed refit leaves the previous fit untouched
	lr.classes_ = classes
	lr.nClasses_ = len(classes)
	lr.nFeatures_ = nFeatures
	lr.coef_ = coefs
	lr.intercept_ = intercepts
	lr.nIter_ = nIters
	lr.state.SetFitted(nFeatures, nSamples)

	logger.Info("Model fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.IterationKey, lr.nIter_,
		log.LossKey, finalLoss,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// uniqueClasses returns the sorted distinct labels of y
func uniqueClasses(y mat.Matrix) []float64 {
	rows, _ := y.Dims()
	seen := make(map[float64]bool)
	classes := make([]float64, 0, 2)
	for i := 0; i < rows; i++ {
		label := y.At(i, 0)
		if !seen[label] {
			seen[label] = true
			classes = append(classes, label)
		}
	}
	sort.Float64s(classes)
	return classes
}

// sampleWeights returns one weight per sample.
// With class_weight="balanced" a sample of class c weighs n / (n_classes * count(c)).
func (lr *LogisticRegression) sampleWeights(labels []float64, nClasses int) []float64 {
	weights := make([]float64, len(labels))
	if lr.classWeight != "balanced" {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}

	counts := make(map[float64]int, nClasses)
	for _, label := range labels {
		counts[label]++
	}
	n := float64(len(labels))
	for i, label := range labels {
		weights[i] = n / (float64(nClasses) * float64(counts[label]))
	}
	return weights
}

// fitBinary minimises the weighted logistic loss plus the L2 penalty with L-BFGS.
//
// The objective, divided by the total sample weight S, is
//
//	Σ s_i log(1 + exp(-y_i z_i)) / S + ||w||² / (2 C S)
//
// with the intercept left unpenalised. Coefficients start at zero.
func (lr *LogisticRegression) fitBinary(data blas64.General, target, sampleWeight []float64) (coef []float64, intercept float64, nIter int, loss float64, err error) {
	nSamples, nFeatures := data.Rows, data.Cols
	nParams := nFeatures
	if lr.fitIntercept {
		nParams++
	}

	var swSum float64
	for _, w := range sampleWeight {
		swSum += w
	}
	l2 := 0.0
	if lr.penalty == "l2" {
		l2 = 1.0 / (lr.C * swSum)
	}

	z := make([]float64, nSamples)
	linear := func(x []float64) {
		for i := 0; i < nSamples; i++ {
			row := data.Data[i*data.Stride : i*data.Stride+nFeatures]
			s := 0.0
			for j, v := range row {
				s += v * x[j]
			}
			if lr.fitIntercept {
				s += x[nFeatures]
			}
			z[i] = s
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			linear(x)
			var f float64
			for i := 0; i < nSamples; i++ {
				f += sampleWeight[i] * (errors.Log1pExp(z[i]) - target[i]*z[i])
			}
			f /= swSum
			for j := 0; j < nFeatures; j++ {
				f += 0.5 * l2 * x[j] * x[j]
			}
			return f
		},
		Grad: func(grad, x []float64) {
			linear(x)
			for j := range grad {
				grad[j] = 0
			}
			for i := 0; i < nSamples; i++ {
				r := sampleWeight[i] * (errors.Sigmoid(z[i]) - target[i]) / swSum
				row := data.Data[i*data.Stride : i*data.Stride+nFeatures]
				for j, v := range row {
					grad[j] += r * v
				}
				if lr.fitIntercept {
					grad[nFeatures] += r
				}
			}
			for j := 0; j < nFeatures; j++ {
				grad[j] += l2 * x[j]
			}
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   lr.maxIter,
		GradientThreshold: lr.tol,
	}
	result, err := optimize.Minimize(problem, make([]float64, nParams), settings, &optimize.LBFGS{})
	if result == nil {
		return nil, 0, 0, 0, err
	}

	x := result.X
	if cerr := errors.CheckNumericalStability("lbfgs_objective", x, result.Stats.MajorIterations); cerr != nil {
		return nil, 0, 0, 0, cerr
	}
	if cerr := errors.CheckScalar("lbfgs_loss", result.F, result.Stats.MajorIterations); cerr != nil {
		return nil, 0, 0, 0, cerr
	}

	nIter = result.Stats.MajorIterations
	switch {
	case result.Status == optimize.IterationLimit:
		errors.Warn(errors.NewConvergenceWarning("lbfgs", nIter, ""))
	case err != nil:
		// The line search can stall once the gradient is within rounding of
		// the threshold; the last iterate is still the best point found.
		errors.Warn(errors.NewConvergenceWarning("lbfgs", nIter, err.Error()))
	}

	coef = append([]float64(nil), x[:nFeatures]...)
	if lr.fitIntercept {
		intercept = x[nFeatures]
	}
	return coef, intercept, nIter, result.F, nil
}

// decision returns the linear score of row i of X for binary problem k
func (lr *LogisticRegression) decision(X mat.Matrix, i, k int) float64 {
	z := lr.intercept_[k]
	for j := 0; j < lr.nFeatures_; j++ {
		z += X.At(i, j) * lr.coef_[k][j]
	}
	return z
}

// DecisionFunction returns the signed distance of each sample to the hyperplane.
// The result is n_samples x 1 for binary problems and n_samples x n_classes otherwise.
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.CheckInput("LogisticRegression", "DecisionFunction", X); err != nil {
		return nil, err
	}
	nSamples, _ := X.Dims()
	out := mat.NewDense(nSamples, len(lr.coef_), nil)
	for i := 0; i < nSamples; i++ {
		for k := range lr.coef_ {
			out.Set(i, k, lr.decision(X, i, k))
		}
	}
	return out, nil
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.CheckInput("LogisticRegression", "Predict", X); err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)

	if lr.nClasses_ == 2 {
		for i := 0; i < nSamples; i++ {
			if lr.decision(X, i, 0) > 0 {
				predictions.Set(i, 0, lr.classes_[1])
			} else {
				predictions.Set(i, 0, lr.classes_[0])
			}
		}
		return predictions, nil
	}

	for i := 0; i < nSamples; i++ {
		maxScore := math.Inf(-1)
		bestClass := 0
		for k := 0; k < lr.nClasses_; k++ {
			if score := lr.decision(X, i, k); score > maxScore {
				maxScore = score
				bestClass = k
			}
		}
		predictions.Set(i, 0, lr.classes_[bestClass])
	}
	return predictions, nil
}

// PredictProba returns probability estimates for each class, columns ordered as Classes()
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.CheckInput("LogisticRegression", "PredictProba", X); err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	probas := mat.NewDense(nSamples, lr.nClasses_, nil)

	if lr.nClasses_ == 2 {
		for i := 0; i < nSamples; i++ {
			p1 := errors.Sigmoid(lr.decision(X, i, 0))
			probas.Set(i, 0, 1.0-p1)
			probas.Set(i, 1, p1)
		}
		return probas, nil
	}

	// One-vs-rest: normalise the per-class sigmoids
	for i := 0; i < nSamples; i++ {
		sum := 0.0
		for k := 0; k < lr.nClasses_; k++ {
			p := errors.Sigmoid(lr.decision(X, i, k))
			probas.Set(i, k, p)
			sum += p
		}
		for k := 0; k < lr.nClasses_; k++ {
			probas.Set(i, k, probas.At(i, k)/sum)
		}
	}
	return probas, nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	predictions, err := lr.Predict(X)
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

// Classes returns the sorted class labels seen during fitting
func (lr *LogisticRegression) Classes() []float64 {
	return append([]float64(nil), lr.classes_...)
}

// Coef returns a copy of the fitted coefficients
func (lr *LogisticRegression) Coef() [][]float64 {
	out := make([][]float64, len(lr.coef_))
	for k, c := range lr.coef_ {
		out[k] = append([]float64(nil), c...)
	}
	return out
}

// Intercept returns a copy of the fitted intercepts
func (lr *LogisticRegression) Intercept() []float64 {
	return append([]float64(nil), lr.intercept_...)
}

// NIter returns the number of solver iterations per binary problem
func (lr *LogisticRegression) NIter() []int {
	return append([]int(nil), lr.nIter_...)
}

// IsFitted reports whether Fit has completed successfully
func (lr *LogisticRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

// GetDimensions returns the feature and sample counts seen during fitting
func (lr *LogisticRegression) GetDimensions() (nFeatures, nSamples int) {
	return lr.state.GetDimensions()
}

// Clone returns an unfitted copy with the same hyperparameters
func (lr *LogisticRegression) Clone() model.Classifier {
	return &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      lr.penalty,
		C:            lr.C,
		fitIntercept: lr.fitIntercept,
		classWeight:  lr.classWeight,
		randomState:  lr.randomState,
		solver:       lr.solver,
		maxIter:      lr.maxIter,
		tol:          lr.tol,
	}
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"class_weight":  lr.classWeight,
		"random_state":  lr.randomState,
		"solver":        lr.solver,
		"max_iter":      lr.maxIter,
		"tol":           lr.tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "penalty":
			lr.penalty, ok = value.(string)
		case "C":
			lr.C, ok = value.(float64)
		case "fit_intercept":
			lr.fitIntercept, ok = value.(bool)
		case "class_weight":
			lr.classWeight, ok = value.(string)
		case "random_state":
			lr.randomState, ok = value.(int64)
		case "solver":
			lr.solver, ok = value.(string)
		case "max_iter":
			lr.maxIter, ok = value.(int)
		case "tol":
			lr.tol, ok = value.(float64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return nil
}

// logisticSnapshot is the gob representation of a LogisticRegression
type logisticSnapshot struct {
	Fitted       bool
	NSamples     int
	Penalty      string
	C            float64
	FitIntercept bool
	ClassWeight  string
	RandomState  int64
	Solver       string
	MaxIter      int
	Tol          float64
	Coef         [][]float64
	Intercept    []float64
	Classes      []float64
	NFeatures    int
	NIter        []int
}

// GobEncode implements gob.GobEncoder
func (lr *LogisticRegression) GobEncode() ([]byte, error) {
	_, nSamples := lr.state.GetDimensions()
	snap := logisticSnapshot{
		Fitted:       lr.state.IsFitted(),
		NSamples:     nSamples,
		Penalty:      lr.penalty,
		C:            lr.C,
		FitIntercept: lr.fitIntercept,
		ClassWeight:  lr.classWeight,
		RandomState:  lr.randomState,
		Solver:       lr.solver,
		MaxIter:      lr.maxIter,
		Tol:          lr.tol,
		Coef:         lr.coef_,
		Intercept:    lr.intercept_,
		Classes:      lr.classes_,
		NFeatures:    lr.nFeatures_,
		NIter:        lr.nIter_,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, errors.Wrap(err, "encode LogisticRegression")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder
func (lr *LogisticRegression) GobDecode(data []byte) error {
	var snap logisticSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode LogisticRegression")
	}
	lr.state = model.NewStateManager()
	if snap.Fitted {
		lr.state.SetFitted(snap.NFeatures, snap.NSamples)
	}
	lr.penalty = snap.Penalty
	lr.C = snap.C
	lr.fitIntercept = snap.FitIntercept
	lr.classWeight = snap.ClassWeight
	lr.randomState = snap.RandomState
	lr.solver = snap.Solver
	lr.maxIter = snap.MaxIter
	lr.tol = snap.Tol
	lr.coef_ = snap.Coef
	lr.intercept_ = snap.Intercept
	lr.classes_ = snap.Classes
	lr.nClasses_ = len(snap.Classes)
	lr.nFeatures_ = snap.NFeatures
	lr.nIter_ = snap.NIter
	return nil
}
