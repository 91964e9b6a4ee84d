package linear_model

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/YuminosukeSato/imbalanced/core/model"
	scierrors "github.com/YuminosukeSato/imbalanced/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// TestLogisticRegression_FitPredict_Binary tests binary classification
func TestLogisticRegression_FitPredict_Binary(t *testing.T) {
	// Create simple linearly separable data
	// Class 0: points around (1, 1)
	// Class 1: points around (3, 3)
	X := mat.NewDense(6, 2, []float64{
		0.5, 0.5,
		1.0, 1.5,
		1.5, 1.0,
		3.0, 2.5,
		2.5, 3.0,
		3.5, 3.5,
	})

	y := mat.NewDense(6, 1, []float64{
		0, 0, 0, // Class 0
		1, 1, 1, // Class 1
	})

	// Create and train model
	lr := NewLogisticRegression(
		WithLRMaxIter(1000),
		WithLRTol(1e-4),
	)

	err := lr.Fit(X, y)
	if err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	// Test predictions on training data
	predictions, err := lr.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}

	// Check predictions
	for i := 0; i < 6; i++ {
		pred := predictions.At(i, 0)
		actual := y.At(i, 0)
		if pred != actual {
			t.Errorf("Sample %d: expected %v, got %v", i, actual, pred)
		}
	}

	// Test on new data
	XTest := mat.NewDense(2, 2, []float64{
		1.0, 1.0, // Should be class 0
		3.0, 3.0, // Should be class 1
	})

	testPreds, err := lr.Predict(XTest)
	if err != nil {
		t.Fatalf("Failed to predict on test data: %v", err)
	}

	if testPreds.At(0, 0) != 0 {
		t.Errorf("Test point (1,1) should be class 0, got %v", testPreds.At(0, 0))
	}

	if testPreds.At(1, 0) != 1 {
		t.Errorf("Test point (3,3) should be class 1, got %v", testPreds.At(1, 0))
	}
}

// TestLogisticRegression_PredictProba tests probability predictions
func TestLogisticRegression_PredictProba(t *testing.T) {
	// Simple data
	X := mat.NewDense(4, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
	})

	y := mat.NewDense(4, 1, []float64{
		0, 0, 1, 1,
	})

	lr := NewLogisticRegression(
		WithLRMaxIter(500),
	)

	err := lr.Fit(X, y)
	if err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	probas, err := lr.PredictProba(X)
	if err != nil {
		t.Fatalf("Failed to predict probabilities: %v", err)
	}

	rows, cols := probas.Dims()
	if rows != 4 || cols != 2 {
		t.Errorf("Expected probas shape (4, 2), got (%d, %d)", rows, cols)
	}

	// Check that probabilities sum to 1
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			prob := probas.At(i, j)
			if prob < 0 || prob > 1 {
				t.Errorf("Invalid probability at (%d, %d): %v", i, j, prob)
			}
			sum += prob
		}
		if math.Abs(sum-1.0) > 1e-6 {
			t.Errorf("Probabilities for sample %d don't sum to 1: %v", i, sum)
		}
	}

	// Check that higher probability corresponds to predicted class
	predictions, _ := lr.Predict(X)
	for i := 0; i < rows; i++ {
		pred := int(predictions.At(i, 0))
		prob0 := probas.At(i, 0)
		prob1 := probas.At(i, 1)

		if pred == 0 && prob0 <= prob1 {
			t.Errorf("Sample %d: predicted class 0 but P(0)=%v <= P(1)=%v", i, prob0, prob1)
		}
		if pred == 1 && prob1 <= prob0 {
			t.Errorf("Sample %d: predicted class 1 but P(1)=%v <= P(0)=%v", i, prob1, prob0)
		}
	}
}

// TestLogisticRegression_Score tests accuracy calculation
func TestLogisticRegression_Score(t *testing.T) {
	// Create XOR-like data (not linearly separable, but we'll use more features)
	X := mat.NewDense(8, 3, []float64{
		0, 0, 0,
		0, 0, 1,
		0, 1, 0,
		0, 1, 1,
		1, 0, 0,
		1, 0, 1,
		1, 1, 0,
		1, 1, 1,
	})

	// Simple pattern: class 1 if sum of features > 1.5
	y := mat.NewDense(8, 1, []float64{
		0, 0, 0, 1, 0, 1, 1, 1,
	})

	lr := NewLogisticRegression(
		WithLRMaxIter(1000),
		WithLRC(10.0), // Less regularization for better fit
	)

	err := lr.Fit(X, y)
	if err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	score := lr.Score(X, y)
	if score < 0.75 { // Should achieve at least 75% accuracy
		t.Errorf("Score too low: %v", score)
	}

	// Perfect classification test with better separated data
	XSimple := mat.NewDense(6, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		3, 3,
		3, 4,
		4, 3,
	})
	ySimple := mat.NewDense(6, 1, []float64{
		0, 0, 0, // Class 0 (lower values)
		1, 1, 1, // Class 1 (higher values)
	})

	lr2 := NewLogisticRegression(
		WithLRMaxIter(1000),
		WithLRC(10.0), // Less regularization for better fit
	)
	if err := lr2.Fit(XSimple, ySimple); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	scoreSimple := lr2.Score(XSimple, ySimple)
	if scoreSimple != 1.0 {
		t.Errorf("Expected perfect score for linearly separable data, got %v", scoreSimple)
	}
}

// TestLogisticRegression_Regularization tests L2 regularization
func TestLogisticRegression_Regularization(t *testing.T) {
	// Create data with many features (prone to overfitting)
	X := mat.NewDense(10, 5, []float64{
		1, 0, 0, 0, 0,
		0, 1, 0, 0, 0,
		0, 0, 1, 0, 0,
		0, 0, 0, 1, 0,
		0, 0, 0, 0, 1,
		1, 1, 0, 0, 0,
		0, 1, 1, 0, 0,
		0, 0, 1, 1, 0,
		0, 0, 0, 1, 1,
		1, 0, 0, 0, 1,
	})

	y := mat.NewDense(10, 1, []float64{
		0, 0, 0, 1, 1, 0, 0, 1, 1, 1,
	})

	// Train with strong regularization
	lrStrong := NewLogisticRegression(
		WithLRC(0.01), // Strong regularization (small C)
		WithLRMaxIter(1000),
	)
	if err := lrStrong.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	// Train with weak regularization
	lrWeak := NewLogisticRegression(
		WithLRC(100.0), // Weak regularization (large C)
		WithLRMaxIter(1000),
	)
	if err := lrWeak.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	// Check that strong regularization produces smaller weights
	strongNorm := 0.0
	weakNorm := 0.0

	for j := 0; j < 5; j++ {
		strongNorm += lrStrong.coef_[0][j] * lrStrong.coef_[0][j]
		weakNorm += lrWeak.coef_[0][j] * lrWeak.coef_[0][j]
	}

	strongNorm = math.Sqrt(strongNorm)
	weakNorm = math.Sqrt(weakNorm)

	if strongNorm >= weakNorm {
		t.Errorf("Strong regularization should produce smaller weights: strong=%v, weak=%v",
			strongNorm, weakNorm)
	}
}

// TestLogisticRegression_Multiclass tests multiclass classification
func TestLogisticRegression_Multiclass(t *testing.T) {
	// Create 3-class data
	X := mat.NewDense(9, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		2, 2,
		2, 3,
		3, 2,
		4, 4,
		4, 5,
		5, 4,
	})

	y := mat.NewDense(9, 1, []float64{
		0, 0, 0, // Class 0
		1, 1, 1, // Class 1
		2, 2, 2, // Class 2
	})

	lr := NewLogisticRegression(
		WithLRMaxIter(1000),
		WithLRC(10.0),
	)

	err := lr.Fit(X, y)
	if err != nil {
		t.Fatalf("Failed to fit multiclass model: %v", err)
	}

	// Check that we have 3 classes
	if lr.nClasses_ != 3 {
		t.Errorf("Expected 3 classes, got %d", lr.nClasses_)
	}

	// Check predictions
	predictions, err := lr.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict: %v", err)
	}

	correct := 0
	for i := 0; i < 9; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}

	// One-vs-rest cannot separate the middle class perfectly
	accuracy := float64(correct) / 9.0
	if accuracy < 0.77 { // at least 7/9
		t.Errorf("Multiclass accuracy too low: %v", accuracy)
	}

	// Test probability predictions
	probas, err := lr.PredictProba(X)
	if err != nil {
		t.Fatalf("Failed to predict probabilities: %v", err)
	}

	rows, cols := probas.Dims()
	if cols != 3 {
		t.Errorf("Expected 3 probability columns, got %d", cols)
	}

	// Check probability constraints
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			prob := probas.At(i, j)
			if prob < 0 || prob > 1 {
				t.Errorf("Invalid probability at (%d, %d): %v", i, j, prob)
			}
			sum += prob
		}
		if math.Abs(sum-1.0) > 1e-6 {
			t.Errorf("Probabilities for sample %d don't sum to 1: %v", i, sum)
		}
	}
}

// TestLogisticRegression_GetSetParams tests parameter management
func TestLogisticRegression_GetSetParams(t *testing.T) {
	lr := NewLogisticRegression()

	// Get default params
	params := lr.GetParams()

	// Check some defaults
	if params["C"].(float64) != 1.0 {
		t.Errorf("Default C should be 1.0, got %v", params["C"])
	}

	if params["max_iter"].(int) != 100 {
		t.Errorf("Default max_iter should be 100, got %v", params["max_iter"])
	}

	// Set new params
	newParams := map[string]interface{}{
		"C":        2.0,
		"max_iter": 200,
		"penalty":  "none",
		"tol":      1e-5,
	}

	err := lr.SetParams(newParams)
	if err != nil {
		t.Fatalf("Failed to set params: %v", err)
	}

	// Verify changes
	if lr.C != 2.0 {
		t.Errorf("C not updated: expected 2.0, got %v", lr.C)
	}

	if lr.maxIter != 200 {
		t.Errorf("max_iter not updated: expected 200, got %v", lr.maxIter)
	}

	if lr.penalty != "none" {
		t.Errorf("penalty not updated: expected 'none', got %v", lr.penalty)
	}

	if lr.tol != 1e-5 {
		t.Errorf("tol not updated: expected 1e-5, got %v", lr.tol)
	}

	if err := lr.SetParams(map[string]interface{}{"C": "big"}); err == nil {
		t.Error("Expected error for wrongly typed parameter")
	}
	if err := lr.SetParams(map[string]interface{}{"alpha": 1.0}); err == nil {
		t.Error("Expected error for unknown parameter")
	}
}

// TestLogisticRegression_NotFitted tests error when predicting without fitting
func TestLogisticRegression_NotFitted(t *testing.T) {
	lr := NewLogisticRegression()

	X := mat.NewDense(2, 2, []float64{
		1, 2,
		3, 4,
	})

	_, err := lr.Predict(X)
	if err == nil {
		t.Error("Expected error when predicting without fitting")
	}

	_, err = lr.PredictProba(X)
	if err == nil {
		t.Error("Expected error when predicting probabilities without fitting")
	}

	var nf *scierrors.NotFittedError
	if !errors.As(err, &nf) {
		t.Errorf("Expected NotFittedError, got %T", err)
	}
}

// imbalancedLine returns noisy 1-D-ish data where the positive class is rare
func imbalancedLine() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(40, 2, nil)
	y := mat.NewDense(40, 1, nil)
	for i := 0; i < 40; i++ {
		x := float64(i) / 10
		X.Set(i, 0, x)
		X.Set(i, 1, math.Sin(float64(i)))
		if i >= 34 || i == 20 {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

// TestLogisticRegression_BalancedWeights tests class_weight="balanced"
func TestLogisticRegression_BalancedWeights(t *testing.T) {
	lr := NewLogisticRegression(WithLRClassWeight("balanced"))
	w := lr.sampleWeights([]float64{0, 0, 0, 1}, 2)
	want := []float64{4.0 / 6.0, 4.0 / 6.0, 4.0 / 6.0, 2}
	for i := range want {
		if math.Abs(w[i]-want[i]) > 1e-12 {
			t.Errorf("weight[%d] = %v, want %v", i, w[i], want[i])
		}
	}

	X, y := imbalancedLine()
	plain := NewLogisticRegression(WithLRMaxIter(1000))
	balanced := NewLogisticRegression(WithLRMaxIter(1000), WithLRClassWeight("balanced"))
	if err := plain.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}
	if err := balanced.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	// Up-weighting the rare class raises its average predicted probability
	mean := func(lr *LogisticRegression) float64 {
		p, err := lr.PredictProba(X)
		if err != nil {
			t.Fatalf("PredictProba: %v", err)
		}
		return mat.Sum(p.(*mat.Dense).ColView(1)) / 40
	}
	if mean(balanced) <= mean(plain) {
		t.Errorf("balanced weights should raise positive-class probabilities: %v <= %v", mean(balanced), mean(plain))
	}
}

// TestLogisticRegression_Optimality checks the gradient of the objective at the solution
func TestLogisticRegression_Optimality(t *testing.T) {
	X, y := imbalancedLine()
	lr := NewLogisticRegression(WithLRMaxIter(1000), WithLRClassWeight("balanced"), WithLRTol(1e-6))
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	labels := mat.Col(nil, 0, y)
	sw := lr.sampleWeights(labels, 2)
	var swSum float64
	for _, v := range sw {
		swSum += v
	}

	coef := lr.Coef()[0]
	grad := make([]float64, 3)
	for i := 0; i < 40; i++ {
		z := lr.Intercept()[0] + coef[0]*X.At(i, 0) + coef[1]*X.At(i, 1)
		r := sw[i] * (scierrors.Sigmoid(z) - labels[i]) / swSum
		grad[0] += r * X.At(i, 0)
		grad[1] += r * X.At(i, 1)
		grad[2] += r
	}
	l2 := 1 / (lr.C * swSum)
	grad[0] += l2 * coef[0]
	grad[1] += l2 * coef[1]

	for j, g := range grad {
		if math.Abs(g) > 1e-4 {
			t.Errorf("gradient[%d] = %v at the solution", j, g)
		}
	}
	if lr.NIter()[0] == 0 {
		t.Error("expected at least one iteration")
	}
}

// TestLogisticRegression_ConvergenceWarning tests the warning on iteration limit
func TestLogisticRegression_ConvergenceWarning(t *testing.T) {
	var warnings []error
	scierrors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	t.Cleanup(func() { scierrors.SetWarningHandler(func(error) {}) })

	X, y := imbalancedLine()
	lr := NewLogisticRegression(WithLRMaxIter(1))
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Fit should succeed with a warning, got %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a ConvergenceWarning")
	}
	var cw *scierrors.ConvergenceWarning
	if !errors.As(warnings[0], &cw) {
		t.Errorf("expected ConvergenceWarning, got %T", warnings[0])
	}
}

// TestLogisticRegression_Validation tests input and parameter validation
func TestLogisticRegression_Validation(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})

	if err := NewLogisticRegression().Fit(X, mat.NewDense(4, 1, []float64{1, 1, 1, 1})); err == nil {
		t.Error("expected error for a single class")
	}
	if err := NewLogisticRegression().Fit(X, mat.NewDense(3, 1, []float64{0, 1, 1})); err == nil {
		t.Error("expected error for mismatched rows")
	}
	if err := NewLogisticRegression(WithLRPenalty("l1")).Fit(X, mat.NewDense(4, 1, []float64{0, 0, 1, 1})); err == nil {
		t.Error("expected error for unsupported penalty")
	}
	if err := NewLogisticRegression(WithLRC(0)).Fit(X, mat.NewDense(4, 1, []float64{0, 0, 1, 1})); err == nil {
		t.Error("expected error for C = 0")
	}

	lr := NewLogisticRegression()
	if err := lr.Fit(X, mat.NewDense(4, 1, []float64{0, 0, 1, 1})); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}
	_, err := lr.Predict(mat.NewDense(1, 2, nil))
	var de *scierrors.DimensionError
	if !errors.As(err, &de) {
		t.Errorf("expected DimensionError, got %v", err)
	}
}

// TestLogisticRegression_CloneAndPersist tests Clone and gob persistence
func TestLogisticRegression_CloneAndPersist(t *testing.T) {
	X, y := imbalancedLine()
	lr := NewLogisticRegression(WithLRMaxIter(1000), WithLRClassWeight("balanced"), WithLRRandomState(42))
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	clone := lr.Clone().(*LogisticRegression)
	if clone.IsFitted() {
		t.Error("clone should be unfitted")
	}
	if clone.classWeight != "balanced" || clone.maxIter != 1000 || clone.randomState != 42 {
		t.Errorf("clone lost hyperparameters: %+v", clone.GetParams())
	}

	path := filepath.Join(t.TempDir(), "logistic_model.gob")
	header, err := model.SaveModel(lr, path)
	if err != nil {
		t.Fatalf("SaveModel: %v", err)
	}
	if header.NFeatures != 2 {
		t.Errorf("header.NFeatures = %d, want 2", header.NFeatures)
	}

	var loaded LogisticRegression
	if _, err := model.LoadModel(&loaded, path); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if !loaded.IsFitted() {
		t.Fatal("loaded model should be fitted")
	}

	want, _ := lr.PredictProba(X)
	got, err := loaded.PredictProba(X)
	if err != nil {
		t.Fatalf("PredictProba on loaded model: %v", err)
	}
	if !mat.Equal(want, got) {
		t.Error("loaded model predicts differently")
	}
}

// TestLogisticRegression_FailedRefitKeepsModel tests that a refit on a single
// class leaves the previous fit intact
func TestLogisticRegression_FailedRefitKeepsModel(t *testing.T) {
	X, y := imbalancedLine()
	lr := NewLogisticRegression(WithLRMaxIter(1000))
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}
	want, err := lr.PredictProba(X)
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}

	XOne := mat.NewDense(4, 3, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	yOne := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	err = lr.Fit(XOne, yOne)
	var valueErr *scierrors.ValueError
	if !errors.As(err, &valueErr) {
		t.Fatalf("expected ValueError for a single class, got %v", err)
	}

	if classes := lr.Classes(); len(classes) != 2 || classes[0] != 0 || classes[1] != 1 {
		t.Errorf("classes changed after failed refit: %v", classes)
	}
	if nFeatures, _ := lr.GetDimensions(); nFeatures != 2 {
		t.Errorf("nFeatures = %d after failed refit, want 2", nFeatures)
	}
	got, err := lr.PredictProba(X)
	if err != nil {
		t.Fatalf("PredictProba after failed refit: %v", err)
	}
	if !mat.Equal(want, got) {
		t.Error("failed refit changed predictions")
	}
}
