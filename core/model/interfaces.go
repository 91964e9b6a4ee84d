// Package model provides the interfaces shared by every estimator in this module
// together with fitted-state tracking and artifact persistence.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter is a model that can be trained on a feature matrix and a label column.
type Fitter interface {
	// Fit trains the model. X is n_samples x n_features, y is n_samples x 1.
	Fit(X, y mat.Matrix) error
}

// Predictor is a model that produces one label per input row.
type Predictor interface {
	// Predict returns an n_samples x 1 matrix of class labels.
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Classifier combines the operations the pipeline needs from a binary classifier.
type Classifier interface {
	Fitter
	Predictor

	// PredictProba returns an n_samples x n_classes matrix whose columns follow Classes().
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the sorted class labels seen during fitting.
	Classes() []float64
}

// ClassifierFactory builds a fresh, unfitted classifier.
// Cross-validation calls it once per fold.
type ClassifierFactory func() Classifier

// Cloner is implemented by classifiers that can produce an unfitted copy of
// themselves with identical hyperparameters.
type Cloner interface {
	Clone() Classifier
}

// ClonerFactory returns a factory producing unfitted copies of proto.
func ClonerFactory(proto Cloner) ClassifierFactory {
	return proto.Clone
}

// FeatureImporter is implemented by models exposing impurity-based importances.
type FeatureImporter interface {
	// FeatureImportances returns one non-negative score per feature, summing to 1.
	FeatureImportances() ([]float64, error)
}

// ParameterGetter is implemented by models that expose their hyperparameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters keyed by their sklearn names.
	GetParams() map[string]interface{}
}
