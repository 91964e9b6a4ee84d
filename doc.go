// Package imbalanced provides an imbalanced binary-classification workflow
// for Go, with scikit-learn shaped estimators underneath.
//
// The workflow follows the usual fraud-detection recipe: a stratified
// train/test split, SMOTE oversampling of the minority class, a balanced
// logistic regression and a balanced random forest with fixed
// hyperparameters, stratified k-fold cross-validation scored by F1 and
// AUC-PR, held-out evaluation and tree-model explainability charts.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/imbalanced/core/dataset"
//	    "github.com/YuminosukeSato/imbalanced/pipeline"
//	)
//
//	func main() {
//	    ds, err := dataset.FromRows([]string{"amount", "velocity", "Class"}, rows)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    XTrain, XTest, yTrain, yTest, err := pipeline.SplitData(ds, "Class")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    forest, err := pipeline.TrainRandomForest(XTrain, yTrain)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    eval, err := pipeline.EvaluateModel(forest, XTest, yTest)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println("AUC-PR:", eval.AUCPR, "F1:", eval.F1)
//	}
//
// # Packages
//
//   - pipeline: the workflow stages, Config and Runner
//   - core/dataset: named columns over a gonum matrix
//   - core/model: estimator interfaces, fitted state, gob artifacts
//   - core/parallel: bounded goroutine fan-out
//   - imblearn/over_sampling: SMOTE
//   - sklearn/linear_model: LogisticRegression (L-BFGS)
//   - sklearn/tree: DecisionTreeClassifier (CART)
//   - sklearn/ensemble: RandomForestClassifier
//   - sklearn/model_selection: TrainTestSplit, StratifiedKFold, CrossValidate
//   - metrics: F1, precision, recall, confusion matrix, AUC-PR
//   - shap: TreeSHAP and the summary and force charts
//   - pkg/chart: gonum/plot helpers
//   - pkg/errors, pkg/log: structured errors and zerolog-backed logging
//
// # Artifacts
//
// Trained models are written with encoding/gob under Config.ModelDir
// (default "models") and read back with model.LoadModel. Charts go to
// Config.ReportDir (default "reports").
package imbalanced
