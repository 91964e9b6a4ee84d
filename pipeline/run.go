package pipeline

import (
	"time"

	"github.com/YuminosukeSato/imbalanced/core/dataset"
	"github.com/YuminosukeSato/imbalanced/core/model"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"github.com/YuminosukeSato/imbalanced/shap"
	"github.com/YuminosukeSato/imbalanced/sklearn/model_selection"
)

// ModelReport collects the results of one trained model
type ModelReport struct {
	Name         string
	ArtifactPath string
	CV           *model_selection.CVResult
	Evaluation   *Evaluation
}

// Report is the outcome of Run
type Report struct {
	Target       string
	FeatureNames []string
	Logistic     ModelReport
	RandomForest ModelReport
	// TopFeatures are the forest's largest impurity importances
	TopFeatures []FeatureImportance
	// Force explains the first held-out row
	Force *shap.Explanation
}

// Run executes the whole workflow on ds: split, both trainers, cross-validation
// on the training part, held-out evaluation, the importance chart and the SHAP
// charts of the forest on the test set.
func (r *Runner) Run(ds *dataset.Dataset, target string) (*Report, error) {
	start := time.Now()
	XTrain, XTest, yTrain, yTest, err := r.SplitData(ds, target)
	if err != nil {
		return nil, err
	}
	report := &Report{Target: target, FeatureNames: ds.FeatureNames(target)}

	logistic, err := r.TrainLogistic(XTrain, yTrain)
	if err != nil {
		return nil, err
	}
	forest, err := r.TrainRandomForest(XTrain, yTrain)
	if err != nil {
		return nil, err
	}

	for _, item := range []struct {
		report *ModelReport
		name   string
		file   string
		clf    interface {
			model.Classifier
			model.Cloner
		}
	}{
		{&report.Logistic, "LogisticRegression", LogisticModelFile, logistic},
		{&report.RandomForest, "RandomForestClassifier", RandomForestModelFile, forest},
	} {
		item.report.Name = item.name
		item.report.ArtifactPath = r.modelPath(item.file)
		if item.report.CV, err = r.CrossValidateClones(item.clf, XTrain, yTrain, 0); err != nil {
			return nil, err
		}
		if item.report.Evaluation, err = r.EvaluateModel(item.clf, XTest, yTest); err != nil {
			return nil, err
		}
	}

	if report.TopFeatures, err = r.PlotBuiltinFeatureImportance(forest, report.FeatureNames, 0); err != nil {
		return nil, err
	}
	explainer, values, err := r.ShapGlobalExplanation(forest, XTest, report.FeatureNames)
	if err != nil {
		return nil, err
	}
	if report.Force, err = r.ShapForcePlot(explainer, values, XTest, 0, report.FeatureNames); err != nil {
		return nil, err
	}

	r.logger().Info("Pipeline finished",
		log.TargetColumnKey, target,
		"logistic.auc_pr", report.Logistic.Evaluation.AUCPR,
		"random_forest.auc_pr", report.RandomForest.Evaluation.AUCPR,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return report, nil
}
