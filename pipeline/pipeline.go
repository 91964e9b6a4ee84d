// Package pipeline wires the imbalanced binary-classification workflow:
// stratified split, SMOTE, logistic and random-forest training with fixed
// hyperparameters, stratified cross-validation, held-out evaluation and
// tree-model explainability charts.
//
// Package-level functions run with DefaultConfig. Use New to change seeds,
// fold counts or output directories.
//
//	XTrain, XTest, yTrain, yTest, err := pipeline.SplitData(ds, "Class")
//	forest, err := pipeline.TrainRandomForest(XTrain, yTrain)
//	eval, err := pipeline.EvaluateModel(forest, XTest, yTest)
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/YuminosukeSato/imbalanced/core/dataset"
	"github.com/YuminosukeSato/imbalanced/core/model"
	"github.com/YuminosukeSato/imbalanced/imblearn/over_sampling"
	"github.com/YuminosukeSato/imbalanced/metrics"
	"github.com/YuminosukeSato/imbalanced/pkg/errors"
	"github.com/YuminosukeSato/imbalanced/pkg/log"
	"github.com/YuminosukeSato/imbalanced/sklearn/ensemble"
	"github.com/YuminosukeSato/imbalanced/sklearn/linear_model"
	"github.com/YuminosukeSato/imbalanced/sklearn/model_selection"
	"gonum.org/v1/gonum/mat"
)

// Artifact file names under Config.ModelDir
const (
	LogisticModelFile     = "logistic_model.gob"
	RandomForestModelFile = "random_forest_model.gob"
)

// Runner executes pipeline stages with one Config
type Runner struct {
	cfg          Config
	seedStrategy model_selection.SeedStrategy
}

// New validates cfg and returns a Runner
func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := model_selection.ParseSeedStrategy(cfg.SeedStrategy)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, seedStrategy: strategy}, nil
}

// Config returns a copy of the runner's settings
func (r *Runner) Config() Config {
	return r.cfg
}

func defaultRunner() *Runner {
	return &Runner{cfg: DefaultConfig(), seedStrategy: model_selection.SeedShared}
}

func (r *Runner) logger() log.Logger {
	return log.GetLoggerWithName("pipeline").With(log.ComponentKey, "pipeline")
}

// SplitData separates target from ds and makes a stratified train/test split
// with Config.TestSize and Config.RandomState.
// The target column must hold exactly two distinct values.
func (r *Runner) SplitData(ds *dataset.Dataset, target string) (XTrain, XTest, yTrain, yTest *mat.Dense, err error) {
	start := time.Now()
	X, y, _, err := ds.XY(target)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	rows, _ := y.Dims()
	distinct := make(map[float64]struct{}, 2)
	for i := 0; i < rows; i++ {
		distinct[y.At(i, 0)] = struct{}{}
	}
	if len(distinct) != 2 {
		return nil, nil, nil, nil, errors.NewValidationError(target,
			"target column must take exactly two distinct values", len(distinct))
	}

	XTrain, XTest, yTrain, yTest, err = model_selection.TrainTestSplit(X, y,
		model_selection.WithTestSize(r.cfg.TestSize),
		model_selection.WithSplitRandomState(r.cfg.RandomState),
		model_selection.WithStratify(true),
	)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	trainRows, _ := XTrain.Dims()
	testRows, _ := XTest.Dims()
	r.logger().Info("Dataset split",
		log.OperationKey, log.OperationSplit,
		log.TargetColumnKey, target,
		log.SamplesKey, rows,
		"split.train_rows", trainRows,
		"split.test_rows", testRows,
		log.RandomSeedKey, r.cfg.RandomState,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return XTrain, XTest, yTrain, yTest, nil
}

// newSMOTE returns the resampler used by the trainers and by every CV fold
func (r *Runner) newSMOTE(seed int64) *over_sampling.SMOTE {
	return over_sampling.NewSMOTE(
		over_sampling.WithKNeighbors(r.cfg.KNeighbors),
		over_sampling.WithRandomState(seed),
	)
}

func (r *Runner) resamplerFactory() model_selection.ResamplerFactory {
	return func(seed int64) model_selection.Resampler {
		return r.newSMOTE(seed)
	}
}

// NewLogistic returns the unfitted logistic model of the workflow
func (r *Runner) NewLogistic() *linear_model.LogisticRegression {
	return linear_model.NewLogisticRegression(
		linear_model.WithLRMaxIter(1000),
		linear_model.WithLRClassWeight("balanced"),
		linear_model.WithLRRandomState(r.cfg.RandomState),
	)
}

// NewRandomForest returns the unfitted forest of the workflow
func (r *Runner) NewRandomForest() *ensemble.RandomForestClassifier {
	return ensemble.NewRandomForestClassifier(
		ensemble.WithNEstimators(200),
		ensemble.WithMaxDepth(12),
		ensemble.WithMinSamplesSplit(5),
		ensemble.WithClassWeight("balanced"),
		ensemble.WithRandomState(r.cfg.RandomState),
		ensemble.WithNJobs(r.cfg.NJobs),
	)
}

func (r *Runner) modelPath(file string) string {
	return filepath.Join(r.cfg.ModelDir, file)
}

// train resamples the training set with SMOTE, fits clf and writes it to
// Config.ModelDir/file, replacing any previous artifact
func (r *Runner) train(clf model.Classifier, name, file string, XTrain, yTrain mat.Matrix) error {
	start := time.Now()
	if err := os.MkdirAll(r.cfg.ModelDir, 0o755); err != nil {
		return errors.Wrapf(err, "create model directory %s", r.cfg.ModelDir)
	}

	XRes, yRes, err := r.newSMOTE(r.cfg.RandomState).FitResample(XTrain, yTrain)
	if err != nil {
		return errors.Wrapf(err, "resample training set for %s", name)
	}
	if err := clf.Fit(XRes, yRes); err != nil {
		return errors.Wrapf(err, "fit %s", name)
	}

	path := r.modelPath(file)
	header, err := model.SaveModel(clf, path)
	if err != nil {
		return err
	}

	rows, _ := XRes.Dims()
	fields := []any{
		log.ModelNameKey, name,
		log.PhaseKey, log.PhaseTraining,
		log.SamplesKey, rows,
		log.ArtifactPathKey, path,
		log.ArtifactIDKey, header.ID,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	}
	if pg, ok := clf.(model.ParameterGetter); ok {
		fields = append(fields, log.HyperParamsKey, pg.GetParams())
	}
	r.logger().Info("Model trained", fields...)
	return nil
}

// TrainLogistic fits the balanced logistic regression on the SMOTE-resampled
// training set and saves it as Config.ModelDir/logistic_model.gob
func (r *Runner) TrainLogistic(XTrain, yTrain mat.Matrix) (*linear_model.LogisticRegression, error) {
	clf := r.NewLogistic()
	if err := r.train(clf, "LogisticRegression", LogisticModelFile, XTrain, yTrain); err != nil {
		return nil, err
	}
	return clf, nil
}

// TrainRandomForest fits the balanced random forest on the SMOTE-resampled
// training set and saves it as Config.ModelDir/random_forest_model.gob
func (r *Runner) TrainRandomForest(XTrain, yTrain mat.Matrix) (*ensemble.RandomForestClassifier, error) {
	clf := r.NewRandomForest()
	if err := r.train(clf, "RandomForestClassifier", RandomForestModelFile, XTrain, yTrain); err != nil {
		return nil, err
	}
	return clf, nil
}

func (r *Runner) cvOptions(k int) []model_selection.CVOption {
	if k <= 0 {
		k = r.cfg.NFolds
	}
	return []model_selection.CVOption{
		model_selection.WithNSplits(k),
		model_selection.WithCVRandomState(r.cfg.RandomState),
		model_selection.WithResampler(r.resamplerFactory()),
		model_selection.WithSeedStrategy(r.seedStrategy),
	}
}

// StratifiedCV scores clf with shuffled stratified k-fold cross-validation,
// resampling every training fold with SMOTE. k <= 0 uses Config.NFolds.
//
// clf itself is refitted on every fold, so after the call it holds the fit of
// the last fold only. Use CrossValidate to keep the caller's model untouched.
func (r *Runner) StratifiedCV(clf model.Classifier, X, y mat.Matrix, k int) (*model_selection.CVResult, error) {
	if clf == nil {
		return nil, errors.NewValidationError("model", "must not be nil", nil)
	}
	reuse := func() model.Classifier { return clf }
	return model_selection.CrossValidate(reuse, X, y, r.cvOptions(k)...)
}

// CrossValidateClones is StratifiedCV on unfitted copies of proto, one per fold.
// proto itself is only read.
func (r *Runner) CrossValidateClones(proto model.Cloner, X, y mat.Matrix, k int) (*model_selection.CVResult, error) {
	if proto == nil {
		return nil, errors.NewValidationError("model", "must not be nil", nil)
	}
	return r.CrossValidate(model.ClonerFactory(proto), X, y, k)
}

// CrossValidate is StratifiedCV with a fresh classifier from factory on every fold
func (r *Runner) CrossValidate(factory model.ClassifierFactory, X, y mat.Matrix, k int) (*model_selection.CVResult, error) {
	return model_selection.CrossValidate(factory, X, y, r.cvOptions(k)...)
}

// Evaluation holds held-out metrics of a binary classifier
type Evaluation struct {
	AUCPR     float64
	F1        float64
	Precision float64
	Recall    float64
	// ConfusionMatrix is [[TN, FP], [FN, TP]] with rows as true labels
	ConfusionMatrix *mat.Dense
	PositiveLabel   float64
}

// AsMap returns the metrics under their conventional report names
func (e *Evaluation) AsMap() map[string]interface{} {
	return map[string]interface{}{
		"AUC_PR":           e.AUCPR,
		"F1":               e.F1,
		"Confusion_Matrix": e.ConfusionMatrix,
	}
}

// EvaluateModel scores a fitted binary classifier on a held-out set.
// The positive class is the larger label. clf is only read.
func (r *Runner) EvaluateModel(clf model.Classifier, XTest, yTest mat.Matrix) (*Evaluation, error) {
	start := time.Now()
	pred, err := clf.Predict(XTest)
	if err != nil {
		return nil, err
	}
	proba, err := clf.PredictProba(XTest)
	if err != nil {
		return nil, err
	}
	classes := clf.Classes()
	posLabel, posCol, err := model_selection.PositiveClass(classes)
	if err != nil {
		return nil, err
	}

	yTrue := metrics.VecFromColumn(yTest, 0)
	for i := 0; i < yTrue.Len(); i++ {
		if v := yTrue.AtVec(i); v != classes[0] && v != classes[1] {
			return nil, errors.NewValueError("pipeline.EvaluateModel",
				fmt.Sprintf("label %v in y is not one of the model classes %v", v, classes))
		}
	}
	yPred := metrics.VecFromColumn(pred, 0)

	eval := &Evaluation{PositiveLabel: posLabel}
	if eval.AUCPR, err = metrics.AUCPR(yTrue, metrics.VecFromColumn(proba, posCol), posLabel); err != nil {
		return nil, err
	}
	if eval.F1, err = metrics.F1Score(yTrue, yPred, posLabel); err != nil {
		return nil, err
	}
	if eval.Precision, err = metrics.Precision(yTrue, yPred, posLabel); err != nil {
		return nil, err
	}
	if eval.Recall, err = metrics.Recall(yTrue, yPred, posLabel); err != nil {
		return nil, err
	}
	if eval.ConfusionMatrix, err = metrics.ConfusionMatrix(yTrue, yPred, classes); err != nil {
		return nil, err
	}

	r.logger().Info("Model evaluated",
		log.OperationKey, log.OperationEvaluate,
		log.PhaseKey, log.PhaseTesting,
		log.SamplesKey, yTrue.Len(),
		log.AUCPRKey, eval.AUCPR,
		log.F1Key, eval.F1,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return eval, nil
}

// SplitData runs Runner.SplitData with DefaultConfig
func SplitData(ds *dataset.Dataset, target string) (XTrain, XTest, yTrain, yTest *mat.Dense, err error) {
	return defaultRunner().SplitData(ds, target)
}

// TrainLogistic runs Runner.TrainLogistic with DefaultConfig
func TrainLogistic(XTrain, yTrain mat.Matrix) (*linear_model.LogisticRegression, error) {
	return defaultRunner().TrainLogistic(XTrain, yTrain)
}

// TrainRandomForest runs Runner.TrainRandomForest with DefaultConfig
func TrainRandomForest(XTrain, yTrain mat.Matrix) (*ensemble.RandomForestClassifier, error) {
	return defaultRunner().TrainRandomForest(XTrain, yTrain)
}

// StratifiedCV runs Runner.StratifiedCV with DefaultConfig
func StratifiedCV(clf model.Classifier, X, y mat.Matrix, k int) (*model_selection.CVResult, error) {
	return defaultRunner().StratifiedCV(clf, X, y, k)
}

// EvaluateModel runs Runner.EvaluateModel with DefaultConfig
func EvaluateModel(clf model.Classifier, XTest, yTest mat.Matrix) (*Evaluation, error) {
	return defaultRunner().EvaluateModel(clf, XTest, yTest)
}
