// Package log defines standard attribute keys for the classification pipeline.
//
// Using these keys keeps log lines from the splitter, resampler, trainers,
// cross-validator and explainers consistent so they can be filtered together.
// Keys follow a hierarchical naming convention ("model.name", "data.samples").

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "LogisticRegression", "RandomForestClassifier"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "fit_resample", "split", "explain"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component or package is logging.
	// Examples: "pipeline", "over_sampling", "ensemble"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the pipeline.
	// Examples: "training", "validation", "testing"
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows).
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns).
	FeaturesKey = "data.features"

	// ClassCountsKey holds a class label to count mapping.
	ClassCountsKey = "data.class_counts"

	// SyntheticSamplesKey records how many rows an oversampler generated.
	SyntheticSamplesKey = "data.synthetic_samples"

	// TargetColumnKey names the target column of a dataset.
	TargetColumnKey = "data.target_column"
)

// Performance and Evaluation
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// IterationKey records iterations used by an iterative solver.
	IterationKey = "training.iteration"

	// FoldKey records the index of the cross-validation fold.
	FoldKey = "cv.fold"

	// FoldsKey records the total number of folds.
	FoldsKey = "cv.folds"

	// F1Key records an F1 score.
	F1Key = "metrics.f1"

	// AUCPRKey records an area under the precision-recall curve.
	AUCPRKey = "metrics.auc_pr"

	// LossKey records the final objective value of a solver.
	LossKey = "metrics.loss"
)

// Error and Warning Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	// Populated from cockroachdb/errors safe details.
	StacktraceKey = "error.stacktrace"

	// WarningKey carries a structured warning object.
	WarningKey = "warning"
)

// Configuration and Artifacts
const (
	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// ArtifactPathKey records where a model or chart was written.
	ArtifactPathKey = "artifact.path"

	// ArtifactIDKey records the identifier stamped into a model artifact.
	ArtifactIDKey = "artifact.id"

	// WorkersKey records the number of parallel workers used.
	WorkersKey = "infra.workers"
)

// Standard attribute values.
const (
	OperationFit         = "fit"
	OperationPredict     = "predict"
	OperationFitResample = "fit_resample"
	OperationSplit       = "split"
	OperationEvaluate    = "evaluate"
	OperationExplain     = "explain"
	OperationSave        = "save"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseTesting    = "testing"
)
