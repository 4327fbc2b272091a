package log

// Component and operation context.
const (
	// ComponentKey identifies the package emitting the record, e.g. "loader", "merge".
	ComponentKey = "component"

	// OperationKey is the pipeline operation, see the Operation* constants.
	OperationKey = "operation"

	// ModelIDKey is the UUID of a fitted annotation model.
	ModelIDKey = "model.id"

	// ModelNameKey is the backend estimator type, e.g. "LinearSVC".
	ModelNameKey = "model.name"

	// ClassifierKindKey is the user facing classifier name, e.g. "rbf_svm".
	ClassifierKindKey = "annot.kind"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	GenesKey    = "data.genes"
	DatasetsKey = "data.datasets"
	PathKey     = "data.path"
	SourceKey   = "data.source"
)

// Annotation and merge context.
const (
	ClassesKey       = "annot.classes"
	LabelColumnKey   = "annot.label_column"
	MergeStrategyKey = "merge.strategy"
	BatchKey         = "merge.batch"
	MatchesKey       = "merge.matches"
)

// Performance and quality.
const (
	DurationMsKey  = "perf.duration_ms"
	AccuracyKey    = "metrics.accuracy"
	IterationKey   = "training.iteration"
	RandomSeedKey  = "config.random_seed"
	SuggestionKey  = "error.suggestion"
	ErrorCodeKey   = "error.code"
	HyperParamsKey = "model.hyperparams"
)

// Standard values for OperationKey.
const (
	OperationRead        = "read"
	OperationReconcile   = "reconcile"
	OperationMerge       = "merge"
	OperationFit         = "fit"
	OperationPredict     = "predict"
	OperationPredictProb = "predict_proba"
	OperationReport      = "report"
	OperationStore       = "store"
)

// Standard values for ErrorCodeKey.
const (
	ErrorMalformedInput    = "MALFORMED_INPUT"
	ErrorNoSharedFeatures  = "NO_SHARED_FEATURES"
	ErrorInsufficientClass = "INSUFFICIENT_CLASSES"
	ErrorGeneMismatch      = "GENE_MISMATCH"
	ErrorConvergence       = "CONVERGENCE_FAILURE"
	ErrorNoProbabilities   = "PROBABILITY_UNSUPPORTED"
	ErrorNotFitted         = "NOT_FITTED"
	ErrorInvalidParameter  = "INVALID_PARAMETER"
)
