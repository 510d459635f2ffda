// Package log defines standard attribute keys for estimation runs.
//
// Keys follow a hierarchical naming convention (e.g. "model.name",
// "data.samples") so that logs from different estimators can be filtered
// and compared.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the estimator type.
	// Examples: "LeastSquares", "KernelVMM", "NeuralVMM"
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies one estimator instance (a UUID string).
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the estimator lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape
const (
	// SamplesKey is the number of rows in the training set.
	SamplesKey = "data.samples"

	// ValSamplesKey is the number of rows in the validation set.
	ValSamplesKey = "data.val_samples"

	// PsiDimKey is the number of moment conditions.
	PsiDimKey = "data.psi_dim"

	// DimZKey is the instrument dimension.
	DimZKey = "data.dim_z"

	// BatchSizeKey indicates the mini-batch size of the adversarial trainer.
	BatchSizeKey = "data.batch_size"
)

// Performance and Training Progress
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LossKey records an objective value.
	LossKey = "metrics.loss"

	// MMRKey records the kernel moment-matching risk on the validation set.
	MMRKey = "metrics.mmr"

	// IterationKey records the outer or inner iteration number.
	IterationKey = "training.iteration"

	// AttemptKey records the attempt number of the regularization search.
	AttemptKey = "training.attempt"

	// EpochKey records the epoch of the adversarial trainer.
	EpochKey = "training.epoch"

	// StatusKey records the outcome of a fit attempt or training run.
	StatusKey = "training.status"
)

// Error Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// StacktraceKey contains stack trace information for debugging.
	StacktraceKey = "error.stacktrace"
)

// Hyperparameters
const (
	// RegularizationKey records the current alpha of Kernel-VMM.
	RegularizationKey = "hyperparams.regularization"

	// KernelLambdaKey records the kernel-norm weight on the dual function.
	KernelLambdaKey = "hyperparams.kernel_lambda"

	// L2LambdaKey records the L2 weight on the dual function.
	L2LambdaKey = "hyperparams.l2_lambda"

	// LearningRateKey records a learning rate.
	LearningRateKey = "hyperparams.learning_rate"

	// BandwidthKey records the RBF bandwidth.
	BandwidthKey = "hyperparams.bandwidth"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Standard attribute values.
const (
	OperationTrain    = "train"
	OperationValidate = "validate"
	OperationPretrain = "pretrain"

	PhaseTraining   = "training"
	PhaseValidation = "validation"

	ErrorNotFitted            = "NOT_FITTED"
	ErrorDimensionMismatch    = "DIMENSION_MISMATCH"
	ErrorSingularMatrix       = "SINGULAR_MATRIX"
	ErrorNumericalInstability = "NUMERICAL_INSTABILITY"
	ErrorRegularization       = "REGULARIZATION_EXHAUSTED"
)
