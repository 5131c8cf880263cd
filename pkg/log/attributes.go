// Package log defines standard attribute keys for training and inference.
//
// Keys follow a hierarchical naming convention ("training.epoch",
// "data.batch_size") so that log output from the driver, the checkpoint
// manager and the event writer can be filtered uniformly.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the sequence model implementation.
	// Examples: "ColumnEncoder"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: OperationTrain, OperationTest, OperationSave, OperationRestore
	OperationKey = "ml.operation"

	// ComponentKey identifies the package emitting the record.
	ComponentKey = "ml.component"

	// PhaseKey indicates training or inference.
	PhaseKey = "ml.phase"
)

// Run Context
const (
	// RunNameKey is the timestamp-derived run name.
	RunNameKey = "run.name"

	// RunIDKey is the run's unique identifier.
	RunIDKey = "run.id"

	// CheckpointPathKey is the path of a saved or restored checkpoint.
	CheckpointPathKey = "checkpoint.path"

	// LogDirKey is the directory of the run's event stream.
	LogDirKey = "run.log_dir"
)

// Data Shape
const (
	// SamplesKey indicates the number of samples in a dataset.
	SamplesKey = "data.samples"

	// BatchSizeKey indicates the number of samples per batch.
	BatchSizeKey = "data.batch_size"

	// TimeStepsKey is the model's temporal output length.
	TimeStepsKey = "data.time_steps"

	// ClassesKey is the vocabulary size including the blank.
	ClassesKey = "data.classes"
)

// Training Progress and Metrics
const (
	// LossKey records a loss value.
	LossKey = "metrics.loss"

	// EpochKey records the current epoch number.
	EpochKey = "training.epoch"

	// EpochsKey records the configured number of epochs.
	EpochsKey = "training.epochs"

	// StepKey records the global step number.
	StepKey = "training.step"

	// LearningRateKey records the optimizer learning rate.
	LearningRateKey = "hyperparams.learning_rate"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// CERKey records the character error rate.
	CERKey = "metrics.cer"

	// AccuracyKey records exact-sequence accuracy.
	AccuracyKey = "metrics.accuracy"
)

// Prediction Output
const (
	// GroundTruthKey holds the display strings of the ground-truth labels.
	GroundTruthKey = "preds.ground_truth"

	// DecodedKey holds the display strings of the decoded predictions.
	DecodedKey = "preds.decoded"

	// PredsBatchKey indicates the batch number in a test pass.
	PredsBatchKey = "preds.batch"
)

// Standard attribute values.
const (
	OperationTrain   = "train"
	OperationTest    = "test"
	OperationSave    = "save"
	OperationRestore = "restore"

	PhaseTraining  = "training"
	PhaseInference = "inference"
)
