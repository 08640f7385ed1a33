package engine

import "errors"

var (
	// ErrConfigurationMismatch means the model's vocabulary/modality shape
	// does not match the incoming evidence. Continuing would produce
	// meaningless posteriors, so runs abort on it.
	ErrConfigurationMismatch = errors.New("model configuration mismatch")

	// ErrInvalidConfiguration covers K < 1, negative thresholds and the like.
	ErrInvalidConfiguration = errors.New("invalid engine configuration")

	// ErrNumericInstability is raised when a responsibility computation
	// yields NaN or Inf. It is surfaced, not clamped: it indicates a data or
	// configuration defect.
	ErrNumericInstability = errors.New("numeric instability in responsibility computation")

	// ErrArtifactVersion means a persisted model artifact was written by an
	// incompatible engine version.
	ErrArtifactVersion = errors.New("unsupported model artifact version")
)
