package scanning

import "errors"

var (
	// ErrInvalidRequest indicates trigger parameters that fail validation.
	// It is surfaced synchronously to the caller and never creates a job.
	ErrInvalidRequest = errors.New("invalid scan request")

	// ErrInvalidThresholds indicates a malformed threshold configuration.
	ErrInvalidThresholds = errors.New("invalid thresholds")

	// ErrJobNotFound indicates an unknown scan job id.
	ErrJobNotFound = errors.New("scan job not found")

	// ErrInvalidStatusTransition indicates an attempted transition the job
	// lifecycle does not permit.
	ErrInvalidStatusTransition = errors.New("invalid job status transition")

	// ErrEngineUnavailable indicates the scan engine could not be launched.
	ErrEngineUnavailable = errors.New("scan engine unavailable")
)
