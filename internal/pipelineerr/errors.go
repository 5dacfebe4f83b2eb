// Package pipelineerr defines the error taxonomy shared by every stage and
// the orchestrator: a closed set of kinds, a per-stage error type, and the
// boundary error the orchestrator surfaces to callers. There is no silent
// fallback path anywhere in this package or its callers — a stage that
// fails makes the job fail.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories from the error taxonomy.
type Kind string

const (
	KindConfiguration    Kind = "configuration"
	KindParseFailure     Kind = "parse_failure"
	KindTransport        Kind = "transport"
	KindTimeout          Kind = "timeout"
	KindProvider         Kind = "provider"
	KindSchema           Kind = "schema"
	KindCleanRegression  Kind = "clean_regression"
	KindCache            Kind = "cache"
	KindCancelled        Kind = "cancelled"
)

// Retryable reports whether the transport layer should retry a failure of
// this kind. Only KindTransport is retried automatically; everything else
// is fatal for the stage that raised it.
func (k Kind) Retryable() bool {
	return k == KindTransport
}

// StageError is raised by a single stage. It is never a fallback signal —
// the orchestrator treats it as fatal for the whole job.
type StageError struct {
	Stage   string
	Kind    Kind
	Message string
	Cause   error
}

func NewStageError(stage string, kind Kind, message string, cause error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Message: message, Cause: cause}
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error { return e.Cause }

// PipelineError is the single terminal error surfaced by the orchestrator
// for a job. Non-StageError failures raised by a stage are wrapped in one
// so the caller always sees {stage, kind, message, cause}.
type PipelineError struct {
	Stage   string
	Kind    Kind
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pipeline failed at stage %s (%s): %s: %v", e.Stage, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("pipeline failed at stage %s (%s): %s", e.Stage, e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// Wrap turns any error raised by a stage's execute routine into a
// PipelineError. A *StageError carries its own kind through; anything
// else is wrapped as an opaque failure of the stage that produced it.
func Wrap(stage string, err error) *PipelineError {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return &PipelineError{Stage: se.Stage, Kind: se.Kind, Message: se.Message, Cause: se.Cause}
	}
	return &PipelineError{Stage: stage, Kind: KindConfiguration, Message: err.Error(), Cause: err}
}

// ConfigurationError is a convenience constructor for the configuration
// kind, used outside a single stage's execute routine (registry building,
// model/prompt resolution).
func ConfigurationError(message string, cause error) error {
	return &StageError{Kind: KindConfiguration, Message: message, Cause: cause}
}

// IsCancelled reports whether err (or something it wraps) is a cancellation.
func IsCancelled(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind == KindCancelled
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == KindCancelled
	}
	return false
}
