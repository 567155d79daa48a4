package model

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError reports bad schema or threshold configuration. Fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ValidationFailure describes a single record rejected by the validator.
// Batches surface these through ValidationOutcome; the type is returned
// directly only by single-record evaluation.
type ValidationFailure struct {
	Kind       DatasetKind
	Violations []string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation: %s record failed %s", e.Kind, strings.Join(e.Violations, ", "))
}

// AnomalyHalt is returned when a CRITICAL finding stops a run.
type AnomalyHalt struct {
	RunID    string
	Findings []AnomalyFinding
}

func (e *AnomalyHalt) Error() string {
	ids := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		if f.Severity == SeverityCritical {
			ids = append(ids, f.RuleID)
		}
	}
	return fmt.Sprintf("anomaly halt: run %s: %s", e.RunID, strings.Join(ids, ", "))
}

// InvariantError means an upstream contract was violated. Always a defect.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated in %s: %s", e.Op, e.Detail)
}

// TransientIOError wraps a failure of an external collaborator that may
// succeed when retried.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string { return fmt.Sprintf("transient %s: %v", e.Op, e.Err) }
func (e *TransientIOError) Unwrap() error { return e.Err }

// FetchError reports that a source could not produce a batch.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Source, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// NotFoundError is a lookup miss in the checkpoint store or run store.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Resource, e.Key) }

// IsTransient reports whether err, or anything it wraps, is retryable.
func IsTransient(err error) bool {
	var t *TransientIOError
	return errors.As(err, &t)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
