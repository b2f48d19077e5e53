package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Artifact store sentinels.
var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrArtifactConflict = errors.New("artifact already written for stage")
)

// ErrRunNotFound is returned by run stores for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// ConfigError marks a malformed pipeline declaration. It is fatal and is
// raised before any stage runs.
type ConfigError struct {
	Pipeline string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Pipeline == "" {
		return fmt.Sprintf("invalid pipeline declaration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid pipeline declaration %q: %s", e.Pipeline, e.Reason)
}

// ValidationError marks a failed policy check. It is fatal and aborts the run
// before any stage starts.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("release validation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("release validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// CycleError reports a dependency cycle in a stage graph.
type CycleError struct {
	Stages []string
}

func (e *CycleError) Error() string {
	stages := append([]string(nil), e.Stages...)
	sort.Strings(stages)
	return fmt.Sprintf("stage dependency cycle involving: %s", strings.Join(stages, ", "))
}

// UnknownDependencyError reports a stage that needs an undeclared stage.
type UnknownDependencyError struct {
	Stage      string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("stage %q depends on undeclared stage %q", e.Stage, e.Dependency)
}

// JobFailed reports a terminal failure from a backend. It fails the owning
// stage and all its transitive dependents; unrelated branches keep running.
type JobFailed struct {
	Backend string
	Job     JobRef
	Reason  string
}

func (e *JobFailed) Error() string {
	return fmt.Sprintf("backend %s job %s failed: %s", e.Backend, e.Job.ID, e.Reason)
}

// TransientError wraps a backend error that is worth retrying: network
// failures, timeouts, 5xx responses. Anything not wrapped in TransientError
// is treated as permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient backend error: %v", e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// BackendUnavailable is raised after the transient retry ceiling is exhausted.
type BackendUnavailable struct {
	Backend  string
	Attempts int
	Err      error
}

func (e *BackendUnavailable) Error() string {
	return fmt.Sprintf("backend %s unavailable after %d attempts: %v", e.Backend, e.Attempts, e.Err)
}

func (e *BackendUnavailable) Unwrap() error { return e.Err }
