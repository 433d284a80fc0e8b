// Package job drives asynchronous platform jobs to completion: submit,
// stream logs, poll to a terminal state, and translate that state into a
// local result with the remote process's exit code.
package job

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a submitted job.
// Transitions only move forward: Pending -> Running -> terminal.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// rank orders states so a stale poll response can never regress an
// already-observed state.
func (s State) rank() int { return int(s) }

// EnvVar is one environment assignment, order-preserving.
type EnvVar struct {
	Name  string
	Value string
}

// VolumeMount attaches a storage or disk URI inside the job container.
type VolumeMount struct {
	Source    string
	MountPath string
	ReadOnly  bool
}

func (v VolumeMount) String() string {
	mode := "rw"
	if v.ReadOnly {
		mode = "ro"
	}
	return fmt.Sprintf("%s:%s:%s", v.Source, v.MountPath, mode)
}

// ParseVolumeMount parses the SOURCE:MOUNT[:ro|rw] flag form. The mount
// path is the last colon-separated component starting with a slash, so
// sources containing colons (storage:, disk://) parse correctly.
func ParseVolumeMount(s string) (VolumeMount, error) {
	rest := s
	readOnly := false
	switch {
	case strings.HasSuffix(rest, ":ro"):
		readOnly = true
		rest = strings.TrimSuffix(rest, ":ro")
	case strings.HasSuffix(rest, ":rw"):
		rest = strings.TrimSuffix(rest, ":rw")
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 || !strings.HasPrefix(rest[i+1:], "/") || rest[:i] == "" {
		return VolumeMount{}, fmt.Errorf("invalid volume %q, expected SOURCE:MOUNT[:ro|rw]", s)
	}
	return VolumeMount{Source: rest[:i], MountPath: rest[i+1:], ReadOnly: readOnly}, nil
}

// ParseEnvVar parses the VAR=VAL flag form.
func ParseEnvVar(s string) (EnvVar, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return EnvVar{}, fmt.Errorf("invalid environment variable %q, expected VAR=VAL", s)
	}
	return EnvVar{Name: name, Value: value}, nil
}

// Request describes a job to submit. Immutable after submission.
type Request struct {
	Image           string
	Entrypoint      string
	Command         string
	Volumes         []VolumeMount
	Env             []EnvVar
	Preset          string
	Project         string
	Org             string
	Cluster         string
	LifeSpan        time.Duration
	ScheduleTimeout time.Duration
	Tags            []string
	// PassConfig forwards the caller's platform credentials into the
	// job, required for jobs that themselves talk to the platform.
	PassConfig bool
}

// Handle identifies a submitted job plus the context needed to poll it.
type Handle struct {
	ID      string
	Cluster string
}

// StatusReport is one poll response from the execution collaborator.
type StatusReport struct {
	State       State
	ExitCode    *int
	Reason      string
	Description string
}

// Outcome is the terminal result propagated back to the CLI layer.
// Produced exactly once per submitted job.
type Outcome struct {
	// JobID is set as soon as submission succeeded, even when the run
	// ends in failure or cancellation.
	JobID string
	State State
	// ExitCode is meaningful only when HasExitCode is set; a job killed
	// before its process started has no exit code.
	ExitCode    int
	HasExitCode bool
	LogTail     []string
}

// Err converts the outcome into the error the CLI surfaces, or nil for
// success.
func (o Outcome) Err() error {
	switch o.State {
	case StateSucceeded:
		return nil
	case StateCancelled:
		return ErrJobCancelled
	default:
		return &RemoteJobError{ExitCode: o.ExitCode, HasExitCode: o.HasExitCode}
	}
}

// API is the narrow job-execution collaborator contract. The core
// depends only on this; scheduling is the platform's business.
type API interface {
	// Submit starts a job. Rejections (quota, bad image, auth) surface
	// as errors and are never retried here.
	Submit(ctx context.Context, req Request) (Handle, error)
	// Status returns the job's current state.
	Status(ctx context.Context, h Handle) (StatusReport, error)
	// Logs returns output produced at or after cursor, plus the cursor
	// to resume from. Byte cursors keep delivery ordered and gapless.
	Logs(ctx context.Context, h Handle, cursor int64) ([]byte, int64, error)
	// Kill requests a Cancelled terminal state.
	Kill(ctx context.Context, h Handle) error
}

// Errors surfaced by the driver.
var (
	// ErrSubmissionRejected wraps a submit-time rejection.
	ErrSubmissionRejected = fmt.Errorf("job submission rejected")
	// ErrPollingExhausted means transient poll failures exceeded the
	// retry budget: the job may still be running, we lost track of it.
	ErrPollingExhausted = fmt.Errorf("status polling exhausted retries")
	// ErrJobCancelled is the terminal error for cancelled jobs.
	ErrJobCancelled = fmt.Errorf("job was cancelled")
)

// RemoteJobError reports that the remote job ran and failed.
type RemoteJobError struct {
	ExitCode    int
	HasExitCode bool
}

func (e *RemoteJobError) Error() string {
	if e.HasExitCode {
		return fmt.Sprintf("remote job failed with exit code %d", e.ExitCode)
	}
	return "remote job failed before its process produced an exit code"
}
