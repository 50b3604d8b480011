package bundler

import (
	"errors"
	"fmt"
)

// State is a step of the pipeline state machine.
type State int

const (
	// StateIdle is the state before anything has been resolved.
	StateIdle State = iota
	// StateResolved means the release configuration is known.
	StateResolved
	// StateDownloaded means the vendor bundle is on disk but not yet trusted.
	StateDownloaded
	// StateVerified means the bundle matched its pinned digest.
	StateVerified
	// StateAssembled means the build directory holds the binary and vendor tree.
	StateAssembled
	// StatePackaged means the release artifact was written.
	StatePackaged
	// StateFailed is terminal for every error.
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolved:
		return "resolved"
	case StateDownloaded:
		return "downloaded"
	case StateVerified:
		return "verified"
	case StateAssembled:
		return "assembled"
	case StatePackaged:
		return "packaged"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Kind classifies why a run failed.
type Kind int

const (
	// KindConfiguration covers unknown targets and invalid settings.
	KindConfiguration Kind = iota + 1
	// KindDirectory covers directories that cannot be created.
	KindDirectory
	// KindNetwork covers transport failures and non-200 responses.
	KindNetwork
	// KindIntegrity covers digest and signature mismatches.
	KindIntegrity
	// KindFilesystem covers file copy, write and extraction failures.
	KindFilesystem
	// KindPackaging covers failures while writing the release artifact.
	KindPackaging
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindDirectory:
		return "directory"
	case KindNetwork:
		return "network"
	case KindIntegrity:
		return "integrity"
	case KindFilesystem:
		return "filesystem"
	case KindPackaging:
		return "packaging"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// StageError is returned by Run for every failure.
type StageError struct {
	// State is the last state the run reached before failing.
	State State
	// Kind classifies the failure.
	Kind Kind
	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s error after %s: %v", e.Kind, e.State, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Kind, true
	}

	return 0, false
}
