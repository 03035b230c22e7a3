package assistant

import (
	"errors"
	"fmt"
)

// Stage identifies where a profile store failure happened in a turn.
type Stage string

const (
	// StageResolve is the lookup/creation of the sender's profile.
	StageResolve Stage = "resolve"

	// StageSave is the write-back after the session changed.
	StageSave Stage = "save"
)

// PersistenceError reports a profile store failure.
type PersistenceError struct {
	// Op is the operation that failed (e.g. "message", "addinterest").
	Op    string
	Stage Stage
	Err   error

	// ReplyWithheld is set when the fail-closed policy suppressed the reply.
	ReplyWithheld bool
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: profile %s failed: %v", e.Op, e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CompletionError reports a failed call to the completion service.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// UnauthorizedError is the policy rejection of a command from an identity
// that is not allow-listed. It always comes with a user-visible reply.
type UnauthorizedError struct {
	Sender int64
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("sender %d is not allowed to run commands", e.Sender)
}

// IsFatal reports whether err aborted the turn without a reply. Save-stage
// persistence failures under fail-open and unauthorized rejections are not
// fatal: the reply is still delivered.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var unauth *UnauthorizedError
	if errors.As(err, &unauth) {
		return false
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Stage == StageResolve || pe.ReplyWithheld
	}
	return true
}
