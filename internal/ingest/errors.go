package ingest

import (
	"errors"
	"fmt"
)

// Stage names the step of an ingest that failed
type Stage string

const (
	StageAdmission     Stage = "admission"
	StageTransition    Stage = "transition"
	StageArtifactWrite Stage = "artifact-write"
	StageCompletion    Stage = "completion"
	StageFailure       Stage = "failure"
	StageRemoval       Stage = "removal"
)

// Error reports the id and stage of a failed coordinator operation. It
// unwraps to the underlying sentinel, so errors.Is(err, util.ErrDuplicateID)
// works on it.
type Error struct {
	ID    string
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s of %q failed: %v", e.Stage, e.ID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(id string, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return err
	}
	return &Error{ID: id, Stage: stage, Err: err}
}

// StageOf returns the stage recorded in err, or "" when err did not come
// from the coordinator
func StageOf(err error) Stage {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Stage
	}
	return ""
}
