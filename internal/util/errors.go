package util

import "errors"

// Sentinel errors for common failure modes. Packages wrap these with
// fmt.Errorf("...: %w", err) so callers can match with errors.Is.
var (
	// ErrInvalidIdentifier indicates an empty or non text-safe media id
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrStorageIO indicates a filesystem failure (permissions, disk full, ...)
	ErrStorageIO = errors.New("storage i/o error")

	// ErrArtifactNotFound indicates an artifact file does not exist for an id
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrIDCollision indicates two distinct ids hash to the same shard path.
	// It is fatal and requires operator intervention.
	ErrIDCollision = errors.New("id collision")

	// ErrDuplicateID indicates an id is already present (or actively ingesting)
	ErrDuplicateID = errors.New("duplicate id")

	// ErrNotFound indicates a required record was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a state change the ingest state machine forbids
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrIncompleteIngest indicates completion was requested before the
	// mandatory artifacts were written
	ErrIncompleteIngest = errors.New("incomplete ingest")

	// ErrUnsupported indicates a file format or operation is not supported
	ErrUnsupported = errors.New("unsupported")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
