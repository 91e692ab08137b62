package library

import "errors"

var (
	// ErrNotFound indicates that a referenced entity id does not exist for
	// an operation that requires it.
	ErrNotFound = errors.New("library: entity not found")
	// ErrMissingBlob indicates that a required binary payload (the owning
	// video) is absent when thumbnail generation needs it.
	ErrMissingBlob = errors.New("library: video payload missing")
	// ErrInvalidTimeRange indicates that an end time does not come after its
	// start time.
	ErrInvalidTimeRange = errors.New("library: end time must be after start time")
)
