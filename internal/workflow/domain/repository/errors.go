package repository

import "errors"

var (
	// ErrNotFound is returned when a workflow or version is not found
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when two appends race for the same
	// version number; the store retries it internally before surfacing
	ErrVersionConflict = errors.New("version number conflict")

	// ErrDuplicateRemoteID is returned when an owner already protects the
	// same remote workflow
	ErrDuplicateRemoteID = errors.New("remote workflow is already protected")
)
