package queuectl

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("queuectl: no store configured")
	ErrStoreUnavailable = errors.New("queuectl: store unavailable")
	ErrMigrationFailed  = errors.New("queuectl: migration failed")

	// Not found errors.
	ErrJobNotFound     = errors.New("queuectl: job not found")
	ErrDLQNotFound     = errors.New("queuectl: dlq entry not found")
	ErrProcessNotFound = errors.New("queuectl: process not found")

	// Conflict errors.
	ErrDuplicateJobID = errors.New("queuectl: job id already exists")
	ErrClaimLost      = errors.New("queuectl: job no longer claimed by this worker")

	// Validation errors.
	ErrInvalidJob     = errors.New("queuectl: invalid job")
	ErrInvalidSetting = errors.New("queuectl: invalid setting")
)
