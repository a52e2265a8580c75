package storage

import "errors"

var (
	// ErrUploadFailed means an object could not be written.
	ErrUploadFailed = errors.New("upload failed")

	// ErrSigningFailed means a signed URL could not be issued.
	ErrSigningFailed = errors.New("signing failed")

	// ErrObjectExists is returned when a write would replace an existing
	// object. Uploaded assets are immutable.
	ErrObjectExists = errors.New("object already exists")
)
