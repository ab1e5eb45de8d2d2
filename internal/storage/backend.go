package storage

import "io"

// Backend is the interface that wraps the operations needed to store an
// upload received by parts.
type Backend interface {
	// Name returns the name of the backend implementation.
	Name() string

	// PutPart stores the given part of the upload and returns its size.
	// Parts are numbered from 0 and must be contiguous.
	PutPart(upload string, part int, r io.Reader) (int64, error)
	// CompleteUpload concatenates all the parts into the final object and
	// removes them. It returns the size of the object.
	CompleteUpload(upload string) (int64, error)
	// AbortUpload removes all the parts of the upload.
	AbortUpload(upload string) error

	// Reader returns a ReadCloser of a completed upload.
	Reader(upload string) (io.ReadCloser, error)
	// Remove deletes a completed upload.
	Remove(upload string) error

	// Cleanup cleans useless artifacts in storage.
	Cleanup() error
}
