package client

import (
	"fmt"

	"github.com/pkg/errors"
)

// Class is the retry classification of a failed exchange.
type Class int

const (
	// ClassTransient failures are retried with backoff.
	ClassTransient Class = iota
	// ClassValidation rejections are fatal and never retried.
	ClassValidation
	// ClassOffsetMismatch means the local offset disagrees with the server.
	// The client must re-query the authoritative offset before retrying.
	ClassOffsetMismatch
	// ClassGone means the remote upload no longer exists.
	ClassGone
)

// A RequestError is a classified rejection from the server.
type RequestError struct {
	Class      Class
	StatusCode int
	// Offset carries the authoritative offset on ClassOffsetMismatch.
	Offset  int64
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("[%d] %s", e.StatusCode, e.Message)
}

// ClassOf returns the classification of the given error.
// Errors without a protocol classification, like timeouts and connection
// resets, are considered transient.
func ClassOf(err error) Class {
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr.Class
	}
	return ClassTransient
}
