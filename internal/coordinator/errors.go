package coordinator

import (
	"fmt"

	"github.com/pkg/errors"
)

// Client-classified rejections. No media record is created or mutated when
// one of them is returned.
var (
	// ErrFormRequired is returned when the creation metadata has no form reference.
	ErrFormRequired = errors.New("formId required")
	// ErrUnknownForm is returned when the form reference matches no record.
	ErrUnknownForm = errors.New("invalid formId")
	// ErrUnknownUpload is returned for requests targeting an unknown upload identifier.
	ErrUnknownUpload = errors.New("unknown upload")
	// ErrUploadGone is returned for requests targeting a failed upload.
	ErrUploadGone = errors.New("upload is gone")
)

// An OffsetError is returned when a chunk does not start at the acknowledged
// offset. The client must re-query the authoritative offset before retrying.
type OffsetError struct {
	Acknowledged int64
	Got          int64
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("offset mismatch: got %d, acknowledged %d", e.Got, e.Acknowledged)
}
