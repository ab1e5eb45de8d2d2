// Package coordinator implements the server side of the resumable upload
// protocol. It validates upload creations against the form records, tracks
// acknowledged offsets and finalizes the storage object and media record
// once all the bytes are received.
package coordinator

import (
	"io"
	"strings"
	"sync"

	"github.com/Sar-kit/tus2/internal/database"
	"github.com/Sar-kit/tus2/internal/model"
	"github.com/Sar-kit/tus2/internal/storage"
	"github.com/Sar-kit/tus2/internal/tus"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
)

// A Coordinator drives the lifecycle of the uploads.
// Requests for the same upload are serialized, distinct uploads proceed in
// parallel.
type Coordinator struct {
	logger  logger.Logger
	db      database.Client
	storage storage.Backend
	baseurl string

	mu    sync.Mutex
	locks map[string]*uploadLock
}

// New returns a new Coordinator.
func New(l logger.Logger, db database.Client, backend storage.Backend, baseurl string) *Coordinator {
	return &Coordinator{
		logger:  l,
		db:      db,
		storage: backend,
		baseurl: strings.TrimSuffix(baseurl, "/"),
		locks:   map[string]*uploadLock{},
	}
}

// Create validates the given metadata and creates the media record of a new
// upload. It returns the upload identifier. declared is the total expected
// size, -1 when the client did not declare one.
func (c *Coordinator) Create(metadata map[string]string, declared int64) (*model.Media, error) {
	formid := metadata[tus.MetaFormID]
	if formid == "" {
		return nil, ErrFormRequired
	}

	_, err := c.db.FindForm(formid)
	if err != nil {
		if c.db.IsNotFound(err) {
			return nil, ErrUnknownForm
		}
		return nil, err
	}

	//

	media := &model.Media{
		FormID:       formid,
		FileName:     metadata[tus.MetaFileName],
		MimeType:     metadata[tus.MetaMimeType],
		Status:       model.MediaStatusUploading,
		DeclaredSize: declared,
	}
	if err := c.db.Save(media); err != nil {
		return nil, err
	}

	c.logger.Infof("upload %s created for form %s (%s)", media.ID, formid, media.FileName)
	return media, nil
}

// Write appends a chunk at the given offset and returns the media with its
// new acknowledged offset. The media record must exist and still be
// uploading, and the offset must match the one acknowledged by the server.
func (c *Coordinator) Write(id string, offset int64, r io.Reader) (*model.Media, error) {
	unlock := c.lock(id)
	defer unlock()

	media, err := c.find(id)
	if err != nil {
		return nil, err
	}

	if media.Status == model.MediaStatusFailed {
		return nil, ErrUploadGone
	}

	// Checked before the status so a retried chunk whose acknowledgement was
	// lost gets the authoritative offset back, even after completion.
	if offset != media.Offset {
		return nil, &OffsetError{Acknowledged: media.Offset, Got: offset}
	}

	if !media.Uploading() {
		return nil, ErrUploadGone
	}

	//

	body := &trackReader{r: r}
	n, err := c.storage.PutPart(id, media.PartCount, body)
	if err != nil {
		if body.err != nil {
			// The client vanished mid-chunk. The row stays uploading and the
			// acknowledged parts stay put; the retried chunk reuses the same
			// part index and overwrites the truncated one.
			return nil, errors.Wrap(err, "could not read chunk")
		}
		return nil, c.fail(media, errors.Wrap(err, "could not store chunk"))
	}

	media.Offset += n
	media.PartCount++
	if err := c.db.Save(media); err != nil {
		return nil, err
	}
	return media, nil
}

// Offset returns the acknowledged offset of the upload. The returned media
// also carries the declared size when known. A failed upload is reported
// gone so a resuming client learns the terminal state before sending bytes.
func (c *Coordinator) Offset(id string) (*model.Media, error) {
	unlock := c.lock(id)
	defer unlock()

	media, err := c.find(id)
	if err != nil {
		return nil, err
	}
	if media.Status == model.MediaStatusFailed {
		return nil, ErrUploadGone
	}
	return media, nil
}

// Finalize completes the upload: the parts are concatenated into the durable
// object and the media record gets its URL and size. Finalizing an already
// completed upload is a no-op returning the recorded media.
func (c *Coordinator) Finalize(id string) (*model.Media, error) {
	unlock := c.lock(id)
	defer unlock()

	media, err := c.find(id)
	if err != nil {
		return nil, err
	}

	switch media.Status {
	case model.MediaStatusComplete:
		// Retried finalize after an ambiguous response.
		return media, nil
	case model.MediaStatusFailed:
		return nil, ErrUploadGone
	}

	if media.DeclaredSize >= 0 && media.Offset != media.DeclaredSize {
		return nil, &OffsetError{Acknowledged: media.Offset, Got: media.DeclaredSize}
	}

	//

	size, err := c.storage.CompleteUpload(id)
	if err != nil {
		return nil, c.fail(media, errors.Wrap(err, "could not complete upload"))
	}

	media.Status = model.MediaStatusComplete
	media.Size = size
	media.URL = c.URL(id)
	if err := c.db.Save(media); err != nil {
		return nil, err
	}

	c.logger.Infof("upload %s finalized (%d bytes) -> %s", media.ID, media.Size, media.URL)
	return media, nil
}

// Fail marks the upload as failed and drops its parts.
func (c *Coordinator) Fail(id string) error {
	unlock := c.lock(id)
	defer unlock()

	media, err := c.find(id)
	if err != nil {
		return err
	}
	if !media.Uploading() {
		return nil
	}
	return c.fail(media, nil)
}

// FileReader streams the durable object of a completed upload.
func (c *Coordinator) FileReader(id string) (*model.Media, io.ReadCloser, error) {
	media, err := c.find(id)
	if err != nil {
		return nil, nil, err
	}
	if media.Status != model.MediaStatusComplete {
		return nil, nil, ErrUnknownUpload
	}

	rc, err := c.storage.Reader(id)
	return media, rc, err
}

// URL derives the durable URL of a completed upload.
func (c *Coordinator) URL(id string) string {
	return c.baseurl + "/files/" + id
}

func (c *Coordinator) fail(media *model.Media, cause error) error {
	media.Status = model.MediaStatusFailed
	if err := c.db.Save(media); err != nil {
		c.logger.Errorf("could not mark upload %s as failed: %s", media.ID, err)
	}

	if err := c.storage.AbortUpload(media.ID); err != nil {
		c.logger.Errorf("could not abort upload %s: %s", media.ID, err)
	}

	if cause == nil {
		c.logger.Infof("upload %s failed", media.ID)
		return nil
	}
	return cause
}

func (c *Coordinator) find(id string) (*model.Media, error) {
	media, err := c.db.FindMedia(id)
	if err != nil {
		if c.db.IsNotFound(err) {
			return nil, ErrUnknownUpload
		}
		return nil, err
	}
	return media, nil
}

// lock serializes the requests targeting the same upload. Entries are
// refcounted and dropped once the last holder releases them so the map does
// not accumulate one mutex per historical upload.
func (c *Coordinator) lock(id string) (unlock func()) {
	c.mu.Lock()
	e, ok := c.locks[id]
	if !ok {
		e = new(uploadLock)
		c.locks[id] = e
	}
	e.refs++
	c.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		c.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

type uploadLock struct {
	mu   sync.Mutex
	refs int
}

// trackReader records whether an error was raised by the wrapped reader,
// telling a client disconnect apart from a storage failure.
type trackReader struct {
	r   io.Reader
	err error
}

func (t *trackReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
