package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sar-kit/tus2/internal/tus"
	"github.com/pkg/errors"
)

// A Transport performs one protocol exchange at a time against the upload
// endpoint.
type Transport struct {
	endpoint *url.URL
	client   *http.Client
}

// NewTransport returns a new Transport for the given creation endpoint,
// e.g. http://localhost:5000/uploads.
func NewTransport(endpoint string, client *http.Client) (*Transport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse endpoint")
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &Transport{
		endpoint: u,
		client:   client,
	}, nil
}

// Create registers a new upload and returns its location.
func (t *Transport) Create(ctx context.Context, metadata map[string]string, size int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "could not craft create request")
	}
	req.Header.Set(tus.HeaderResumable, tus.Version)
	req.Header.Set(tus.HeaderUploadMeta, tus.EncodeMetadata(metadata))
	// Always declared, a zero-length upload completes at creation.
	req.Header.Set(tus.HeaderUploadLength, strconv.FormatInt(size, 10))

	res, err := t.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "create")
	}
	defer t.discard(res)

	if res.StatusCode != http.StatusCreated {
		return "", t.requestError(res)
	}

	location, err := t.endpoint.Parse(res.Header.Get("Location"))
	if err != nil {
		return "", errors.Wrap(err, "could not parse upload location")
	}
	return location.String(), nil
}

// Offset queries the acknowledged offset of the upload, the authoritative
// value for how many bytes the server actually has.
func (t *Transport) Offset(ctx context.Context, location string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, location, nil)
	if err != nil {
		return 0, errors.Wrap(err, "could not craft status request")
	}
	req.Header.Set(tus.HeaderResumable, tus.Version)

	res, err := t.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "status")
	}
	defer t.discard(res)

	if res.StatusCode != http.StatusOK {
		return 0, t.requestError(res)
	}

	offset, err := strconv.ParseInt(res.Header.Get(tus.HeaderUploadOffset), 10, 64)
	return offset, errors.Wrap(err, "could not parse acknowledged offset")
}

// WriteChunk sends one chunk at the given offset and returns the new
// acknowledged offset.
func (t *Transport) WriteChunk(ctx context.Context, location string, offset int64, chunk []byte) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, location, bytes.NewReader(chunk))
	if err != nil {
		return 0, errors.Wrap(err, "could not craft chunk request")
	}
	req.Header.Set(tus.HeaderResumable, tus.Version)
	req.Header.Set(tus.HeaderContentType, tus.ContentTypeOffset)
	req.Header.Set(tus.HeaderUploadOffset, strconv.FormatInt(offset, 10))

	res, err := t.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "chunk")
	}
	defer t.discard(res)

	if res.StatusCode != http.StatusNoContent {
		return 0, t.requestError(res)
	}

	acked, err := strconv.ParseInt(res.Header.Get(tus.HeaderUploadOffset), 10, 64)
	return acked, errors.Wrap(err, "could not parse acknowledged offset")
}

// requestError classifies a rejection from its status code.
func (t *Transport) requestError(res *http.Response) error {
	rerr := &RequestError{
		StatusCode: res.StatusCode,
		Message:    res.Status,
	}

	switch {
	case res.StatusCode == http.StatusConflict:
		rerr.Class = ClassOffsetMismatch
		rerr.Offset, _ = strconv.ParseInt(res.Header.Get(tus.HeaderUploadOffset), 10, 64)
	case res.StatusCode == http.StatusNotFound, res.StatusCode == http.StatusGone:
		rerr.Class = ClassGone
	case res.StatusCode >= 400 && res.StatusCode < 500:
		rerr.Class = ClassValidation
	default:
		rerr.Class = ClassTransient
	}

	if payload, err := io.ReadAll(io.LimitReader(res.Body, 512)); err == nil && len(payload) > 0 {
		rerr.Message = string(payload)
	}
	return rerr
}

func (t *Transport) discard(res *http.Response) {
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
}
