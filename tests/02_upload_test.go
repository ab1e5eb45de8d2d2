package tests

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/Sar-kit/tus2/internal/tus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadLifecycle(t *testing.T) {
	server, cleanup := setup()
	defer cleanup()

	formID := createForm(t, server, "T", "D")

	//

	location, status := createUpload(t, server, map[string]string{
		"formId":   formID,
		"fileName": "a.bin",
		"mimeType": "application/octet-stream",
	}, 10)
	require.Equal(t, http.StatusCreated, status)
	require.True(t, strings.HasPrefix(location, "/uploads/"), location)

	// The media record exists and is uploading before any byte is sent.
	forms := listForms(t, server)
	require.Len(t, forms, 1)
	require.Len(t, forms[0].Media, 1)
	media := forms[0].Media[0]
	assert.Equal(t, "a.bin", media.FileName)
	assert.Equal(t, "uploading", media.Status)
	assert.Nil(t, media.URL)

	//

	res := sendChunk(t, server, location, 0, []byte("hello"))
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "5", res.Header.Get(tus.HeaderUploadOffset))

	res = sendChunk(t, server, location, 5, []byte("world"))
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "10", res.Header.Get(tus.HeaderUploadOffset))

	//

	forms = listForms(t, server)
	media = forms[0].Media[0]
	assert.Equal(t, "complete", media.Status)
	require.NotNil(t, media.URL)
	assert.Contains(t, *media.URL, "/files/"+media.ID)
	require.NotNil(t, media.Size)
	assert.Equal(t, int64(10), *media.Size)

	// The durable object is served back.
	res2, err := http.Get(server.URL + "/files/" + media.ID)
	require.NoError(t, err)
	defer res2.Body.Close()
	require.Equal(t, http.StatusOK, res2.StatusCode)
	payload, err := io.ReadAll(res2.Body)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(payload))
}

func TestUploadZeroByte(t *testing.T) {
	server, cleanup := setup()
	defer cleanup()

	formID := createForm(t, server, "T", "D")

	// A declared empty upload completes at creation, no chunk follows.
	location, status := createUpload(t, server, map[string]string{
		"formId":   formID,
		"fileName": "empty.bin",
	}, 0)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, location)

	forms := listForms(t, server)
	require.Len(t, forms, 1)
	require.Len(t, forms[0].Media, 1)
	media := forms[0].Media[0]
	assert.Equal(t, "complete", media.Status)
	require.NotNil(t, media.URL)
	require.NotNil(t, media.Size)
	assert.Equal(t, int64(0), *media.Size)

	res, err := http.Get(server.URL + "/files/" + media.ID)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	payload, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestUploadOffsetReconciliation(t *testing.T) {
	server, cleanup := setup()
	defer cleanup()

	formID := createForm(t, server, "T", "D")
	location, status := createUpload(t, server, map[string]string{"formId": formID}, 10)
	require.Equal(t, http.StatusCreated, status)

	res := sendChunk(t, server, location, 0, []byte("hello"))
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	// A client restarting reconciles with HEAD before sending more bytes.
	req, err := http.NewRequest(http.MethodHead, server.URL+location, nil)
	require.NoError(t, err)
	req.Header.Set(tus.HeaderResumable, tus.Version)
	res2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res2.Body.Close()
	require.Equal(t, http.StatusOK, res2.StatusCode)
	assert.Equal(t, "5", res2.Header.Get(tus.HeaderUploadOffset))
	assert.Equal(t, "10", res2.Header.Get(tus.HeaderUploadLength))

	offset, err := strconv.ParseInt(res2.Header.Get(tus.HeaderUploadOffset), 10, 64)
	require.NoError(t, err)

	res = sendChunk(t, server, location, offset, []byte("world"))
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "10", res.Header.Get(tus.HeaderUploadOffset))
}

func TestUploadFinalizeIdempotence(t *testing.T) {
	server, cleanup := setup()
	defer cleanup()

	formID := createForm(t, server, "T", "D")
	location, _ := createUpload(t, server, map[string]string{"formId": formID}, 5)

	res := sendChunk(t, server, location, 0, []byte("hello"))
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	forms := listForms(t, server)
	first := forms[0].Media[0]
	require.Equal(t, "complete", first.Status)

	// A retried last chunk after an ambiguous response gets the
	// authoritative offset back instead of being re-applied.
	res = sendChunk(t, server, location, 0, []byte("hello"))
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "5", res.Header.Get(tus.HeaderUploadOffset))

	forms = listForms(t, server)
	second := forms[0].Media[0]
	assert.Equal(t, first.URL, second.URL)
	require.NotNil(t, second.Size)
	assert.Equal(t, int64(5), *second.Size)
}
