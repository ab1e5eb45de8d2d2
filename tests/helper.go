package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/Sar-kit/tus2/internal/database"
	"github.com/Sar-kit/tus2/internal/storage"
	"github.com/Sar-kit/tus2/internal/tus"
	"github.com/Sar-kit/tus2/internal/webserver"
	"github.com/mdouchement/logger"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func setup() (*httptest.Server, func()) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetFormatter(&logger.LogrusTextFormatter{
		DisableColors:   false,
		ForceColors:     true,
		ForceFormatting: true,
		PrefixRE:        regexp.MustCompile(`^(\[.*?\])\s`),
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	//

	dbname, err := os.CreateTemp(os.TempDir(), "tus2.db.")
	if err != nil {
		panic(err)
	}

	db, err := database.StormOpen(dbname.Name())
	if err != nil {
		panic(err)
	}

	//

	workspace, err := os.MkdirTemp(os.TempDir(), "tus2.")
	if err != nil {
		panic(err)
	}

	//

	ctrl := webserver.Controller{
		Logger:   logger.WrapLogrus(log),
		Database: db,
		Storage:  storage.NewFileSystem(workspace),

		PublicURL: "http://localhost:5000",
	}
	engine := webserver.EchoEngine(ctrl)

	server := httptest.NewUnstartedServer(engine)
	server.Config.ReadTimeout = 20 * time.Second
	server.Config.WriteTimeout = 20 * time.Second
	server.Start()

	//

	return server, func() {
		server.Close()
		db.Close()
		dbname.Close()

		os.RemoveAll(dbname.Name())
		os.RemoveAll(workspace)
	}
}

//
// Request helpers
//

func createForm(t *testing.T, server *httptest.Server, title, description string) string {
	t.Helper()

	payload, err := json.Marshal(map[string]string{
		"title":       title,
		"description": description,
	})
	require.NoError(t, err)

	res, err := http.Post(server.URL+"/forms", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.NotEmpty(t, body.ID)
	return body.ID
}

func createUpload(t *testing.T, server *httptest.Server, metadata map[string]string, size int64) (location string, status int) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, server.URL+"/uploads", nil)
	require.NoError(t, err)
	req.Header.Set(tus.HeaderResumable, tus.Version)
	req.Header.Set(tus.HeaderUploadMeta, tus.EncodeMetadata(metadata))
	if size >= 0 {
		req.Header.Set(tus.HeaderUploadLength, strconv.FormatInt(size, 10))
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	return res.Header.Get("Location"), res.StatusCode
}

func sendChunk(t *testing.T, server *httptest.Server, location string, offset int64, chunk []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPatch, server.URL+location, bytes.NewReader(chunk))
	require.NoError(t, err)
	req.Header.Set(tus.HeaderResumable, tus.Version)
	req.Header.Set(tus.HeaderContentType, tus.ContentTypeOffset)
	req.Header.Set(tus.HeaderUploadOffset, strconv.FormatInt(offset, 10))

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	return res
}

type formpayload struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Media       []mediapayload `json:"media"`
}

type mediapayload struct {
	ID       string  `json:"id"`
	FileName string  `json:"fileName"`
	MimeType string  `json:"mimeType"`
	Status   string  `json:"status"`
	URL      *string `json:"url"`
	Size     *int64  `json:"size"`
}

func listForms(t *testing.T, server *httptest.Server) []formpayload {
	t.Helper()

	res, err := http.Get(server.URL + "/forms/all")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Forms []formpayload `json:"forms"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body.Forms
}
