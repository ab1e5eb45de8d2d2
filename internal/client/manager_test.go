package client_test

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sar-kit/tus2/internal/client"
	"github.com/Sar-kit/tus2/internal/tus"
	"github.com/mdouchement/logger"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is an in-memory upload endpoint recording every chunk request,
// with failure injection.
type fakeServer struct {
	mu       sync.Mutex
	uploads  map[string][]byte
	attempts []int64 // Upload-Offset of every received PATCH, applied or not
	creates  int

	rejectCreates bool
	failPatches   int // number of 502 to inject
	patchDelay    time.Duration
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		uploads: map[string][]byte{},
	}
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost:
		s.create(w, r)
	case r.Method == http.MethodHead:
		s.offset(w, r)
	case r.Method == http.MethodPatch:
		s.write(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *fakeServer) create(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectCreates {
		http.Error(w, "invalid formId", http.StatusBadRequest)
		return
	}

	s.creates++
	id := fmt.Sprintf("upload-%d", s.creates)
	s.uploads[id] = []byte{}

	w.Header().Set("Location", "/uploads/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (s *fakeServer) offset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.uploads[s.id(r)]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set(tus.HeaderUploadOffset, strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
}

func (s *fakeServer) write(w http.ResponseWriter, r *http.Request) {
	payload, _ := io.ReadAll(r.Body)
	time.Sleep(s.patchDelay)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.uploads[s.id(r)]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	offset, _ := strconv.ParseInt(r.Header.Get(tus.HeaderUploadOffset), 10, 64)
	s.attempts = append(s.attempts, offset)

	if s.failPatches > 0 {
		s.failPatches--
		http.Error(w, "upstream hiccup", http.StatusBadGateway)
		return
	}

	if offset != int64(len(data)) {
		w.Header().Set(tus.HeaderUploadOffset, strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusConflict)
		return
	}

	s.uploads[s.id(r)] = append(data, payload...)

	w.Header().Set(tus.HeaderUploadOffset, strconv.Itoa(len(data)+len(payload)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *fakeServer) id(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, "/uploads/")
}

func (s *fakeServer) bytes(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte{}, s.uploads[id]...)
}

func (s *fakeServer) attemptedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64{}, s.attempts...)
}

//
// Helpers
//

type outcome struct {
	progress []int64
	complete chan string
	failure  chan error
	mu       sync.Mutex
}

func newOutcome() *outcome {
	return &outcome{
		complete: make(chan string, 1),
		failure:  make(chan error, 1),
	}
}

func (o *outcome) callbacks() client.Callbacks {
	return client.Callbacks{
		OnProgress: func(uploaded, total int64) {
			o.mu.Lock()
			o.progress = append(o.progress, uploaded)
			o.mu.Unlock()
		},
		OnComplete: func(url string) { o.complete <- url },
		OnError:    func(err error) { o.failure <- err },
	}
}

func (o *outcome) offsets() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64{}, o.progress...)
}

func setup(t *testing.T, server *fakeServer, policy client.RetryPolicy, chunksize int64) (*client.Manager, client.ResumeStore) {
	t.Helper()

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	transport, err := client.NewTransport(ts.URL+"/uploads", ts.Client())
	require.NoError(t, err)

	store, err := client.NewStormResumeStore(filepath.Join(t.TempDir(), "resume.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return client.NewManager(client.Controller{
		Logger:    logger.WrapLogrus(log),
		Transport: transport,
		Store:     store,
		Policy:    policy,
		ChunkSize: chunksize,
	}), store
}

func source(payload []byte) client.Source {
	return client.Source{
		ID:       "/tmp/source.bin",
		Name:     "source.bin",
		MimeType: "application/octet-stream",
		Size:     int64(len(payload)),
		ReaderAt: bytes.NewReader(payload),
	}
}

func fastPolicy() client.RetryPolicy {
	return client.RetryPolicy{MaxAttempts: 3, Initial: time.Millisecond, Factor: 2, Max: 10 * time.Millisecond}
}

func wait(t *testing.T, job *client.Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
	}
}

//
// Tests
//

func TestManagerUpload(t *testing.T) {
	server := newFakeServer()
	manager, store := setup(t, server, fastPolicy(), 16)

	payload := bytes.Repeat([]byte("0123456789"), 10)
	o := newOutcome()

	job := manager.Start(source(payload), "form-1", o.callbacks())
	wait(t, job)

	select {
	case url := <-o.complete:
		assert.Contains(t, url, "/uploads/upload-1")
	default:
		t.Fatal("OnComplete not invoked")
	}

	assert.Equal(t, payload, server.bytes("upload-1"))

	// Progress is monotonically non-decreasing and ends at the total size.
	offsets := o.offsets()
	require.NotEmpty(t, offsets)
	for i := 1; i < len(offsets); i++ {
		assert.GreaterOrEqual(t, offsets[i], offsets[i-1])
	}
	assert.Equal(t, int64(len(payload)), offsets[len(offsets)-1])

	// The resume entry is pruned after completion.
	_, found, err := store.Get(job.Fingerprint())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManagerDuplicateStart(t *testing.T) {
	server := newFakeServer()
	server.patchDelay = 20 * time.Millisecond
	manager, _ := setup(t, server, fastPolicy(), 8)

	payload := bytes.Repeat([]byte("abcdefgh"), 32)
	o := newOutcome()

	job1 := manager.Start(source(payload), "form-1", o.callbacks())
	job2 := manager.Start(source(payload), "form-1", o.callbacks())
	assert.Same(t, job1, job2)

	wait(t, job1)
	<-o.complete

	// A single remote upload, no duplicate chunk traffic.
	assert.Equal(t, 1, server.creates)
	assert.Equal(t, payload, server.bytes("upload-1"))
}

func TestManagerPauseResume(t *testing.T) {
	server := newFakeServer()
	server.patchDelay = 10 * time.Millisecond
	manager, store := setup(t, server, fastPolicy(), 8)

	payload := bytes.Repeat([]byte("01234567"), 16)
	o := newOutcome()

	job := manager.Start(source(payload), "form-1", o.callbacks())

	// Let some chunks through, then pause.
	require.Eventually(t, func() bool {
		return len(o.offsets()) >= 2
	}, 5*time.Second, time.Millisecond)
	job.Pause()
	wait(t, job)

	// Neither completion nor error is reported for a pause.
	select {
	case <-o.complete:
		t.Fatal("OnComplete invoked on pause")
	case err := <-o.failure:
		t.Fatalf("OnError invoked on pause: %s", err)
	default:
	}

	paused := int64(len(server.bytes("upload-1")))
	require.Less(t, paused, int64(len(payload)))

	// The resume state survived the pause.
	_, found, err := store.Get(job.Fingerprint())
	require.NoError(t, err)
	assert.True(t, found)

	//

	before := len(server.attemptedOffsets())
	o2 := newOutcome()
	job = manager.Resume(source(payload), "form-1", o2.callbacks())
	wait(t, job)
	<-o2.complete

	assert.Equal(t, payload, server.bytes("upload-1"))
	assert.Equal(t, 1, server.creates)

	// Already acknowledged bytes are not retransmitted.
	for _, offset := range server.attemptedOffsets()[before:] {
		assert.GreaterOrEqual(t, offset, paused)
	}
}

func TestManagerResumeAfterRestart(t *testing.T) {
	server := newFakeServer()
	server.patchDelay = 10 * time.Millisecond

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	transport, err := client.NewTransport(ts.URL+"/uploads", ts.Client())
	require.NoError(t, err)

	dbname := filepath.Join(t.TempDir(), "resume.db")
	payload := bytes.Repeat([]byte("restart!"), 16)

	// First process: upload a few chunks then get killed (pause stands in
	// for the crash).
	store, err := client.NewStormResumeStore(dbname)
	require.NoError(t, err)

	manager := client.NewManager(client.Controller{
		Logger:    logger.WrapLogrus(log),
		Transport: transport,
		Store:     store,
		Policy:    fastPolicy(),
		ChunkSize: 8,
	})

	o := newOutcome()
	job := manager.Start(source(payload), "form-1", o.callbacks())
	require.Eventually(t, func() bool {
		return len(o.offsets()) >= 2
	}, 5*time.Second, time.Millisecond)
	job.Pause()
	wait(t, job)
	require.NoError(t, store.Close())

	acked := int64(len(server.bytes("upload-1")))

	// Second process: same store file, fresh manager.
	store, err = client.NewStormResumeStore(dbname)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager = client.NewManager(client.Controller{
		Logger:    logger.WrapLogrus(log),
		Transport: transport,
		Store:     store,
		Policy:    fastPolicy(),
		ChunkSize: 8,
	})

	before := len(server.attemptedOffsets())
	o2 := newOutcome()
	job = manager.Start(source(payload), "form-1", o2.callbacks())
	wait(t, job)
	<-o2.complete

	assert.Equal(t, 1, server.creates)
	assert.Equal(t, payload, server.bytes("upload-1"))
	for _, offset := range server.attemptedOffsets()[before:] {
		assert.GreaterOrEqual(t, offset, acked)
	}
}

func TestManagerTransientRetry(t *testing.T) {
	server := newFakeServer()
	server.failPatches = 2
	manager, _ := setup(t, server, fastPolicy(), 0)

	payload := []byte("transient but fine")
	o := newOutcome()

	job := manager.Start(source(payload), "form-1", o.callbacks())
	wait(t, job)

	select {
	case <-o.complete:
	case err := <-o.failure:
		t.Fatalf("unexpected failure: %s", err)
	}
	assert.Equal(t, payload, server.bytes("upload-1"))
}

func TestManagerRetriesExhausted(t *testing.T) {
	server := newFakeServer()
	server.failPatches = 100
	manager, store := setup(t, server, fastPolicy(), 0)

	o := newOutcome()
	job := manager.Start(source([]byte("never makes it")), "form-1", o.callbacks())
	wait(t, job)

	select {
	case err := <-o.failure:
		assert.Equal(t, client.ClassTransient, client.ClassOf(err))
	default:
		t.Fatal("OnError not invoked")
	}

	// Resume state stays intact so a later Start retries from the last
	// good offset.
	_, found, err := store.Get(job.Fingerprint())
	require.NoError(t, err)
	assert.True(t, found)
}

func TestManagerCreateRejected(t *testing.T) {
	server := newFakeServer()
	server.rejectCreates = true
	manager, store := setup(t, server, fastPolicy(), 0)

	o := newOutcome()
	job := manager.Start(source([]byte("rejected")), "unknown-form", o.callbacks())
	wait(t, job)

	select {
	case err := <-o.failure:
		assert.Equal(t, client.ClassValidation, client.ClassOf(err))
	default:
		t.Fatal("OnError not invoked")
	}

	_, found, err := store.Get(job.Fingerprint())
	require.NoError(t, err)
	assert.False(t, found)
}
