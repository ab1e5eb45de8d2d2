// Package client drives chunked, pausable and resumable uploads against the
// server's upload protocol. One Manager owns the set of active jobs and the
// persisted resume state.
package client

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/Sar-kit/tus2/internal/tus"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
)

// DefaultChunkSize keeps individual requests small enough to survive flaky
// connections.
const DefaultChunkSize = 512 * 1024

type (
	// A Source describes the bytes to transfer.
	Source struct {
		// ID is the stable identity of the bytes, e.g. an absolute file path.
		// It must not depend on process-local transient data.
		ID       string
		Name     string
		MimeType string
		Size     int64
		ReaderAt io.ReaderAt
	}

	// Callbacks receive the outcome of a job. OnComplete is invoked exactly
	// once per successful job, OnError at most once and only if OnComplete
	// was not. A paused job invokes neither.
	Callbacks struct {
		OnProgress func(uploaded, total int64)
		OnComplete func(url string)
		OnError    func(err error)
	}

	// A Controller is an Iversion Of Control pattern used to init the client package.
	Controller struct {
		Logger    logger.Logger
		Transport *Transport
		Store     ResumeStore
		Policy    RetryPolicy
		ChunkSize int64
	}

	// A Manager orchestrates the upload jobs, at most one per fingerprint.
	Manager struct {
		logger    logger.Logger
		transport *Transport
		store     ResumeStore
		policy    RetryPolicy
		chunksize int64

		mu     sync.Mutex
		active map[string]*Job
	}

	// A Job is the handle of one active upload attempt.
	Job struct {
		manager     *Manager
		fingerprint string

		pause     chan struct{}
		pauseOnce sync.Once
		done      chan struct{}
		finish    sync.Once
	}
)

// NewManager returns a new Manager.
func NewManager(ctrl Controller) *Manager {
	if ctrl.Policy.MaxAttempts == 0 {
		ctrl.Policy = DefaultRetryPolicy()
	}
	if ctrl.ChunkSize == 0 {
		ctrl.ChunkSize = DefaultChunkSize
	}

	return &Manager{
		logger:    ctrl.Logger,
		transport: ctrl.Transport,
		store:     ctrl.Store,
		policy:    ctrl.Policy,
		chunksize: ctrl.ChunkSize,
		active:    map[string]*Job{},
	}
}

// Start begins or resumes the transfer of the given source. If a job with
// the same fingerprint is already active, its handle is returned and no new
// transfer starts.
func (m *Manager) Start(source Source, formID string, cb Callbacks) *Job {
	fingerprint := tus.Fingerprint(source.ID, formID)

	m.mu.Lock()
	if job, ok := m.active[fingerprint]; ok {
		m.mu.Unlock()
		return job
	}

	job := &Job{
		manager:     m,
		fingerprint: fingerprint,
		pause:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	m.active[fingerprint] = job
	m.mu.Unlock()

	go m.run(job, source, formID, cb)
	return job
}

// Resume is Start: a resumed job re-enters the chunk loop and recovers its
// offset from the server, not from in-memory state.
func (m *Manager) Resume(source Source, formID string, cb Callbacks) *Job {
	return m.Start(source, formID, cb)
}

// Fingerprint returns the job's fingerprint.
func (j *Job) Fingerprint() string {
	return j.fingerprint
}

// Pause asks the job to stop before its next chunk send. The resume state
// stays valid for a future Start. Safe to call concurrently with an
// in-flight send.
func (j *Job) Pause() {
	j.pauseOnce.Do(func() {
		close(j.pause)
	})
	j.manager.remove(j)
}

// Done is closed once the job left the active table, whatever the outcome.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) paused() bool {
	select {
	case <-j.pause:
		return true
	default:
		return false
	}
}

//
// Chunk loop
//

func (m *Manager) run(job *Job, source Source, formID string, cb Callbacks) {
	defer close(job.done)
	defer m.remove(job)

	ctx := context.Background()
	log := m.logger.WithPrefix("[upload " + job.fingerprint[:8] + "]")

	location, offset, err := m.prepare(ctx, job, source, formID, log)
	if job.paused() {
		log.Info("Paused")
		return
	}
	if err != nil {
		m.fail(job, cb, err, log)
		return
	}

	//

	var attempt int
	for offset < source.Size {
		if job.paused() {
			log.Infof("Paused at offset %d", offset)
			return
		}

		chunk := make([]byte, min64(m.chunksize, source.Size-offset))
		if n, err := source.ReaderAt.ReadAt(chunk, offset); err != nil && !(err == io.EOF && n == len(chunk)) {
			m.fail(job, cb, errors.Wrap(err, "could not read source"), log)
			return
		}

		acked, err := m.transport.WriteChunk(ctx, location, offset, chunk)

		switch {
		case err == nil && acked > offset:
			offset = acked
			attempt = 0
			if cb.OnProgress != nil {
				cb.OnProgress(offset, source.Size)
			}
			continue

		case err == nil:
			// Acknowledged offset did not advance, same as a transient failure.
			err = errors.Errorf("offset did not advance from %d", offset)

		case ClassOf(err) == ClassOffsetMismatch:
			// The server is authoritative; realign and burn one attempt so a
			// flapping server still exhausts the budget.
			var rerr *RequestError
			if errors.As(err, &rerr) && rerr.Offset > offset {
				offset = rerr.Offset
				if cb.OnProgress != nil {
					cb.OnProgress(offset, source.Size)
				}
			}
			log.Infof("Offset mismatch, realigned to %d", offset)

		case ClassOf(err) == ClassGone:
			// The remote upload vanished, the resume entry is poison.
			if err := m.store.Delete(job.fingerprint); err != nil {
				log.Error(err)
			}
			m.fail(job, cb, err, log)
			return

		case ClassOf(err) == ClassValidation:
			m.fail(job, cb, err, log)
			return
		}

		attempt++
		if attempt >= m.policy.MaxAttempts {
			// Resume state is left intact so a later Start retries from the
			// last good offset.
			m.fail(job, cb, errors.Wrapf(err, "gave up after %d attempts", attempt), log)
			return
		}
		if !m.backoff(job, attempt) {
			log.Infof("Paused at offset %d", offset)
			return
		}
	}

	//

	if err := m.store.Delete(job.fingerprint); err != nil {
		log.Error(err)
	}

	log.Infof("Completed (%d bytes)", source.Size)
	job.finish.Do(func() {
		if cb.OnComplete != nil {
			cb.OnComplete(location)
		}
	})
}

// prepare resolves the remote location of the job: resume from the persisted
// entry when the server still knows the upload, create otherwise.
func (m *Manager) prepare(ctx context.Context, job *Job, source Source, formID string, log logger.Logger) (string, int64, error) {
	location, found, err := m.store.Get(job.fingerprint)
	if err != nil {
		log.Error(err)
		found = false
	}

	if found {
		offset, err := m.withRetry(job, func() (int64, error) {
			return m.transport.Offset(ctx, location)
		})
		switch {
		case err == nil:
			log.Infof("Resuming at offset %d", offset)
			return location, offset, nil
		case ClassOf(err) == ClassGone:
			// Stale entry, fall through to a fresh create.
			if err := m.store.Delete(job.fingerprint); err != nil {
				log.Error(err)
			}
		default:
			return "", 0, err
		}
	}

	//

	metadata := map[string]string{
		tus.MetaFormID:   formID,
		tus.MetaFileName: source.Name,
		tus.MetaMimeType: source.MimeType,
	}

	location, err = m.withRetryString(job, func() (string, error) {
		return m.transport.Create(ctx, metadata, source.Size)
	})
	if err != nil {
		return "", 0, err
	}

	// Persisted immediately: a crash after this point must not orphan the
	// remote upload.
	if err := m.store.Put(job.fingerprint, location); err != nil {
		return "", 0, err
	}

	log.Infof("Created %s", location)
	return location, 0, nil
}

func (m *Manager) fail(job *Job, cb Callbacks, err error, log logger.Logger) {
	log.Error(err)
	job.finish.Do(func() {
		if cb.OnError != nil {
			cb.OnError(err)
		}
	})
}

// backoff waits for the given retry. It returns false when the job got
// paused meanwhile.
func (m *Manager) backoff(job *Job, attempt int) bool {
	select {
	case <-job.pause:
		return false
	case <-time.After(m.policy.Wait(attempt)):
		return true
	}
}

func (m *Manager) withRetry(job *Job, fn func() (int64, error)) (int64, error) {
	var n int64
	var err error
	for attempt := 1; ; attempt++ {
		n, err = fn()
		if err == nil || ClassOf(err) != ClassTransient || attempt >= m.policy.MaxAttempts {
			return n, err
		}
		if !m.backoff(job, attempt) {
			return n, err
		}
	}
}

func (m *Manager) withRetryString(job *Job, fn func() (string, error)) (string, error) {
	var s string
	var err error
	for attempt := 1; ; attempt++ {
		s, err = fn()
		if err == nil || ClassOf(err) != ClassTransient || attempt >= m.policy.MaxAttempts {
			return s, err
		}
		if !m.backoff(job, attempt) {
			return s, err
		}
	}
}

func (m *Manager) remove(job *Job) {
	m.mu.Lock()
	if m.active[job.fingerprint] == job {
		delete(m.active, job.fingerprint)
	}
	m.mu.Unlock()
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
