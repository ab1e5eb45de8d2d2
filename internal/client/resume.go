package client

import (
	"github.com/asdine/storm/v3"
	"github.com/pkg/errors"
)

// A ResumeStore persists the remote location of the uploads, keyed by
// fingerprint, so a killed process can resume without re-sending bytes.
//
// Only one job per fingerprint is ever active so concurrent writes to the
// same key do not happen; last-write-wins is acceptable anyway.
type ResumeStore interface {
	Put(fingerprint, location string) error
	Get(fingerprint string) (location string, found bool, err error)
	Delete(fingerprint string) error
	Close() error
}

const resumeBucket = "resume"

type stormResumeStore struct {
	db *storm.DB
}

// NewStormResumeStore returns a ResumeStore backed by a Storm database file.
func NewStormResumeStore(path string) (ResumeStore, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open resume store")
	}

	return &stormResumeStore{
		db: db,
	}, nil
}

func (s *stormResumeStore) Put(fingerprint, location string) error {
	err := s.db.Set(resumeBucket, fingerprint, location)
	return errors.Wrap(err, "could not save resume entry")
}

func (s *stormResumeStore) Get(fingerprint string) (string, bool, error) {
	var location string
	err := s.db.Get(resumeBucket, fingerprint, &location)
	if err == storm.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "could not read resume entry")
	}
	return location, true, nil
}

func (s *stormResumeStore) Delete(fingerprint string) error {
	err := s.db.Delete(resumeBucket, fingerprint)
	if err == storm.ErrNotFound {
		return nil
	}
	return errors.Wrap(err, "could not delete resume entry")
}

func (s *stormResumeStore) Close() error {
	return s.db.Close()
}
