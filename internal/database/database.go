package database

import (
	"time"

	"github.com/Sar-kit/tus2/internal/model"
)

type (
	// A Client can interacts with the database.
	Client interface {
		// Save inserts or updates the entry in database with the given model.
		Save(m model.Model) error
		// Delete deletes the entry in database with the given model.
		Delete(m model.Model) error
		// Close the database.
		Close() error
		// IsNotFound returns true if err is nil or a not found error.
		IsNotFound(err error) bool

		FormInteraction
		MediaInteraction
	}

	// A FormInteraction defines all the methods used to interact with a form record.
	FormInteraction interface {
		ListForms() ([]*model.Form, error)
		FindForm(id string) (*model.Form, error)
	}

	// A MediaInteraction defines all the methods used to interact with a media record.
	MediaInteraction interface {
		FindMedia(id string) (*model.Media, error)
		FindMediaByFormID(id string) ([]*model.Media, error)
		// StaleMedia returns the media still uploading whose last update is
		// older than the given time.
		StaleMedia(olderThan time.Time) ([]*model.Media, error)
	}
)
