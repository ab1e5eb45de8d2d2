package database

import (
	"time"

	"github.com/Sar-kit/tus2/internal/model"
	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/codec/json"
	"github.com/asdine/storm/v3/q"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

type strm struct {
	db *storm.DB
}

// StormCodec is the format used to store data in the database.
var StormCodec = storm.Codec(json.Codec)

// StormInit initializes Storm database.
func StormInit(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	if err := db.Init(&model.Form{}); err != nil {
		return errors.Wrap(err, "could not init form index")
	}

	err = db.Init(&model.Media{})
	return errors.Wrap(err, "could not init media index")
}

// StormReIndex rebuilds the indexes of the Storm database.
func StormReIndex(database string) error {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return errors.Wrap(err, "could not get database connection")
	}
	defer db.Close()

	if err := db.ReIndex(&model.Form{}); err != nil {
		return errors.Wrap(err, "could not ReIndex forms")
	}

	err = db.ReIndex(&model.Media{})
	return errors.Wrap(err, "could not ReIndex media")
}

// StormOpen opens the Storm database and returns a Client.
func StormOpen(database string) (Client, error) {
	db, err := storm.Open(database, StormCodec)
	if err != nil {
		return nil, errors.Wrap(err, "could not get database connection")
	}

	return &strm{
		db: db,
	}, nil
}

func (c *strm) Save(m model.Model) error {
	t := time.Now().UTC()
	m.SetUpdatedAt(t)

	if m.GetID() == "" {
		m.SetID(uuid.Must(uuid.NewV4()).String())
		m.SetCreatedAt(t)
	}

	return errors.Wrap(c.db.Save(m), "could not save the model")
}

func (c *strm) Delete(m model.Model) error {
	return errors.Wrap(c.db.DeleteStruct(m), "could not delete the model")
}

func (c *strm) Close() error {
	return c.db.Close()
}

func (c *strm) IsNotFound(err error) bool {
	return errors.Cause(err) == storm.ErrNotFound
}

//
// Form
//

func (c *strm) ListForms() ([]*model.Form, error) {
	forms := make([]*model.Form, 0)
	err := c.db.AllByIndex("CreatedAt", &forms)
	return forms, errors.Wrap(err, "could not get all forms")
}

func (c *strm) FindForm(id string) (*model.Form, error) {
	var form model.Form
	err := c.db.One("ID", id, &form)
	return &form, errors.Wrap(err, "could not find form")
}

//
// Media
//

func (c *strm) FindMedia(id string) (*model.Media, error) {
	var media model.Media
	err := c.db.One("ID", id, &media)
	return &media, errors.Wrap(err, "could not find media")
}

func (c *strm) FindMediaByFormID(id string) ([]*model.Media, error) {
	media := make([]*model.Media, 0)
	err := c.db.Select(q.Eq("FormID", id)).OrderBy("CreatedAt").Find(&media)
	if c.IsNotFound(err) {
		return media, nil
	}
	return media, errors.Wrap(err, "could not get media by form_id")
}

func (c *strm) StaleMedia(olderThan time.Time) ([]*model.Media, error) {
	uploading := make([]*model.Media, 0)
	err := c.db.Select(q.Eq("Status", model.MediaStatusUploading)).Find(&uploading)
	if c.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not get uploading media")
	}

	media := make([]*model.Media, 0, len(uploading))
	for _, m := range uploading {
		if m.UpdatedAt.Before(olderThan) {
			media = append(media, m)
		}
	}
	return media, nil
}
