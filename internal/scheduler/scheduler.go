package scheduler

import (
	"time"

	"github.com/Sar-kit/tus2/internal/database"
	"github.com/Sar-kit/tus2/internal/model"
	"github.com/Sar-kit/tus2/internal/storage"
	"github.com/mdouchement/logger"
	"github.com/robfig/cron/v3"
)

// A Controller is an Iversion Of Control pattern used to init the scheduler package.
type Controller struct {
	Logger        logger.Logger
	Database      database.Client
	Storage       storage.Backend
	Specification string
	// MaxAge is the duration after which an upload without progress is
	// considered abandoned.
	MaxAge time.Duration
}

// Start lauches the scheduler asynchronously.
func Start(c Controller) {
	cron := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	log := c.Logger.WithPrefix("[scheduler]")

	_, err := cron.AddFunc(c.Specification, func() {
		log := c.Logger.WithPrefix("[reaper]")

		media, err := c.Database.StaleMedia(time.Now().Add(-c.MaxAge))
		if err != nil {
			log.Error(err)
			return
		}

		for _, m := range media {
			m.Status = model.MediaStatusFailed
			if err := c.Database.Save(m); err != nil {
				log.Error(err)
				return
			}

			if err := c.Storage.AbortUpload(m.ID); err != nil {
				log.Error(err)
				return
			}

			log.Infof("Abandoned upload %s failed after %s without progress", m.ID, c.MaxAge)
		}

		err = c.Storage.Cleanup()
		if err != nil {
			log.Error(err)
			return
		}
	})
	if err != nil {
		panic(err)
	}
	log.Info("Abandoned upload task registred")

	cron.Start()
	log.Info("Scheduler is running")
}
