package main

import (
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"github.com/Sar-kit/tus2/internal/client"
	"github.com/Sar-kit/tus2/internal/database"
	"github.com/Sar-kit/tus2/internal/scheduler"
	"github.com/Sar-kit/tus2/internal/storage"
	"github.com/Sar-kit/tus2/internal/webserver"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	dbname   = "tus2.db"
	resumedb = "tus2-resume.db"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"

	binding string
	port    string

	endpoint string
	formID   string
)

func main() {
	c := &cobra.Command{
		Use:     "tus2",
		Short:   "Resumable upload server and client",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    cobra.ExactArgs(0),
	}
	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Version for tus2",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(c.Version)
		},
	})
	c.AddCommand(initCmd)
	c.AddCommand(reindexCmd)

	serverCmd.Flags().StringVarP(&binding, "binding", "b", "0.0.0.0", "Server's binding")
	serverCmd.Flags().StringVarP(&port, "port", "p", "5000", "Server's port")
	c.AddCommand(serverCmd)

	uploadCmd.Flags().StringVarP(&endpoint, "endpoint", "e", "http://localhost:5000/uploads", "Upload creation endpoint")
	uploadCmd.Flags().StringVarP(&formID, "form", "f", "", "Identifier of the form the file belongs to")
	uploadCmd.MarkFlagRequired("form")
	c.AddCommand(uploadCmd)

	if err := c.Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}

var (
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Init the database",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			return database.StormInit(nameWithEnv("DATABASE_PATH", dbname))
		},
	}

	//

	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Reindex the database",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			return database.StormReIndex(nameWithEnv("DATABASE_PATH", dbname))
		},
	}

	//

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Start server",
		Args:  cobra.ExactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			ctrl := webserver.Controller{
				Version: c.Parent().Version,
				//
				PublicURL: envORdefault("PUBLIC_BASE_URL", "http://localhost:"+port),
			}

			//

			log := newLogrus()
			ctrl.Logger = logger.WrapLogrus(log)

			//

			db, err := database.StormOpen(nameWithEnv("DATABASE_PATH", dbname))
			if err != nil {
				return errors.Wrap(err, "could not open database")
			}
			defer db.Close()
			ctrl.Database = db

			//

			switch envORdefault("STORAGE_BACKEND", "fs") {
			case "swift":
				ctrl.Storage = storage.NewSwift(storage.SwiftOptions{
					AuthURL:   os.Getenv("SWIFT_AUTH_URL"),
					Username:  os.Getenv("SWIFT_USERNAME"),
					APIKey:    os.Getenv("SWIFT_API_KEY"),
					Domain:    envORdefault("SWIFT_DOMAIN", "Default"),
					Tenant:    os.Getenv("SWIFT_TENANT"),
					Region:    os.Getenv("SWIFT_REGION"),
					Container: envORdefault("SWIFT_CONTAINER", "tus2"),
				})
			default:
				ctrl.Storage = storage.NewFileSystem(nameWithEnv("STORAGE_PATH", "storage"))
			}

			//

			maxage, err := time.ParseDuration(envORdefault("REAPER_MAX_AGE", "24h"))
			if err != nil {
				return errors.Wrap(err, "could not parse REAPER_MAX_AGE")
			}

			scheduler.Start(scheduler.Controller{
				Logger:        ctrl.Logger,
				Database:      ctrl.Database,
				Storage:       ctrl.Storage,
				Specification: "@every 1m",
				MaxAge:        maxage,
			})

			//

			engine := webserver.EchoEngine(ctrl)
			webserver.PrintRoutes(engine)

			listen := fmt.Sprintf("%s:%s", binding, port)
			log.Printf("Server listening on %s", listen)
			return errors.Wrap(
				engine.Start(listen),
				"could not run server",
			)
		},
	}

	//

	uploadCmd = &cobra.Command{
		Use:   "upload <file>",
		Short: "Transfer a file, resuming any previous attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			log := logger.WrapLogrus(newLogrus())

			//

			filename, err := filepath.Abs(args[0])
			if err != nil {
				return errors.Wrap(err, "could not resolve file")
			}

			f, err := os.Open(filename)
			if err != nil {
				return errors.Wrap(err, "could not open file")
			}
			defer f.Close()

			stat, err := f.Stat()
			if err != nil {
				return errors.Wrap(err, "could not stat file")
			}

			//

			transport, err := client.NewTransport(endpoint, http.DefaultClient)
			if err != nil {
				return err
			}

			store, err := client.NewStormResumeStore(nameWithEnv("RESUME_STORE_PATH", resumedb))
			if err != nil {
				return err
			}
			defer store.Close()

			manager := client.NewManager(client.Controller{
				Logger:    log,
				Transport: transport,
				Store:     store,
			})

			//

			done := make(chan error, 1)
			job := manager.Start(client.Source{
				ID:       filename,
				Name:     filepath.Base(filename),
				MimeType: mime.TypeByExtension(filepath.Ext(filename)),
				Size:     stat.Size(),
				ReaderAt: f,
			}, formID, client.Callbacks{
				OnProgress: func(uploaded, total int64) {
					log.Infof("%d/%d bytes", uploaded, total)
				},
				OnComplete: func(url string) {
					log.Infof("Completed: %s", url)
					done <- nil
				},
				OnError: func(err error) {
					done <- err
				},
			})

			//

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)

			select {
			case err := <-done:
				return err
			case <-interrupt:
				job.Pause()
				<-job.Done()
				log.Info("Paused, run the same command again to resume")
				return nil
			}
		},
	}
)

func newLogrus() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logger.LogrusTextFormatter{
		DisableColors:   false,
		ForceColors:     true,
		ForceFormatting: true,
		PrefixRE:        regexp.MustCompile(`^(\[.*?\])\s`),
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return log
}

func nameWithEnv(env, name string) string {
	p := os.Getenv(env)
	if len(p) == 0 {
		return name
	}
	return filepath.Join(p, name)
}

func envORdefault(name, fallback string) string {
	p := os.Getenv(name)
	if len(p) == 0 {
		return fallback
	}
	return p
}
