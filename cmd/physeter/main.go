package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	physeter "github.com/Mycrl/Physeter"
	"github.com/Mycrl/Physeter/server"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "physeter",
		Usage: "object storage engine over large track files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "directory",
				Aliases:  []string{"d"},
				Usage:    "root folder for the index and track files",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:  "chunk-size",
				Usage: "total bytes per chunk record",
			},
			&cli.Uint64Flag{
				Name:  "track-size",
				Usage: "soft cap per track file in bytes",
			},
			&cli.Uint64Flag{
				Name:  "max-memory",
				Usage: "advisory cache budget for the index",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "HTTP listen address",
				Value: "127.0.0.1:3000",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "logrus level",
				Value: "info",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("physeter exited")
	}
}

func run(c *cli.Context) error {
	level, err := log.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}

	log.SetLevel(level)

	kernel, err := physeter.Open(&physeter.Options{
		Directory: c.String("directory"),
		ChunkSize: c.Uint64("chunk-size"),
		TrackSize: c.Uint64("track-size"),
		MaxMemory: c.Uint64("max-memory"),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    c.String("listen"),
		Handler: server.New(kernel),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		log.WithField("listen", srv.Addr).Info("serving")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err = <-errs:
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdown)
	}

	if cerr := kernel.Close(); err == nil {
		err = cerr
	}

	if err == http.ErrServerClosed {
		err = nil
	}

	return err
}
