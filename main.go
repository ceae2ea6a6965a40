package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iaasstore/restmailer/api"
	"github.com/iaasstore/restmailer/mailer"
	"github.com/iaasstore/restmailer/message"
	"github.com/iaasstore/restmailer/storage"
	"github.com/iaasstore/restmailer/tracker"
	"github.com/iaasstore/restmailer/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	configPath := flag.String(
		"config",
		"",
		"path to a YAML file containing your configuration; environment variables win over it",
	)
	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	log.Info().
		Str("configPath", *configPath).
		Msg("starting the application")

	userconfig.LoadEnvFiles()

	checkedConfig, err := userconfig.Load(*configPath)
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem loading your config")
		os.Exit(1)
	}

	log.Info().Msg("successfully validated the config")

	var db storage.KeyValue
	if checkedConfig.Runtime.Dir != "" {
		bdb, err := storage.NewBadgerDB(&checkedConfig.Runtime)
		if err != nil {
			log.Error().
				Str("dir", checkedConfig.Runtime.Dir).
				Err(err).
				Msg("can't open the delivery record store")
			os.Exit(1)
		}
		db = bdb
	} else {
		db = storage.NewMemoryDB(&checkedConfig.Runtime)
		log.Warn().Msg("no runtime directory configured, delivery records won't survive a restart")
	}

	tr := tracker.New(db)

	deliverer, err := mailer.NewDeliverer(checkedConfig.Mail, tr)
	if err != nil {
		log.Error().
			Err(err).
			Msg("can't set up the mailer")
		os.Exit(1)
	}

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	dispatcher := mailer.NewDispatcher(dispatchCtx, deliverer, checkedConfig.Mail.MaxConcurrent)

	apiServer := api.NewServer(checkedConfig.HTTP, message.Defaults{
		Username:           checkedConfig.Mail.DefUsername,
		SendTimeout:        checkedConfig.Mail.SendTimeout,
		IgnoreSTARTTLSCert: checkedConfig.Mail.IgnoreSTARTTLSCert,
	}, dispatcher, tr)

	httpServer := &http.Server{
		Addr:    checkedConfig.HTTP.ListenAddr(),
		Handler: apiServer.Routes(),
	}

	// Expired records only actually leave the store when Cleanup runs.
	cleanupCadence := time.NewTicker(checkedConfig.Runtime.CleanupInterval)
	go func() {
		for range cleanupCadence.C {
			if err := db.Cleanup(); err != nil {
				log.Error().Err(err).Msg("can't clean up the delivery record store")
			}
		}
	}()

	// Intercept interrupts so we can drain before exiting: stop taking
	// requests, let in-flight deliveries finish, flush the store. A second
	// interrupt abandons the in-flight deliveries instead of waiting.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func(c chan os.Signal) {
		<-c
		log.Info().Msg("interrupt: shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(30)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("can't drain the HTTP server")
		}

		go func() {
			<-c
			log.Warn().Msg("second interrupt: abandoning in-flight deliveries")
			cancelDispatch()
		}()

		dispatcher.Wait()
		cleanupCadence.Stop()
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("can't close the delivery record store")
		}
		close(done)
	}(sigCh)

	log.Info().
		Str("address", httpServer.Addr).
		Msg("HTTP server listening")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().
			Err(err).
			Msg("can't serve HTTP")
		os.Exit(1)
	}

	<-done
	log.Info().Msg("shutdown complete")
}
