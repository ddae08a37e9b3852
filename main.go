package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"spotify-util-go/config"
	"spotify-util-go/logcolors"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

var conf = config.Get()

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)

	level, err := log.ParseLevel(conf.Configuration.LogLevel)
	if err != nil {
		log.Warnf("%s Invalid LOG_LEVEL %q, using info", logcolors.LogConfig, conf.Configuration.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func main() {
	srv, err := newServer(conf)
	if err != nil {
		log.Fatalf("%s Failed to start: %v", logcolors.LogServer, err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Errorf("%s Failed to close store: %v", logcolors.LogServer, err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler, err := srv.newScheduler()
	if err != nil {
		log.Fatalf("%s %v", logcolors.LogServer, err)
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr:              ":" + conf.Configuration.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		log.Infof("%s Shutting down", logcolors.LogServer)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("%s Graceful shutdown failed: %v", logcolors.LogServer, err)
		}
		<-scheduler.Stop().Done()
	}()

	log.Infof("%s Listening on port %s", logcolors.LogServer, conf.Configuration.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("%s Server error: %v", logcolors.LogServer, err)
		stop()
	}
	<-drained
}
