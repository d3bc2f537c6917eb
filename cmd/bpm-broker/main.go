// Command bpm-broker runs the Majordomo-style message broker: the
// single TCP rendezvous point clients and SMIO workers dial to
// exchange service-named requests, per spec §5/§6.
package main

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/lnls-bpm/bpm-core/pkg/broker"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:9090", "tcp address to listen on")
	logFile := flag.String("log-file", "", "path to write structured logs to (stderr if empty)")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var w io.Writer = os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("bpm-broker: open log file %s: %v", *logFile, err)
		}
		defer f.Close()
		w = f
	}
	slogger := slog.New(slog.NewJSONHandler(w, nil))

	b, err := broker.New(*addr, slogger)
	if err != nil {
		log.Fatalf("bpm-broker: %v", err)
	}
	log.Infof("bpm-broker: listening on %s", b.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("bpm-broker: shutting down")
		b.Close()
	}()

	if err := b.Serve(); err != nil {
		log.Fatalf("bpm-broker: serve: %v", err)
	}
}
