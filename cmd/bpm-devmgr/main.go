// Command bpm-devmgr is the root supervisor process: it ensures the
// broker is running, discovers hardware endpoints under a directory
// pattern, spawns one bpm-smio child per endpoint, and reaps and
// respawns children for the life of the process, per spec §4.6.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/lnls-bpm/bpm-core/internal/config"
	"github.com/lnls-bpm/bpm-core/pkg/devicemanager"
)

func main() {
	confPath := flag.String("conf", "", "path to the devicemanager INI config (required)")
	flag.Parse()

	if *confPath == "" {
		log.Fatal("bpm-devmgr: -conf is required")
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*confPath)
	if err != nil {
		log.Fatalf("bpm-devmgr: %v", err)
	}

	var logger *slog.Logger
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("bpm-devmgr: open log file %s: %v", cfg.LogFile, err)
		}
		defer f.Close()
		logger = slog.New(slog.NewJSONHandler(f, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	mgrCfg := devicemanager.Config{
		BrokerPath: cfg.BrokerPath,
		BrokerArgs: []string{"-addr", cfg.BrokerAddr, "-log-file", cfg.LogFile},
		SMIOPath:   cfg.SMIOPath,
		SMIOArgsFor: func(ep devicemanager.Endpoint) []string {
			return []string{
				"-service", ep.Name,
				"-broker", cfg.BrokerAddr,
				"-endpoint", ep.Name,
				"-log-file", cfg.LogFile,
			}
		},
		RespawnKilledWorkers: cfg.RespawnKilledWorkers,
	}

	scanner := devicemanager.GlobScanner{Root: cfg.ScanRoot, Pattern: cfg.ScanPattern}
	mgr := devicemanager.New(mgrCfg, scanner, devicemanager.RealSpawn, logger)

	if err := mgr.Bootstrap(); err != nil {
		log.Fatalf("bpm-devmgr: bootstrap: %v", err)
	}
	log.Info(fmt.Sprintf("bpm-devmgr: supervising %d children", len(mgr.Registry().All())))

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("bpm-devmgr: shutting down")
		close(stop)
	}()

	mgr.Run(stop)
}
