// Command bpm-smio runs one Service Module I/O worker: it opens an
// LLIO handle onto a single hardware endpoint, exports its dispatch
// catalogue, applies chip defaults, and then serves typed and raw
// register requests routed through the broker, per spec §4.5.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/lnls-bpm/bpm-core/pkg/acquisition"
	"github.com/lnls-bpm/bpm-core/pkg/dispatch"
	"github.com/lnls-bpm/bpm-core/pkg/endpoint"
	"github.com/lnls-bpm/bpm-core/pkg/llio"
	"github.com/lnls-bpm/bpm-core/pkg/llio/pcie"
	"github.com/lnls-bpm/bpm-core/pkg/llio/simulated"
	"github.com/lnls-bpm/bpm-core/pkg/smio"
)

// acquisition opcodes this SMIO image exports. A real deployment
// would load these (and any richer register-level opcodes) from a
// catalogue file via dispatch.ImportCatalogue instead of hardcoding
// them; this is the minimal set every acquisition-capable worker
// needs.
var acquisitionOpcodes = acquisition.Opcodes{
	DataAcquire:      1,
	CheckDataAcquire: 2,
	GetDataBlock:     3,
}

func main() {
	service := flag.String("service", "", "service name to register with the broker")
	brokerAddr := flag.String("broker", "127.0.0.1:9090", "broker tcp address")
	backendKind := flag.String("backend", "pcie", "register backend: pcie or sim")
	endpointName := flag.String("endpoint", "", "endpoint identifier (sysfs PCI base path for pcie, arbitrary tag for sim)")
	simBar2Size := flag.Int("sim-bar2-size", 1<<20, "simulated BAR2 size in bytes (backend=sim only)")
	simBar4Size := flag.Int("sim-bar4-size", 1<<16, "simulated BAR4 size in bytes (backend=sim only)")
	sampleSize := flag.Int("sample-size", 4, "bytes per acquisition sample on this FPGA image")
	defaultsViaBroker := flag.Bool("defaults-via-broker", false, "apply defaults as self-directed broker requests instead of direct register writes")
	catalogueOut := flag.String("export-catalogue", "", "write the dispatch catalogue to this path and exit")
	logFile := flag.String("log-file", "", "path to write structured logs to (stderr if empty)")
	flag.Parse()

	if *service == "" {
		log.Fatal("bpm-smio: -service is required")
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var w io.Writer = os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("bpm-smio: open log file %s: %v", *logFile, err)
		}
		defer f.Close()
		w = f
	}
	slogger := slog.New(slog.NewJSONHandler(w, nil))

	var backend llio.Backend
	switch *backendKind {
	case "pcie":
		backend = pcie.New(slogger)
	case "sim":
		backend = simulated.New(*simBar2Size, *simBar4Size)
	default:
		log.Fatalf("bpm-smio: unknown backend %q", *backendKind)
	}

	ep := endpoint.New(endpoint.KindPCIe, *endpointName)
	handle := llio.New(ep, backend, slogger)

	table := dispatch.NewTable()
	source := smio.NewRegisterSource(handle, *sampleSize)
	if err := acquisition.RegisterHandlers(table, source, acquisitionOpcodes); err != nil {
		log.Fatalf("bpm-smio: register acquisition handlers: %v", err)
	}

	if *catalogueOut != "" {
		f, err := os.Create(*catalogueOut)
		if err != nil {
			log.Fatalf("bpm-smio: create catalogue file: %v", err)
		}
		defer f.Close()
		if err := table.ExportCatalogue(f); err != nil {
			log.Fatalf("bpm-smio: export catalogue: %v", err)
		}
		return
	}

	worker := smio.New(smio.Config{
		ServiceName:       *service,
		BrokerAddr:        *brokerAddr,
		DefaultsViaBroker: *defaultsViaBroker,
	}, handle, table, slogger)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Infof("bpm-smio[%s]: shutting down", *service)
		cancel()
	}()

	log.Infof("bpm-smio[%s]: starting against broker %s", *service, *brokerAddr)
	if err := worker.Run(ctx); err != nil {
		log.Fatalf("bpm-smio[%s]: %v", *service, err)
	}
}
