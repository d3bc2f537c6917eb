// Package smio implements the worker lifecycle state machine
// (INIT -> EXPORTING -> DEFAULTS -> READY -> DRAINING -> EXIT) every
// Service Module I/O process drives, per spec §4.5.
package smio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lnls-bpm/bpm-core/pkg/broker"
	"github.com/lnls-bpm/bpm-core/pkg/dispatch"
	"github.com/lnls-bpm/bpm-core/pkg/llio"
	"github.com/lnls-bpm/bpm-core/pkg/message"
)

// DefaultWrite is one self-directed register write applied during
// DEFAULTS: a known-good value for a chip parameter or threshold.
type DefaultWrite struct {
	Offset llio.Offset
	Width  int // 2, 4 or 8 bytes
	Value  uint64
}

func (dw DefaultWrite) encode() []byte {
	buf := make([]byte, dw.Width)
	switch dw.Width {
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(dw.Value))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(dw.Value))
	default:
		binary.LittleEndian.PutUint64(buf, dw.Value)
	}
	return buf
}

func (dw DefaultWrite) rawOp() message.RawOp {
	switch dw.Width {
	case 2:
		return message.RawOpWrite16
	case 4:
		return message.RawOpWrite32
	default:
		return message.RawOpWrite64
	}
}

func (dw DefaultWrite) applyDirect(h *llio.Handle) error {
	switch dw.Width {
	case 2:
		return h.Write16(dw.Offset, uint16(dw.Value))
	case 4:
		return h.Write32(dw.Offset, uint32(dw.Value))
	default:
		return h.Write64(dw.Offset, dw.Value)
	}
}

// Config parameterizes one worker instance.
type Config struct {
	ServiceName string
	BrokerAddr  string
	Defaults    []DefaultWrite

	// DefaultsViaBroker reproduces the source hazard this design
	// otherwise avoids: defaults are applied as ordinary self-directed
	// client requests round-tripped through the broker, rather than
	// directly on the LLIO handle, so the worker is externally
	// reachable (EXPORTING already registered it) before DEFAULTS
	// completes. Retained for parity testing against the hazard, not
	// recommended for production use.
	DefaultsViaBroker bool
}

// Worker drives one SMIO instance's lifecycle against one LLIO handle
// and one dispatch table.
type Worker struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State

	handle *llio.Handle
	table  *dispatch.Table
	wc     *broker.WorkerConn
}

// New builds a Worker in state INIT.
func New(cfg Config, handle *llio.Handle, table *dispatch.Table, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:    cfg,
		logger: logger.With("component", "smio", "service", cfg.ServiceName),
		handle: handle,
		table:  table,
	}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.logger.Info("state transition", "state", s.String())
}

// Run drives the worker through its full lifecycle until ctx is
// cancelled (DRAINING/EXIT) or an unrecoverable error occurs.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateInit)
	if err := w.handle.Open(); err != nil {
		return fmt.Errorf("smio: open: %w", err)
	}

	w.setState(StateExporting)
	wc, err := broker.DialWorker(w.cfg.BrokerAddr, w.cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("smio: register with broker: %w", err)
	}
	w.wc = wc

	serveErrCh := make(chan error, 1)
	startServe := func() { go func() { serveErrCh <- w.serveLoop(ctx) }() }

	w.setState(StateDefaults)
	if w.cfg.DefaultsViaBroker {
		startServe()
		if err := w.applyDefaultsViaBroker(); err != nil {
			w.wc.Close()
			<-serveErrCh
			w.setState(StateExit)
			w.handle.Release()
			return err
		}
	} else {
		if err := w.applyDefaultsDirect(); err != nil {
			w.wc.Close()
			w.setState(StateExit)
			w.handle.Release()
			return err
		}
		startServe()
	}

	w.setState(StateReady)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
		w.setState(StateExit)
		w.handle.Release()
		return serveErr
	}

	w.setState(StateDraining)
	w.wc.Close()
	<-serveErrCh

	w.setState(StateExit)
	return w.handle.Release()
}

func (w *Worker) applyDefaultsDirect() error {
	for _, dw := range w.cfg.Defaults {
		if err := dw.applyDirect(w.handle); err != nil {
			return fmt.Errorf("smio: apply default at offset %#x: %w", dw.Offset, err)
		}
	}
	return nil
}

func (w *Worker) applyDefaultsViaBroker() error {
	cl, err := broker.Dial(w.cfg.BrokerAddr)
	if err != nil {
		return fmt.Errorf("smio: self-dial broker: %w", err)
	}
	defer cl.Close()
	for _, dw := range w.cfg.Defaults {
		body := message.NewRawRequest(dw.rawOp(), dw.Offset, dw.encode())
		reply, err := cl.Request(w.cfg.ServiceName, body)
		if err != nil {
			return fmt.Errorf("smio: self-directed default write at offset %#x: %w", dw.Offset, err)
		}
		if parsed, err := message.ReplyFromMessage(reply); err != nil || parsed.Err != 0 {
			return fmt.Errorf("smio: default write at offset %#x rejected", dw.Offset)
		}
	}
	return nil
}

// serveLoop is the READY-state request loop: receive one request,
// classify, dispatch, reply. It returns nil when the worker
// connection is closed from Run (normal drain) and a non-nil error on
// any other I/O failure.
func (w *Worker) serveLoop(ctx context.Context) error {
	for {
		req, err := w.wc.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("smio: receive: %w", err)
		}
		reply := message.Dispatch(ctx, w.table, w.handle, req)
		if err := w.wc.Reply(reply.ToMessage()); err != nil {
			return fmt.Errorf("smio: reply: %w", err)
		}
	}
}
