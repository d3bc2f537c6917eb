// Package broker implements the Majordomo-style message broker: one
// TCP listener through which clients submit service-named requests
// and SMIO workers register and serve them. Routing is
// CLIENT -> broker -> WORKER -> broker -> CLIENT, with FIFO ordering
// per service name, per spec §5/§6.
//
// The wire transport is the length-prefixed multi-frame scheme from
// pkg/message, generalizing pkg/can/virtual's single-CAN-frame
// TCP framing.
package broker

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/lnls-bpm/bpm-core/pkg/message"
)

// control tags occupy frame 0 of every message exchanged on a broker
// connection, distinguishing broker-level routing control from the
// EXP_ZMQ/THSAFE_ZMQ body frames pkg/message classifies.
const (
	tagReady   byte = 0x10 // worker -> broker: register for a service
	tagRequest byte = 0x11 // client -> broker, or broker -> worker
	tagReply   byte = 0x12 // worker -> broker, or broker -> client
)

// Broker owns the listener and the per-service routing tables.
type Broker struct {
	logger *slog.Logger

	ln net.Listener

	mu       sync.Mutex
	services map[string]*service
	closed   bool
	wg       sync.WaitGroup
}

// New builds a Broker bound to addr. Call Serve to start
// accepting connections.
func New(addr string, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("broker: listen %s: %w", addr, err)
	}
	return &Broker{
		logger:   logger.With("component", "broker", "addr", addr),
		ln:       ln,
		services: map[string]*service{},
	}, nil
}

// Addr returns the listener's bound address, useful when addr was
// ":0" and the OS picked a port.
func (b *Broker) Addr() net.Addr { return b.ln.Addr() }

// Serve accepts connections until Close is called.
func (b *Broker) Serve() error {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections, tears down every service
// queue, and waits for in-flight connection handlers to exit.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	for _, s := range b.services {
		s.shutdown()
	}
	b.mu.Unlock()
	err := b.ln.Close()
	b.wg.Wait()
	return err
}

func (b *Broker) serviceFor(name string) *service {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.services[name]
	if !ok {
		s = newService(name, b.logger)
		b.services[name] = s
	}
	return s
}

func (b *Broker) handleConn(conn net.Conn) {
	defer conn.Close()

	first, err := message.ReadMessage(conn)
	if err != nil {
		return
	}
	if len(first.Frames) < 1 || len(first.Frames[0]) != 1 {
		return
	}

	switch first.Frames[0][0] {
	case tagReady:
		if len(first.Frames) < 2 {
			return
		}
		name := string(first.Frames[1])
		s := b.serviceFor(name)
		s.serveWorker(conn)
	case tagRequest:
		if len(first.Frames) < 2 {
			return
		}
		name := string(first.Frames[1])
		s := b.serviceFor(name)
		body := &message.Message{Frames: first.Frames[2:]}
		reply, err := s.routeClientRequest(body)
		if err != nil {
			return
		}
		replyMsg := &message.Message{Frames: append([][]byte{{tagReply}}, reply.Frames...)}
		replyMsg.WriteTo(conn)
	default:
		return
	}
}
