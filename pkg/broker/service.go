package broker

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/lnls-bpm/bpm-core/pkg/message"
)

// errServiceClosed is returned to any client request still in flight
// when the broker shuts the service down.
var errServiceClosed = errors.New("broker: service closed")

// result carries a worker's reply (or the failure that kept it from
// arriving) back to the client goroutine waiting on it.
type result struct {
	msg *message.Message
	err error
}

type pendingRequest struct {
	body *message.Message
	done chan result
}

// service is one named service's routing state: a single FIFO inbox
// shared by every worker connection registered for that name, which
// gives per-service request ordering (spec §5) regardless of how many
// workers are currently serving it.
type service struct {
	name   string
	logger *slog.Logger

	inbox chan *pendingRequest
	done  chan struct{}
	once  sync.Once
}

func newService(name string, logger *slog.Logger) *service {
	return &service{
		name:   name,
		logger: logger.With("service", name),
		inbox:  make(chan *pendingRequest, 64),
		done:   make(chan struct{}),
	}
}

func (s *service) shutdown() {
	s.once.Do(func() { close(s.done) })
}

// routeClientRequest enqueues body and blocks until a worker has
// produced a reply, the service is closed, or the worker connection
// handling it fails.
func (s *service) routeClientRequest(body *message.Message) (*message.Message, error) {
	pr := &pendingRequest{body: body, done: make(chan result, 1)}
	select {
	case s.inbox <- pr:
	case <-s.done:
		return nil, errServiceClosed
	}
	select {
	case res := <-pr.done:
		return res.msg, res.err
	case <-s.done:
		return nil, errServiceClosed
	}
}

// serveWorker runs for the lifetime of one worker's connection,
// pulling requests off the shared inbox and forwarding replies back
// to whichever client is waiting on each one.
func (s *service) serveWorker(conn net.Conn) {
	s.logger.Info("worker registered")
	defer s.logger.Info("worker disconnected")

	for {
		select {
		case pr, ok := <-s.inbox:
			if !ok {
				return
			}
			if err := s.forward(conn, pr); err != nil {
				pr.done <- result{err: err}
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *service) forward(conn net.Conn, pr *pendingRequest) error {
	req := &message.Message{Frames: append([][]byte{{tagRequest}}, pr.body.Frames...)}
	if _, err := req.WriteTo(conn); err != nil {
		return err
	}
	reply, err := message.ReadMessage(conn)
	if err != nil {
		return err
	}
	if len(reply.Frames) < 1 || len(reply.Frames[0]) != 1 || reply.Frames[0][0] != tagReply {
		return errors.New("broker: malformed reply from worker")
	}
	pr.done <- result{msg: &message.Message{Frames: reply.Frames[1:]}}
	return nil
}
