package broker

import (
	"fmt"
	"net"

	"github.com/lnls-bpm/bpm-core/pkg/message"
)

// Client is a short-lived connection to a broker, used by request
// callers that are not themselves SMIO workers (cmd/bpmctl, the
// acquisition helper, diagnostics tooling).
type Client struct {
	conn net.Conn
}

// Dial opens a connection to the broker at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Request sends one service-named request and blocks for the reply.
// body is the EXP_ZMQ/THSAFE_ZMQ-tagged message pkg/message produces.
func (c *Client) Request(service string, body *message.Message) (*message.Message, error) {
	req := &message.Message{
		Frames: append([][]byte{{tagRequest}, []byte(service)}, body.Frames...),
	}
	if _, err := req.WriteTo(c.conn); err != nil {
		return nil, err
	}
	reply, err := message.ReadMessage(c.conn)
	if err != nil {
		return nil, err
	}
	if len(reply.Frames) < 1 || len(reply.Frames[0]) != 1 || reply.Frames[0][0] != tagReply {
		return nil, fmt.Errorf("broker: malformed reply")
	}
	return &message.Message{Frames: reply.Frames[1:]}, nil
}

// WorkerConn is a long-lived connection a worker uses to register for
// a service and then serve requests the broker forwards to it.
type WorkerConn struct {
	conn net.Conn
}

// DialWorker connects to the broker and registers service.
func DialWorker(addr, service string) (*WorkerConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s: %w", addr, err)
	}
	ready := &message.Message{Frames: [][]byte{{tagReady}, []byte(service)}}
	if _, err := ready.WriteTo(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &WorkerConn{conn: conn}, nil
}

// Close disconnects the worker. Pending requests already forwarded by
// the broker will fail on their next read.
func (w *WorkerConn) Close() error { return w.conn.Close() }

// Next blocks for the next request forwarded by the broker.
func (w *WorkerConn) Next() (*message.Message, error) {
	m, err := message.ReadMessage(w.conn)
	if err != nil {
		return nil, err
	}
	if len(m.Frames) < 1 || len(m.Frames[0]) != 1 || m.Frames[0][0] != tagRequest {
		return nil, fmt.Errorf("broker: malformed request")
	}
	return &message.Message{Frames: m.Frames[1:]}, nil
}

// Reply sends back the result of the most recently received request.
func (w *WorkerConn) Reply(body *message.Message) error {
	m := &message.Message{Frames: append([][]byte{{tagReply}}, body.Frames...)}
	_, err := m.WriteTo(w.conn)
	return err
}
