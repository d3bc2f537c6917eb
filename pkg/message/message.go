// Package message implements the multi-frame wire format shared by
// the broker, SMIO workers and clients: classification into EXP_ZMQ
// (typed RPC) versus THSAFE_ZMQ (raw register access), validation
// against a dispatch table, and framing/deframing over a
// length-prefixed TCP stream.
//
// The physical framing is a direct generalization of
// pkg/can/virtual's single-CAN-frame scheme (a 4-byte big-endian
// length header followed by the payload) to an arbitrary number of
// frames per message: `u32 frameCount`, then per frame `u32 frameLen`
// + frameLen bytes.
package message

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lnls-bpm/bpm-core/pkg/errs"
)

// maxFrameLen guards against a corrupt or hostile length header
// causing an unbounded allocation.
const maxFrameLen = 16 << 20

// maxFrameCount bounds how many frames a single message may carry.
const maxFrameCount = 1024

// Message is one inbound or outbound multi-frame wire message.
type Message struct {
	Frames [][]byte
}

// New builds a Message from the given frames.
func New(frames ...[]byte) *Message {
	return &Message{Frames: frames}
}

// WriteTo encodes the message as frameCount + (frameLen, frame)* in
// big-endian, mirroring serializeFrame in pkg/can/virtual.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	var written int64
	header := make([]byte, 4)

	binary.BigEndian.PutUint32(header, uint32(len(m.Frames)))
	n, err := w.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	for _, f := range m.Frames {
		binary.BigEndian.PutUint32(header, uint32(len(f)))
		n, err = w.Write(header)
		written += int64(n)
		if err != nil {
			return written, err
		}
		n, err = w.Write(f)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReadMessage decodes one message from r, the inverse of WriteTo.
func ReadMessage(r io.Reader) (*Message, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(header)
	if count > maxFrameCount {
		return nil, fmt.Errorf("message: frame count %d exceeds limit: %w", count, errs.ErrProtocolMalformed)
	}

	frames := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, header); err != nil {
			return nil, err
		}
		flen := binary.BigEndian.Uint32(header)
		if flen > maxFrameLen {
			return nil, fmt.Errorf("message: frame length %d exceeds limit: %w", flen, errs.ErrProtocolMalformed)
		}
		frame := make([]byte, flen)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return &Message{Frames: frames}, nil
}

// Reply is a dispatch result: an error code, and — only when Err is
// OK and the operation produced a caller-owned payload — the payload
// bytes, per spec §4.3 "(err) or (err, size, payload)".
type Reply struct {
	Err     errs.Code
	Payload []byte
}

// ToMessage packs the reply as a wire Message: frame 0 is the 1-byte
// error code, frame 1 (only present when Payload != nil) is the raw
// payload.
func (r *Reply) ToMessage() *Message {
	frames := [][]byte{{byte(r.Err)}}
	if r.Payload != nil {
		frames = append(frames, r.Payload)
	}
	return &Message{Frames: frames}
}

// ReplyFromMessage is the inverse of ToMessage.
func ReplyFromMessage(m *Message) (*Reply, error) {
	if len(m.Frames) < 1 || len(m.Frames[0]) != 1 {
		return nil, errs.ErrProtocolMalformed
	}
	r := &Reply{Err: errs.Code(int8(m.Frames[0][0]))}
	if len(m.Frames) > 1 {
		r.Payload = m.Frames[1]
	}
	return r, nil
}
