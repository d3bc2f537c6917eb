package message

import (
	"encoding/binary"

	"github.com/lnls-bpm/bpm-core/pkg/dispatch"
	"github.com/lnls-bpm/bpm-core/pkg/errs"
	"github.com/lnls-bpm/bpm-core/pkg/llio"
)

// Protocol is the variant an inbound message classifies as, per spec
// §4.4.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	// ProtocolExp is EXP_ZMQ: typed RPC through the dispatch table.
	ProtocolExp
	// ProtocolThsafe is THSAFE_ZMQ: raw register access against the
	// worker's LLIO handle.
	ProtocolThsafe
)

// Tag bytes occupy frame 0 of every message this layer classifies.
// This concrete tag-byte scheme is this implementation's choice of
// wire discriminant; the abstract spec leaves the exact bit for this
// unspecified.
const (
	tagExp    byte = 0x01
	tagThsafe byte = 0x02
)

// RawOp enumerates the THSAFE_ZMQ register operations.
type RawOp uint8

const (
	RawOpOpen RawOp = iota
	RawOpRelease
	RawOpRead16
	RawOpRead32
	RawOpRead64
	RawOpWrite16
	RawOpWrite32
	RawOpWrite64
	RawOpReadBlock
	RawOpWriteBlock
)

// Classify inspects frame 0's tag byte and returns the protocol
// variant. An empty message or an unrecognized tag is
// MSG_NOT_SUPPORTED (errs.ErrNotSupported) per spec §4.4.
func Classify(m *Message) (Protocol, error) {
	if len(m.Frames) < 1 || len(m.Frames[0]) < 1 {
		return ProtocolUnknown, errs.ErrNotSupported
	}
	switch m.Frames[0][0] {
	case tagExp:
		return ProtocolExp, nil
	case tagThsafe:
		return ProtocolThsafe, nil
	default:
		return ProtocolUnknown, errs.ErrNotSupported
	}
}

// NewExpRequest builds an EXP_ZMQ request message: tag, opcode frame,
// then one frame per argument.
func NewExpRequest(op dispatch.Opcode, args ...[]byte) *Message {
	opFrame := make([]byte, 4)
	binary.LittleEndian.PutUint32(opFrame, uint32(op))
	frames := append([][]byte{{tagExp}, opFrame}, args...)
	return &Message{Frames: frames}
}

// NewRawRequest builds a THSAFE_ZMQ request message: tag, op byte,
// offset (8 bytes, little-endian, holding the 32-bit llio.Offset),
// and an optional payload frame for writes/read sizing.
func NewRawRequest(op RawOp, offs llio.Offset, payload []byte) *Message {
	offsFrame := make([]byte, 8)
	binary.LittleEndian.PutUint64(offsFrame, uint64(offs))
	frames := [][]byte{{tagThsafe}, {byte(op)}, offsFrame}
	if payload != nil {
		frames = append(frames, payload)
	}
	return &Message{Frames: frames}
}
