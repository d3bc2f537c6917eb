package message

import (
	"context"
	"encoding/binary"

	"github.com/lnls-bpm/bpm-core/pkg/dispatch"
	"github.com/lnls-bpm/bpm-core/pkg/errs"
	"github.com/lnls-bpm/bpm-core/pkg/llio"
)

// DispatchExp executes an EXP_ZMQ request against tbl: frame 1 is the
// 32-bit opcode, frames[2:] are the arguments, per spec §4.3.
func DispatchExp(ctx context.Context, tbl *dispatch.Table, m *Message) *Reply {
	if len(m.Frames) < 2 || len(m.Frames[1]) != 4 {
		return &Reply{Err: errs.ErrProtocolMalformed}
	}
	op := dispatch.Opcode(binary.LittleEndian.Uint32(m.Frames[1]))
	d, ok := tbl.Lookup(op)
	if !ok {
		return &Reply{Err: errs.ErrUnknownOpcode}
	}
	args := m.Frames[2:]
	if err := d.ValidateArgFrames(args); err != nil {
		return &Reply{Err: errs.Of(err)}
	}
	if d.Handler == nil {
		return &Reply{Err: errs.ErrNotSupported}
	}
	payload, err := d.Handler(ctx, args)
	if err != nil {
		return &Reply{Err: errs.Of(err)}
	}
	if d.ReturnOwner == dispatch.ReturnOwnerCaller {
		return &Reply{Err: errs.OK, Payload: payload}
	}
	return &Reply{Err: errs.OK}
}

// DispatchRaw executes a THSAFE_ZMQ request directly against h's
// register-access methods, per spec §4.4.
func DispatchRaw(h *llio.Handle, m *Message) *Reply {
	if len(m.Frames) < 3 || len(m.Frames[1]) != 1 || len(m.Frames[2]) != 8 {
		return &Reply{Err: errs.ErrProtocolMalformed}
	}
	op := RawOp(m.Frames[1][0])
	offs := llio.Offset(binary.LittleEndian.Uint64(m.Frames[2]))
	var payload []byte
	if len(m.Frames) > 3 {
		payload = m.Frames[3]
	}

	switch op {
	case RawOpOpen:
		if err := h.Open(); err != nil {
			return &Reply{Err: errs.Of(err)}
		}
		return &Reply{Err: errs.OK}
	case RawOpRelease:
		if err := h.Release(); err != nil {
			return &Reply{Err: errs.Of(err)}
		}
		return &Reply{Err: errs.OK}
	case RawOpRead16:
		v, err := h.Read16(offs)
		if err != nil {
			return &Reply{Err: errs.Of(err)}
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, v)
		return &Reply{Err: errs.OK, Payload: buf}
	case RawOpRead32:
		v, err := h.Read32(offs)
		if err != nil {
			return &Reply{Err: errs.Of(err)}
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, v)
		return &Reply{Err: errs.OK, Payload: buf}
	case RawOpRead64:
		v, err := h.Read64(offs)
		if err != nil {
			return &Reply{Err: errs.Of(err)}
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		return &Reply{Err: errs.OK, Payload: buf}
	case RawOpWrite16:
		if len(payload) != 2 {
			return &Reply{Err: errs.ErrProtocolMalformed}
		}
		if err := h.Write16(offs, binary.LittleEndian.Uint16(payload)); err != nil {
			return &Reply{Err: errs.Of(err)}
		}
		return &Reply{Err: errs.OK}
	case RawOpWrite32:
		if len(payload) != 4 {
			return &Reply{Err: errs.ErrProtocolMalformed}
		}
		if err := h.Write32(offs, binary.LittleEndian.Uint32(payload)); err != nil {
			return &Reply{Err: errs.Of(err)}
		}
		return &Reply{Err: errs.OK}
	case RawOpWrite64:
		if len(payload) != 8 {
			return &Reply{Err: errs.ErrProtocolMalformed}
		}
		if err := h.Write64(offs, binary.LittleEndian.Uint64(payload)); err != nil {
			return &Reply{Err: errs.Of(err)}
		}
		return &Reply{Err: errs.OK}
	case RawOpReadBlock:
		buf := make([]byte, len(payload))
		n, err := h.ReadBlock(offs, buf)
		if err != nil {
			return &Reply{Err: errs.Of(err)}
		}
		return &Reply{Err: errs.OK, Payload: buf[:n]}
	case RawOpWriteBlock:
		n, err := h.WriteBlock(offs, payload)
		if err != nil {
			return &Reply{Err: errs.Of(err)}
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(n))
		return &Reply{Err: errs.OK, Payload: buf}
	default:
		return &Reply{Err: errs.ErrNotSupported}
	}
}

// Dispatch classifies m and routes it to DispatchExp or DispatchRaw.
// Unrecognized framings reply with MSG_NOT_SUPPORTED and no payload,
// per spec §4.4.
func Dispatch(ctx context.Context, tbl *dispatch.Table, h *llio.Handle, m *Message) *Reply {
	proto, err := Classify(m)
	if err != nil {
		return &Reply{Err: errs.Of(err)}
	}
	switch proto {
	case ProtocolExp:
		return DispatchExp(ctx, tbl, m)
	case ProtocolThsafe:
		return DispatchRaw(h, m)
	default:
		return &Reply{Err: errs.ErrNotSupported}
	}
}

// Envelope is the opaque return-address frame a broker prepends to a
// client request before routing it to a worker (Majordomo style). A
// raw socket request carries no envelope.
type Envelope []byte

// PeelEnvelope splits a broker-routed wire message into its return
// envelope (frame 0) and the body the dispatch layer should classify.
func PeelEnvelope(m *Message) (Envelope, *Message, error) {
	if len(m.Frames) < 1 {
		return nil, nil, errs.ErrProtocolMalformed
	}
	return Envelope(m.Frames[0]), &Message{Frames: m.Frames[1:]}, nil
}

// ReattachEnvelope prepends env back onto a reply before it is written
// back to the broker connection.
func ReattachEnvelope(env Envelope, r *Reply) *Message {
	m := r.ToMessage()
	m.Frames = append([][]byte{env}, m.Frames...)
	return m
}

// HandleBrokerRouted peels the envelope, dispatches the body, and
// reattaches the envelope to the reply — the broker-routed entry
// point from spec §4.4.
func HandleBrokerRouted(ctx context.Context, tbl *dispatch.Table, h *llio.Handle, m *Message) (*Message, error) {
	env, body, err := PeelEnvelope(m)
	if err != nil {
		return nil, err
	}
	reply := Dispatch(ctx, tbl, h, body)
	return ReattachEnvelope(env, reply), nil
}

// HandleRaw dispatches m directly with no envelope — the raw-socket
// entry point from spec §4.4.
func HandleRaw(ctx context.Context, tbl *dispatch.Table, h *llio.Handle, m *Message) *Message {
	return Dispatch(ctx, tbl, h, m).ToMessage()
}
