package acquisition

import (
	"encoding/binary"
	"time"

	"github.com/lnls-bpm/bpm-core/pkg/errs"
	"github.com/lnls-bpm/bpm-core/pkg/message"
)

// RequestFunc sends one EXP_ZMQ request and returns its decoded
// reply. A *broker.Client bound to one service name provides one
// through AdaptRaw; it is kept abstract here so this package does not
// depend on the broker transport directly.
type RequestFunc func(body *message.Message) (*message.Reply, error)

// RawRequestFunc is the shape of broker.Client.Request bound to one
// service name: it returns the undecoded wire reply.
type RawRequestFunc func(body *message.Message) (*message.Message, error)

// AdaptRaw wraps a RawRequestFunc (e.g. a *broker.Client.Request
// closure) into the decoded RequestFunc FetchCurve expects.
func AdaptRaw(raw RawRequestFunc) RequestFunc {
	return func(body *message.Message) (*message.Reply, error) {
		m, err := raw(body)
		if err != nil {
			return nil, err
		}
		return message.ReplyFromMessage(m)
	}
}

func u32Frame(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// FetchCurve composes the three sub-protocol calls into the
// client-side helper from spec §4.5: arm, poll with bounded backoff
// until completion or deadline, then assemble blocks into buf.
// cancel, if non-nil, is checked between every blocking step and
// aborts the loop early with errs.ErrInterrupted (the process-global
// cancellation flag from spec §5).
func FetchCurve(req RequestFunc, op Opcodes, channel uint32, numSamples uint32, sampleSize int, buf []byte, pollInterval, deadline time.Duration, cancel <-chan struct{}) (int, error) {
	armReply, err := req(message.NewExpRequest(op.DataAcquire, u32Frame(channel), u32Frame(numSamples)))
	if err != nil {
		return 0, err
	}
	if armReply.Err != errs.OK {
		return 0, armReply.Err
	}

	deadlineAt := time.Now().Add(deadline)
	for {
		if cancelled(cancel) {
			return 0, errs.ErrInterrupted
		}
		checkReply, err := req(message.NewExpRequest(op.CheckDataAcquire, u32Frame(channel)))
		if err != nil {
			return 0, err
		}
		if checkReply.Err == errs.OK {
			break
		}
		if checkReply.Err != errs.ErrAgain {
			return 0, checkReply.Err
		}
		if deadline >= 0 && time.Now().After(deadlineAt) {
			return 0, errs.ErrTimeout
		}
		time.Sleep(pollInterval)
	}

	blockN := BlockCount(numSamples, sampleSize)
	assembled := 0
	for blockIdx := uint32(0); blockIdx < blockN; blockIdx++ {
		if cancelled(cancel) {
			return assembled, errs.ErrInterrupted
		}
		remaining := len(buf) - assembled
		if remaining <= 0 {
			break
		}
		blockReply, err := req(message.NewExpRequest(op.GetDataBlock, u32Frame(channel), u32Frame(blockIdx)))
		if err != nil {
			return assembled, err
		}
		if blockReply.Err != errs.OK {
			return assembled, blockReply.Err
		}
		n := len(blockReply.Payload)
		if n > remaining {
			n = remaining
		}
		copy(buf[assembled:], blockReply.Payload[:n])
		assembled += n
	}
	return assembled, nil
}

func cancelled(cancel <-chan struct{}) bool {
	if cancel == nil {
		return false
	}
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}
