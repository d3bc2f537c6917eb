// Package acquisition implements the data-acquisition sub-protocol
// exposed by acquisition-capable SMIOs: arm, poll, and fetch a
// completed curve in fixed-size blocks, per spec §4.5.
package acquisition

import (
	"context"
	"encoding/binary"

	"github.com/lnls-bpm/bpm-core/pkg/dispatch"
	"github.com/lnls-bpm/bpm-core/pkg/errs"
)

// BlockSize is the fixed transfer unit get_data_block returns at most
// of, per spec §4.5/§8 scenario S5.
const BlockSize = 4096

// Source is the hardware-facing side of the sub-protocol: whatever
// drives the actual acquisition (typically an LLIO-backed FPGA
// control register set) implements this so the dispatch handlers in
// this package stay hardware-agnostic and testable against a fake.
type Source interface {
	// Arm starts an acquisition of numSamples samples on channel.
	// Returns errs.ErrBusy if an acquisition is already in flight on
	// this channel.
	Arm(channel uint32, numSamples uint32) error
	// Complete reports whether the most recent acquisition on channel
	// has finished.
	Complete(channel uint32) bool
	// ReadBlock copies up to len(buf) bytes of block blockIdx of the
	// completed curve on channel into buf, returning the number of
	// valid bytes. Returns errs.ErrBlockOutOfRange past the end of the
	// curve.
	ReadBlock(channel uint32, blockIdx uint32, buf []byte) (int, error)
}

// Opcodes names the three dispatch opcodes an acquisition-capable
// SMIO exports.
type Opcodes struct {
	DataAcquire      dispatch.Opcode
	CheckDataAcquire dispatch.Opcode
	GetDataBlock     dispatch.Opcode
}

func decodeU32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// RegisterHandlers wires data_acquire, check_data_acquire and
// get_data_block onto tbl against src.
func RegisterHandlers(tbl *dispatch.Table, src Source, op Opcodes) error {
	if err := tbl.Register(dispatch.Descriptor{
		Name:   "data_acquire",
		Opcode: op.DataAcquire,
		Args:   []dispatch.Kind{dispatch.KindUint32, dispatch.KindUint32},
		Return: dispatch.KindEnd,
		Handler: func(ctx context.Context, args [][]byte) ([]byte, error) {
			channel := decodeU32(args[0])
			numSamples := decodeU32(args[1])
			return nil, src.Arm(channel, numSamples)
		},
	}); err != nil {
		return err
	}

	if err := tbl.Register(dispatch.Descriptor{
		Name:   "check_data_acquire",
		Opcode: op.CheckDataAcquire,
		Args:   []dispatch.Kind{dispatch.KindUint32},
		Return: dispatch.KindEnd,
		Handler: func(ctx context.Context, args [][]byte) ([]byte, error) {
			channel := decodeU32(args[0])
			if !src.Complete(channel) {
				return nil, errs.ErrAgain
			}
			return nil, nil
		},
	}); err != nil {
		return err
	}

	return tbl.Register(dispatch.Descriptor{
		Name:        "get_data_block",
		Opcode:      op.GetDataBlock,
		Args:        []dispatch.Kind{dispatch.KindUint32, dispatch.KindUint32},
		Return:      dispatch.KindRawBlob,
		ReturnOwner: dispatch.ReturnOwnerCaller,
		Handler: func(ctx context.Context, args [][]byte) ([]byte, error) {
			channel := decodeU32(args[0])
			blockIdx := decodeU32(args[1])
			buf := make([]byte, BlockSize)
			n, err := src.ReadBlock(channel, blockIdx, buf)
			if err != nil {
				return nil, err
			}
			return buf[:n], nil
		},
	})
}

// BlockCount computes how many BlockSize-sized blocks cover
// numSamples*sampleSize bytes, clamping the trailing block: a curve
// whose length is an exact multiple of BlockSize does not request a
// further, empty block (Open Question resolution, spec §9).
func BlockCount(numSamples uint32, sampleSize int) uint32 {
	total := uint64(numSamples) * uint64(sampleSize)
	n := total / BlockSize
	if total%BlockSize != 0 {
		n++
	}
	return uint32(n)
}
