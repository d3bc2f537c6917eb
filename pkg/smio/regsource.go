package smio

import (
	"sync"

	"github.com/lnls-bpm/bpm-core/pkg/acquisition"
	"github.com/lnls-bpm/bpm-core/pkg/errs"
	"github.com/lnls-bpm/bpm-core/pkg/llio"
)

// Register layout for the acquisition control block on BAR0 and the
// curve storage on BAR2, one bank per channel. Channel numbering and
// bank size are local to this FPGA image; a different board would
// wire a different RegisterSource with the same acquisition.Source
// shape.
const (
	channelBankStride        = 0x10
	regArmNumSamples         = 0x00 // write: arms the channel
	regStatus                = 0x04 // read: bit0 set once the acquisition completes
	curveBankStride          = 1 << 20
	curveBase         uint32 = 0
)

// RegisterSource drives the data-acquisition sub-protocol directly
// against LLIO registers, grounded on the PCIe backend's BAR/offset
// addressing (pkg/llio.Offset, PackOffset).
type RegisterSource struct {
	h          *llio.Handle
	sampleSize int // bytes per sample, uniform across channels on this FPGA image

	mu     sync.Mutex
	armed  map[uint32]uint32 // channel -> numSamples, while in flight
	blockN map[uint32]uint32 // channel -> valid block count of the curve currently armed/completed
}

// NewRegisterSource builds a Source bound to h. sampleSize is the
// per-sample byte width this FPGA image produces, used to bound
// get_data_block against the curve's actual length (spec §4.5 item 3:
// blocks past the end of the curve are an error, not a short read).
func NewRegisterSource(h *llio.Handle, sampleSize int) *RegisterSource {
	return &RegisterSource{
		h:          h,
		sampleSize: sampleSize,
		armed:      map[uint32]uint32{},
		blockN:     map[uint32]uint32{},
	}
}

func (s *RegisterSource) controlOffset(channel uint32, reg uint32) llio.Offset {
	return llio.PackOffset(llio.Bar0, channel*channelBankStride+reg)
}

func (s *RegisterSource) dataOffset(channel, blockIdx uint32) llio.Offset {
	return llio.PackOffset(llio.Bar2, curveBase+channel*curveBankStride+blockIdx*acquisition.BlockSize)
}

// Arm implements acquisition.Source.
func (s *RegisterSource) Arm(channel uint32, numSamples uint32) error {
	s.mu.Lock()
	if _, inFlight := s.armed[channel]; inFlight {
		s.mu.Unlock()
		return errs.ErrBusy
	}
	s.armed[channel] = numSamples
	s.blockN[channel] = acquisition.BlockCount(numSamples, s.sampleSize)
	s.mu.Unlock()

	return s.h.Write32(s.controlOffset(channel, regArmNumSamples), numSamples)
}

// Complete implements acquisition.Source.
func (s *RegisterSource) Complete(channel uint32) bool {
	status, err := s.h.Read32(s.controlOffset(channel, regStatus))
	if err != nil {
		return false
	}
	done := status&0x1 != 0
	if done {
		s.mu.Lock()
		delete(s.armed, channel)
		s.mu.Unlock()
	}
	return done
}

// ReadBlock implements acquisition.Source. blockIdx past the end of
// the curve armed by the most recent Arm call returns
// errs.ErrBlockOutOfRange, per spec §4.5 item 3.
func (s *RegisterSource) ReadBlock(channel uint32, blockIdx uint32, buf []byte) (int, error) {
	s.mu.Lock()
	blockN, ok := s.blockN[channel]
	s.mu.Unlock()
	if !ok || blockIdx >= blockN {
		return 0, errs.ErrBlockOutOfRange
	}

	n, err := s.h.ReadBlock(s.dataOffset(channel, blockIdx), buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}
