// Package simulated provides an in-memory model [llio.Backend] used
// by property tests and by local acquisition demos that have no real
// FPGA behind them. It plays the same role in this tree that the
// "virtual" loopback bus transport plays for the message layer: a
// second implementation of the same interface, built for determinism
// rather than throughput.
//
// It deliberately has no BAR windowing and no timeout-sentinel
// behavior of its own: that sub-protocol is specific to the PCIe
// backend's mmap access path and is exercised there through its
// injectable raw-read/reset/sleep hooks (see pkg/llio/pcie), not by
// faking a second llio.Backend implementation.
package simulated

import (
	"encoding/binary"

	"github.com/lnls-bpm/bpm-core/pkg/endpoint"
	"github.com/lnls-bpm/bpm-core/pkg/errs"
	"github.com/lnls-bpm/bpm-core/pkg/llio"
)

const bar0Size = 0x1000

// Backend is a flat byte-array model of the three BARs: each is
// addressed directly by Offset.IntraBar(), with no page indirection.
type Backend struct {
	llio.UnimplementedDMA

	opened bool
	bar0   []byte
	bar2   []byte
	bar4   []byte
}

// New builds a simulated Backend with the given per-window sizes in
// bytes for BAR2 (SDRAM) and BAR4 (Wishbone).
func New(bar2Size, bar4Size int) *Backend {
	return &Backend{
		bar0: make([]byte, bar0Size),
		bar2: make([]byte, bar2Size),
		bar4: make([]byte, bar4Size),
	}
}

func (b *Backend) Open(ep *endpoint.Endpoint) error {
	b.opened = true
	return nil
}

func (b *Backend) Release() error {
	b.opened = false
	return nil
}

func (b *Backend) window(bar uint8) ([]byte, error) {
	switch bar {
	case llio.Bar0:
		return b.bar0, nil
	case llio.Bar2:
		return b.bar2, nil
	case llio.Bar4:
		return b.bar4, nil
	default:
		return nil, errs.ErrBadArgument
	}
}

func (b *Backend) resolve(offs llio.Offset, size int) ([]byte, uint32, error) {
	if !b.opened {
		return nil, 0, errs.ErrClosedEndpoint
	}
	mem, err := b.window(offs.Bar())
	if err != nil {
		return nil, 0, err
	}
	off := offs.IntraBar()
	if int(off)+size > len(mem) {
		return nil, 0, errs.ErrBadArgument
	}
	return mem, off, nil
}

func (b *Backend) Read16(offs llio.Offset) (uint16, error) {
	mem, off, err := b.resolve(offs, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(mem[off:]), nil
}

func (b *Backend) Write16(offs llio.Offset, v uint16) error {
	mem, off, err := b.resolve(offs, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(mem[off:], v)
	return nil
}

func (b *Backend) Read32(offs llio.Offset) (uint32, error) {
	mem, off, err := b.resolve(offs, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(mem[off:]), nil
}

func (b *Backend) Write32(offs llio.Offset, v uint32) error {
	mem, off, err := b.resolve(offs, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(mem[off:], v)
	return nil
}

func (b *Backend) Read64(offs llio.Offset) (uint64, error) {
	mem, off, err := b.resolve(offs, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(mem[off:]), nil
}

func (b *Backend) Write64(offs llio.Offset, v uint64) error {
	mem, off, err := b.resolve(offs, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(mem[off:], v)
	return nil
}

func (b *Backend) ReadBlock(offs llio.Offset, buf []byte) (int, error) {
	mem, off, err := b.resolve(offs, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, mem[off:int(off)+len(buf)]), nil
}

func (b *Backend) WriteBlock(offs llio.Offset, buf []byte) (int, error) {
	mem, off, err := b.resolve(offs, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(mem[off:int(off)+len(buf)], buf), nil
}

var _ llio.Backend = (*Backend)(nil)
var _ llio.DMACapable = (*Backend)(nil)
