// Package llio is the polymorphic register-access layer above a
// physical transport. An LLIO [Handle] owns exactly one [endpoint.Endpoint]
// and one [Backend]; closing the handle releases both.
//
// The backend is selected at construction time and exposed behind a
// single interface rather than a hand-rolled vtable of function
// pointers: callers never see which concrete transport (PCIe, the
// in-memory simulator, ...) they are talking to.
package llio

import (
	"log/slog"
	"sync"

	"github.com/lnls-bpm/bpm-core/pkg/endpoint"
	"github.com/lnls-bpm/bpm-core/pkg/errs"
)

// Offset packs a BAR selector into the top 4 bits and an intra-BAR
// byte offset into the remaining 28 bits, per the wire address
// encoding in the spec: "4 top bits = BAR selector, remainder =
// intra-BAR byte offset".
type Offset uint32

const (
	barShift = 28
	barBits  = 0xF
	addrMask = (1 << barShift) - 1
)

// BAR selector values. Only these three are valid.
const (
	Bar0 uint8 = 0
	Bar2 uint8 = 2
	Bar4 uint8 = 4
)

// PackOffset builds an [Offset] from a BAR selector and an intra-BAR
// byte offset. The intra-BAR offset is masked to 28 bits; callers that
// need the discarded high bits have a bug, not a hardware limitation.
func PackOffset(bar uint8, intraBar uint32) Offset {
	return Offset(uint32(bar&barBits)<<barShift | (intraBar & addrMask))
}

// Bar returns the BAR selector encoded in the offset.
func (o Offset) Bar() uint8 { return uint8(o>>barShift) & barBits }

// IntraBar returns the byte offset inside the selected BAR.
func (o Offset) IntraBar() uint32 { return uint32(o) & addrMask }

// ValidBar reports whether bar is one of the three wired BARs.
func ValidBar(bar uint8) bool { return bar == Bar0 || bar == Bar2 || bar == Bar4 }

// Backend is implemented by each concrete transport (PCIe, the
// in-memory simulator used in tests, ...). Backends never retry
// above the word-access methods: only ReadBlock may encounter the
// hardware-timeout sentinel and retry internally.
type Backend interface {
	Open(ep *endpoint.Endpoint) error
	Release() error

	Read16(offs Offset) (uint16, error)
	Write16(offs Offset, v uint16) error
	Read32(offs Offset) (uint32, error)
	Write32(offs Offset, v uint32) error
	Read64(offs Offset) (uint64, error)
	Write64(offs Offset, v uint64) error

	ReadBlock(offs Offset, buf []byte) (int, error)
	WriteBlock(offs Offset, buf []byte) (int, error)
}

// DMACapable is implemented by backends that support DMA block
// transfers in addition to the PIO block methods on [Backend]. It is
// optional: embed [UnimplementedDMA] to satisfy it trivially.
type DMACapable interface {
	ReadBlockDMA(offs Offset, buf []byte) (int, error)
	WriteBlockDMA(offs Offset, buf []byte) (int, error)
}

// UnimplementedDMA can be embedded by a [Backend] that has no DMA
// path, satisfying [DMACapable] with a uniform "not supported" error
// rather than requiring every backend to hand-write the same stub.
type UnimplementedDMA struct{}

func (UnimplementedDMA) ReadBlockDMA(Offset, []byte) (int, error) {
	return 0, errs.ErrNotSupported
}

func (UnimplementedDMA) WriteBlockDMA(Offset, []byte) (int, error) {
	return 0, errs.ErrNotSupported
}

// Handle is the polymorphic register-access object: one Endpoint, one
// Backend, exclusively owned. At most one goroutine drives a Handle at
// a time within a single SMIO worker (the concurrency model is
// single-threaded cooperative per spec §5), but the mutex below makes
// Release safe to call from a signal-driven shutdown path concurrently
// with an in-flight request.
type Handle struct {
	logger  *slog.Logger
	mu      sync.Mutex
	ep      *endpoint.Endpoint
	backend Backend
	closed  bool
}

// New builds a Handle around an already-constructed Endpoint and
// Backend. The handle does not open anything until Open is called.
func New(ep *endpoint.Endpoint, backend Backend, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{
		logger:  logger.With("component", "llio", "endpoint", ep.String()),
		ep:      ep,
		backend: backend,
	}
}

// Endpoint returns the handle's endpoint.
func (h *Handle) Endpoint() *endpoint.Endpoint { return h.ep }

// Backend returns the handle's concrete backend, for callers that need
// to type-assert to a richer interface such as [DMACapable].
func (h *Handle) Backend() Backend { return h.backend }

// Open is idempotent: opening an already-open handle is a no-op.
func (h *Handle) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ep.Opened() {
		return nil
	}
	if err := h.backend.Open(h.ep); err != nil {
		h.logger.Error("open failed", "err", err)
		return err
	}
	h.ep.SetOpened(true)
	h.logger.Info("opened")
	return nil
}

// Release marks the endpoint closed and releases backend mappings.
// Double-release is a no-op, matching the contract in spec §4.1.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if !h.ep.Opened() {
		return nil
	}
	err := h.backend.Release()
	h.ep.SetOpened(false)
	h.logger.Info("released")
	return err
}

func (h *Handle) checkOpen() error {
	if h.closed || !h.ep.Opened() {
		return errs.ErrClosedEndpoint
	}
	return nil
}

func (h *Handle) Read16(offs Offset) (uint16, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	return h.backend.Read16(offs)
}

func (h *Handle) Write16(offs Offset, v uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(); err != nil {
		return err
	}
	return h.backend.Write16(offs, v)
}

func (h *Handle) Read32(offs Offset) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	return h.backend.Read32(offs)
}

func (h *Handle) Write32(offs Offset, v uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(); err != nil {
		return err
	}
	return h.backend.Write32(offs, v)
}

func (h *Handle) Read64(offs Offset) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	return h.backend.Read64(offs)
}

func (h *Handle) Write64(offs Offset, v uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(); err != nil {
		return err
	}
	return h.backend.Write64(offs, v)
}

func (h *Handle) ReadBlock(offs Offset, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	return h.backend.ReadBlock(offs, buf)
}

func (h *Handle) WriteBlock(offs Offset, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	return h.backend.WriteBlock(offs, buf)
}
