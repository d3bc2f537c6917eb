package simulated_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnls-bpm/bpm-core/pkg/endpoint"
	"github.com/lnls-bpm/bpm-core/pkg/errs"
	"github.com/lnls-bpm/bpm-core/pkg/llio"
	"github.com/lnls-bpm/bpm-core/pkg/llio/simulated"
)

func TestClosedHandleReturnsClosedEndpoint(t *testing.T) {
	ep := endpoint.New(endpoint.KindPCIe, "/dev/fake0")
	h := llio.New(ep, simulated.New(0x1000, 0x1000), nil)

	_, err := h.Read32(llio.PackOffset(llio.Bar2, 0))
	assert.Equal(t, errs.ErrClosedEndpoint, err)

	_, err = h.ReadBlock(llio.PackOffset(llio.Bar4, 0), make([]byte, 4))
	assert.Equal(t, errs.ErrClosedEndpoint, err)
}

func TestWordRoundTrip(t *testing.T) {
	ep := endpoint.New(endpoint.KindPCIe, "/dev/fake0")
	h := llio.New(ep, simulated.New(0x1000, 0x1000), nil)
	require.NoError(t, h.Open())
	defer h.Release()

	off := llio.PackOffset(llio.Bar4, 0x10)
	require.NoError(t, h.Write32(off, 0xDEADBEEF))
	v, err := h.Read32(off)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v)
}

func TestBlockRoundTrip(t *testing.T) {
	ep := endpoint.New(endpoint.KindPCIe, "/dev/fake0")
	h := llio.New(ep, simulated.New(0x1000, 0x1000), nil)
	require.NoError(t, h.Open())
	defer h.Release()

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	off := llio.PackOffset(llio.Bar2, 0x40)
	n, err := h.WriteBlock(off, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	out := make([]byte, len(data))
	n, err = h.ReadBlock(off, out)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, out)
}

func TestDoubleReleaseIsNoOp(t *testing.T) {
	ep := endpoint.New(endpoint.KindPCIe, "/dev/fake0")
	h := llio.New(ep, simulated.New(0x100, 0x100), nil)
	require.NoError(t, h.Open())
	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
}

func TestReopenIsIdempotent(t *testing.T) {
	ep := endpoint.New(endpoint.KindPCIe, "/dev/fake0")
	h := llio.New(ep, simulated.New(0x100, 0x100), nil)
	require.NoError(t, h.Open())
	require.NoError(t, h.Open())
	assert.True(t, ep.Opened())
}
