package acquisition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnls-bpm/bpm-core/pkg/dispatch"
	"github.com/lnls-bpm/bpm-core/pkg/errs"
	"github.com/lnls-bpm/bpm-core/pkg/message"
)

// fakeSource is a deterministic in-memory acquisition model: Arm
// "completes" immediately (checksUntilReady controls how many
// check_data_acquire polls return AGAIN before OK), and ReadBlock
// serves from a precomputed curve.
type fakeSource struct {
	mu                sync.Mutex
	curve             []byte
	armed             bool
	checksUntilReady  int
	checksObserved    int
	lastArmedChannel  uint32
	lastArmedNSamples uint32
}

func (f *fakeSource) Arm(channel uint32, numSamples uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed {
		return errs.ErrBusy
	}
	f.armed = true
	f.lastArmedChannel = channel
	f.lastArmedNSamples = numSamples
	return nil
}

func (f *fakeSource) Complete(channel uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checksObserved++
	return f.checksObserved > f.checksUntilReady
}

func (f *fakeSource) ReadBlock(channel uint32, blockIdx uint32, buf []byte) (int, error) {
	start := int(blockIdx) * BlockSize
	if start >= len(f.curve) {
		return 0, errs.ErrBlockOutOfRange
	}
	end := start + BlockSize
	if end > len(f.curve) {
		end = len(f.curve)
	}
	return copy(buf, f.curve[start:end]), nil
}

func opcodes() Opcodes {
	return Opcodes{DataAcquire: 1, CheckDataAcquire: 2, GetDataBlock: 3}
}

func directRequester(tbl *dispatch.Table) RequestFunc {
	return func(body *message.Message) (*message.Reply, error) {
		reply := message.Dispatch(context.Background(), tbl, nil, body)
		return reply, nil
	}
}

func TestBlockCountS5Scenario(t *testing.T) {
	// S5: num_samples=1024, sample_size=16, BLOCK_SIZE=4096 -> 4 blocks, 16384 bytes.
	assert.Equal(t, uint32(4), BlockCount(1024, 16))
}

func TestBlockCountClampsExactMultiple(t *testing.T) {
	assert.Equal(t, uint32(1), BlockCount(256, 16)) // exactly 4096 bytes
}

func TestBlockCountRoundsUpPartialBlock(t *testing.T) {
	assert.Equal(t, uint32(2), BlockCount(257, 16)) // 4112 bytes -> 2 blocks
}

func TestFetchCurveS5EndToEnd(t *testing.T) {
	curve := make([]byte, 1024*16)
	for i := range curve {
		curve[i] = byte(i)
	}
	src := &fakeSource{curve: curve}
	tbl := dispatch.NewTable()
	require.NoError(t, RegisterHandlers(tbl, src, opcodes()))

	buf := make([]byte, len(curve))
	n, err := FetchCurve(directRequester(tbl), opcodes(), 0, 1024, 16, buf, time.Millisecond, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, 16384, n)
	assert.Equal(t, curve, buf)
}

func TestFetchCurvePollsThroughAgain(t *testing.T) {
	curve := make([]byte, 16)
	src := &fakeSource{curve: curve, checksUntilReady: 3}
	tbl := dispatch.NewTable()
	require.NoError(t, RegisterHandlers(tbl, src, opcodes()))

	buf := make([]byte, 16)
	n, err := FetchCurve(directRequester(tbl), opcodes(), 0, 1, 16, buf, time.Millisecond, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

func TestFetchCurveBusyOnDoubleArm(t *testing.T) {
	src := &fakeSource{curve: make([]byte, 16), armed: true}
	tbl := dispatch.NewTable()
	require.NoError(t, RegisterHandlers(tbl, src, opcodes()))

	_, err := FetchCurve(directRequester(tbl), opcodes(), 0, 1, 16, make([]byte, 16), time.Millisecond, time.Second, nil)
	assert.Equal(t, errs.ErrBusy, err)
}

func TestFetchCurveTruncatesToCallerBuffer(t *testing.T) {
	curve := make([]byte, 16)
	for i := range curve {
		curve[i] = byte(i + 1)
	}
	src := &fakeSource{curve: curve}
	tbl := dispatch.NewTable()
	require.NoError(t, RegisterHandlers(tbl, src, opcodes()))

	buf := make([]byte, 4)
	n, err := FetchCurve(directRequester(tbl), opcodes(), 0, 1, 16, buf, time.Millisecond, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, curve[:4], buf)
}

func TestFetchCurveCancellation(t *testing.T) {
	src := &fakeSource{curve: make([]byte, 16), checksUntilReady: 1000}
	tbl := dispatch.NewTable()
	require.NoError(t, RegisterHandlers(tbl, src, opcodes()))

	cancel := make(chan struct{})
	close(cancel)
	_, err := FetchCurve(directRequester(tbl), opcodes(), 0, 1, 16, make([]byte, 16), time.Millisecond, time.Second, cancel)
	assert.Equal(t, errs.ErrInterrupted, err)
}

func TestGetDataBlockOutOfRange(t *testing.T) {
	src := &fakeSource{curve: make([]byte, 16)}
	tbl := dispatch.NewTable()
	require.NoError(t, RegisterHandlers(tbl, src, opcodes()))
	require.NoError(t, src.Arm(0, 1))

	d, ok := tbl.Lookup(opcodes().GetDataBlock)
	require.True(t, ok)
	out, err := d.Handler(context.Background(), [][]byte{u32Frame(0), u32Frame(99)})
	assert.Nil(t, out)
	assert.Equal(t, errs.ErrBlockOutOfRange, err)
}
