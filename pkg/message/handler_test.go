package message

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnls-bpm/bpm-core/pkg/dispatch"
	"github.com/lnls-bpm/bpm-core/pkg/endpoint"
	"github.com/lnls-bpm/bpm-core/pkg/errs"
	"github.com/lnls-bpm/bpm-core/pkg/llio"
	"github.com/lnls-bpm/bpm-core/pkg/llio/simulated"
)

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func addTable(t *testing.T) *dispatch.Table {
	tbl := dispatch.NewTable()
	require.NoError(t, tbl.Register(dispatch.Descriptor{
		Name:        "add",
		Opcode:      7,
		Args:        []dispatch.Kind{dispatch.KindUint32, dispatch.KindUint32},
		Return:      dispatch.KindUint32,
		ReturnOwner: dispatch.ReturnOwnerCaller,
		Handler: func(ctx context.Context, args [][]byte) ([]byte, error) {
			a := binary.LittleEndian.Uint32(args[0])
			b := binary.LittleEndian.Uint32(args[1])
			return u32(a + b), nil
		},
	}))
	return tbl
}

func TestClassifyUnknownTag(t *testing.T) {
	_, err := Classify(New([]byte{0x99}))
	assert.Equal(t, errs.ErrNotSupported, err)
}

func TestClassifyEmptyMessage(t *testing.T) {
	_, err := Classify(New())
	assert.Equal(t, errs.ErrNotSupported, err)
}

func TestDispatchExpS4CorrectArgs(t *testing.T) {
	tbl := addTable(t)
	req := NewExpRequest(7, u32(2), u32(40))
	reply := Dispatch(context.Background(), tbl, nil, req)
	require.Equal(t, errs.OK, reply.Err)
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(reply.Payload))
}

func TestDispatchExpS4WrongArgs(t *testing.T) {
	tbl := addTable(t)
	req := NewExpRequest(7, u32(2))
	reply := Dispatch(context.Background(), tbl, nil, req)
	assert.Equal(t, errs.ErrWrongArgs, reply.Err)
}

func TestDispatchExpUnknownOpcode(t *testing.T) {
	tbl := addTable(t)
	req := NewExpRequest(999, u32(1), u32(2))
	reply := Dispatch(context.Background(), tbl, nil, req)
	assert.Equal(t, errs.ErrUnknownOpcode, reply.Err)
}

func newTestHandle(t *testing.T) *llio.Handle {
	ep := endpoint.New(endpoint.KindPCIe, "/dev/fake0")
	h := llio.New(ep, simulated.New(0x1000, 0x1000), nil)
	require.NoError(t, h.Open())
	return h
}

func TestDispatchRawWordRoundTrip(t *testing.T) {
	tbl := dispatch.NewTable()
	h := newTestHandle(t)
	off := llio.PackOffset(llio.Bar4, 0x10)

	writeMsg := NewRawRequest(RawOpWrite32, off, u32(0xDEADBEEF))
	reply := Dispatch(context.Background(), tbl, h, writeMsg)
	require.Equal(t, errs.OK, reply.Err)

	readMsg := NewRawRequest(RawOpRead32, off, nil)
	reply = Dispatch(context.Background(), tbl, h, readMsg)
	require.Equal(t, errs.OK, reply.Err)
	assert.Equal(t, uint32(0xDEADBEEF), binary.LittleEndian.Uint32(reply.Payload))
}

func TestDispatchRawBlockRoundTrip(t *testing.T) {
	tbl := dispatch.NewTable()
	h := newTestHandle(t)
	off := llio.PackOffset(llio.Bar2, 0x40)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	writeMsg := NewRawRequest(RawOpWriteBlock, off, data)
	reply := Dispatch(context.Background(), tbl, h, writeMsg)
	require.Equal(t, errs.OK, reply.Err)
	assert.Equal(t, uint32(len(data)), binary.LittleEndian.Uint32(reply.Payload))

	readMsg := NewRawRequest(RawOpReadBlock, off, make([]byte, len(data)))
	reply = Dispatch(context.Background(), tbl, h, readMsg)
	require.Equal(t, errs.OK, reply.Err)
	assert.Equal(t, data, reply.Payload)
}

func TestBrokerRoutedEnvelopeRoundTrip(t *testing.T) {
	tbl := addTable(t)
	env := []byte("client-42")
	body := NewExpRequest(7, u32(10), u32(20))
	routed := New(append([][]byte{env}, body.Frames...)...)

	reply, err := HandleBrokerRouted(context.Background(), tbl, nil, routed)
	require.NoError(t, err)
	require.Equal(t, env, reply.Frames[0])

	parsed, err := ReplyFromMessage(&Message{Frames: reply.Frames[1:]})
	require.NoError(t, err)
	assert.Equal(t, errs.OK, parsed.Err)
	assert.Equal(t, uint32(30), binary.LittleEndian.Uint32(parsed.Payload))
}

func TestHandleRawUnrecognizedFraming(t *testing.T) {
	tbl := dispatch.NewTable()
	reply := HandleRaw(context.Background(), tbl, nil, New())
	parsed, err := ReplyFromMessage(reply)
	require.NoError(t, err)
	assert.Equal(t, errs.ErrNotSupported, parsed.Err)
	assert.Nil(t, parsed.Payload)
}
