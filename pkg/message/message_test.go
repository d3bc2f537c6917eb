package message

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnls-bpm/bpm-core/pkg/errs"
)

func TestWireRoundTrip(t *testing.T) {
	m := New([]byte{1}, []byte("hello"), []byte{})
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Len(t, got.Frames, 3)
	assert.Equal(t, []byte{1}, got.Frames[0])
	assert.Equal(t, []byte("hello"), got.Frames[1])
	assert.Equal(t, []byte{}, got.Frames[2])
}

func TestReadMessageRejectsOversizeFrameCount(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, errs.ErrProtocolMalformed)
}

func TestReplyRoundTrip(t *testing.T) {
	r := &Reply{Err: errs.OK, Payload: []byte{9, 9}}
	m := r.ToMessage()
	got, err := ReplyFromMessage(m)
	require.NoError(t, err)
	assert.Equal(t, r.Err, got.Err)
	assert.Equal(t, r.Payload, got.Payload)
}

func TestReplyRoundTripNoPayload(t *testing.T) {
	r := &Reply{Err: errs.ErrBusy}
	m := r.ToMessage()
	got, err := ReplyFromMessage(m)
	require.NoError(t, err)
	assert.Equal(t, errs.ErrBusy, got.Err)
	assert.Nil(t, got.Payload)
}
