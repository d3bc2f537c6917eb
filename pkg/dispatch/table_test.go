package dispatch

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnls-bpm/bpm-core/pkg/errs"
)

func u32Frame(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// s4Descriptor builds the spec's S4 scenario: opcode 7, args [u32,
// u32], return u32.
func s4Descriptor() Descriptor {
	return Descriptor{
		Name:   "add",
		Opcode: 7,
		Args:   []Kind{KindUint32, KindUint32},
		Return: KindUint32,
		Handler: func(ctx context.Context, args [][]byte) ([]byte, error) {
			a := binary.LittleEndian.Uint32(args[0])
			b := binary.LittleEndian.Uint32(args[1])
			return u32Frame(a + b), nil
		},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(s4Descriptor()))

	d, ok := tbl.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, "add", d.Name)

	d, ok = tbl.LookupByName("add")
	require.True(t, ok)
	assert.Equal(t, Opcode(7), d.Opcode)

	_, ok = tbl.Lookup(99)
	assert.False(t, ok)
}

func TestRegisterRejectsDuplicateOpcode(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(s4Descriptor()))
	dup := s4Descriptor()
	dup.Name = "add2"
	assert.Error(t, tbl.Register(dup))
}

func TestRegisterRejectsOpcodeOutOfRange(t *testing.T) {
	tbl := NewTable()
	d := s4Descriptor()
	d.Opcode = MaxOpcode + 1
	assert.Error(t, tbl.Register(d))
}

func TestS4CorrectArgsDispatch(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(s4Descriptor()))

	d, ok := tbl.Lookup(7)
	require.True(t, ok)

	args := [][]byte{u32Frame(2), u32Frame(40)}
	require.NoError(t, d.ValidateArgFrames(args))

	out, err := d.Handler(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(out))
}

func TestS4WrongArityRejected(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(s4Descriptor()))
	d, _ := tbl.Lookup(7)

	err := d.ValidateArgFrames([][]byte{u32Frame(1)})
	assert.Equal(t, errs.ErrWrongArgs, err)
}

func TestS4WrongFrameSizeRejected(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(s4Descriptor()))
	d, _ := tbl.Lookup(7)

	err := d.ValidateArgFrames([][]byte{u32Frame(1), {0, 0}})
	assert.Equal(t, errs.ErrWrongArgs, err)
}

func TestValidateArgFramesAcceptsRawBlobAnySize(t *testing.T) {
	d := Descriptor{Name: "blob", Opcode: 1, Args: []Kind{KindUint32, KindRawBlob}}
	assert.NoError(t, d.ValidateArgFrames([][]byte{u32Frame(1), make([]byte, 123)}))
	assert.NoError(t, d.ValidateArgFrames([][]byte{u32Frame(1), nil}))
}
