package llio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackUnpackOffset(t *testing.T) {
	o := PackOffset(Bar4, 0x10)
	assert.Equal(t, Bar4, o.Bar())
	assert.Equal(t, uint32(0x10), o.IntraBar())
}

func TestValidBar(t *testing.T) {
	assert.True(t, ValidBar(Bar0))
	assert.True(t, ValidBar(Bar2))
	assert.True(t, ValidBar(Bar4))
	assert.False(t, ValidBar(1))
	assert.False(t, ValidBar(3))
}

func TestOffsetS1Scenario(t *testing.T) {
	// spec.md S1: offs = 0x4000_0010 decodes to BAR4, page 0, offset 0x10.
	o := Offset(0x40000010)
	assert.Equal(t, Bar4, o.Bar())
	assert.Equal(t, uint32(0x10), o.IntraBar())
}
