package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEndpointClosed(t *testing.T) {
	e := New(KindPCIe, "/dev/fpga0")
	assert.False(t, e.Opened())
	assert.Equal(t, KindPCIe, e.Kind())
	assert.Equal(t, "/dev/fpga0", e.Name())
	assert.Equal(t, "pcie:/dev/fpga0", e.String())
}

func TestSetOpened(t *testing.T) {
	e := New(KindEth, "10.0.0.1:5000")
	e.SetOpened(true)
	assert.True(t, e.Opened())
	e.SetOpened(false)
	assert.False(t, e.Opened())
}
