package dispatch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogueExportImportRoundTrip(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(s4Descriptor()))
	require.NoError(t, tbl.Register(Descriptor{
		Name:        "set_gain",
		Opcode:      12,
		Args:        []Kind{KindDouble, KindRawBlob},
		Return:      KindEnd,
		ReturnOwner: ReturnOwnerCaller,
	}))

	var buf bytes.Buffer
	require.NoError(t, tbl.ExportCatalogue(&buf))

	entries, err := ImportCatalogue(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]CatalogueEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	add := byName["add"]
	assert.Equal(t, Opcode(7), add.Opcode)
	assert.Equal(t, []Kind{KindUint32, KindUint32}, add.Args)
	assert.Equal(t, KindUint32, add.Return)
	assert.Equal(t, ReturnOwnerCallee, add.ReturnOwner)

	gain := byName["set_gain"]
	assert.Equal(t, Opcode(12), gain.Opcode)
	assert.Equal(t, []Kind{KindDouble, KindRawBlob}, gain.Args)
	assert.Equal(t, ReturnOwnerCaller, gain.ReturnOwner)
}
