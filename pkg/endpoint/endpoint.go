// Package endpoint describes the named, openable hardware reference an
// LLIO handle is built around: a transport kind plus an identifier
// string (a device node path, a bus address, ...) and an opened bit.
package endpoint

// Kind tags which transport an Endpoint addresses.
type Kind string

const (
	KindPCIe Kind = "pcie"
	KindEth  Kind = "eth"
)

// Endpoint is created when an LLIO handle is constructed, opened
// explicitly by Open, and closed by Release or LLIO destruction. All
// I/O through the owning LLIO handle fails unless Opened() is true.
type Endpoint struct {
	kind   Kind
	name   string
	opened bool
}

// New builds an Endpoint in the closed state.
func New(kind Kind, name string) *Endpoint {
	return &Endpoint{kind: kind, name: name}
}

func (e *Endpoint) Kind() Kind    { return e.kind }
func (e *Endpoint) Name() string  { return e.name }
func (e *Endpoint) Opened() bool  { return e.opened }
func (e *Endpoint) SetOpened(v bool) { e.opened = v }

func (e *Endpoint) String() string {
	return string(e.kind) + ":" + e.name
}
