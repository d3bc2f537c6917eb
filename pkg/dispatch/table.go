// Package dispatch implements the opcode-indexed registry an SMIO
// worker exports at startup: each entry describes a typed RPC
// operation by name, opcode, argument kinds and return kind/ownership,
// used to validate and decode incoming wire messages before a handler
// ever runs.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/lnls-bpm/bpm-core/pkg/errs"
)

// Opcode addresses one dispatch entry on the wire.
type Opcode uint32

// MaxOpcode bounds the wire-addressable opcode space (MSG_OPCODE_MAX
// in the spec).
const MaxOpcode Opcode = 0xFFFF

// ReturnOwner says who owns the memory backing a handler's return
// value.
type ReturnOwner uint8

const (
	// ReturnOwnerCallee: the handler writes into a caller-supplied
	// buffer.
	ReturnOwnerCallee ReturnOwner = iota
	// ReturnOwnerCaller: the return value is transported inline in the
	// reply frame.
	ReturnOwnerCaller
)

// HandlerFunc executes one dispatch entry against decoded argument
// frames, returning the raw bytes to pack into the reply payload.
type HandlerFunc func(ctx context.Context, args [][]byte) ([]byte, error)

// Descriptor is one exported operation: (name, opcode, arg kinds,
// return kind, return owner), per spec §3 "Typed Argument Descriptor".
type Descriptor struct {
	Name        string
	Opcode      Opcode
	Args        []Kind
	Return      Kind
	ReturnOwner ReturnOwner
	Handler     HandlerFunc
}

// ValidateArgFrames checks an incoming message's argument frames
// against this descriptor's declared shape: frame count must equal
// len(Args), and each frame's byte length must equal the declared
// kind's size (DISP_GET_ASIZE in spec §4.3), except for KindRawBlob
// which accepts any length.
func (d *Descriptor) ValidateArgFrames(frames [][]byte) error {
	if len(frames) != len(d.Args) {
		return errs.ErrWrongArgs
	}
	for i, k := range d.Args {
		if k == KindRawBlob {
			continue
		}
		if len(frames[i]) != k.Size() {
			return errs.ErrWrongArgs
		}
	}
	return nil
}

// Table is an append-only opcode → descriptor registry. Opcodes are
// unique; registering a duplicate is rejected rather than silently
// overwriting (the table is built once at SMIO startup, per spec
// §4.5 EXPORTING).
type Table struct {
	mu       sync.RWMutex
	byOpcode map[Opcode]*Descriptor
	byName   map[string]*Descriptor
}

// NewTable builds an empty dispatch table.
func NewTable() *Table {
	return &Table{
		byOpcode: map[Opcode]*Descriptor{},
		byName:   map[string]*Descriptor{},
	}
}

// Register adds a descriptor. It fails if the opcode is out of range,
// already registered, or the argument list is malformed (a KindEnd
// appearing anywhere but as an implicit terminator is rejected by
// construction: Args never includes it).
func (t *Table) Register(d Descriptor) error {
	if d.Opcode > MaxOpcode {
		return fmt.Errorf("dispatch: opcode %d exceeds MaxOpcode", d.Opcode)
	}
	for _, k := range d.Args {
		if k == KindEnd {
			return fmt.Errorf("dispatch: %q: KindEnd must not appear in Args", d.Name)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byOpcode[d.Opcode]; exists {
		return fmt.Errorf("dispatch: opcode %d already registered", d.Opcode)
	}
	if _, exists := t.byName[d.Name]; exists {
		return fmt.Errorf("dispatch: name %q already registered", d.Name)
	}
	cp := d
	t.byOpcode[d.Opcode] = &cp
	t.byName[d.Name] = &cp
	return nil
}

// Lookup finds a descriptor by opcode; this is the hot path used by
// the message layer on every request and is direct-indexed.
func (t *Table) Lookup(op Opcode) (*Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byOpcode[op]
	return d, ok
}

// LookupByName finds a descriptor by name. Per spec §4.3 this is a
// client-side-only concern (translating a human-chosen name to an
// opcode before sending a request); workers never need it on their
// request path.
func (t *Table) LookupByName(name string) (*Descriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byName[name]
	return d, ok
}

// All returns a copy of every registered descriptor, in no particular
// order.
func (t *Table) All() []Descriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Descriptor, 0, len(t.byOpcode))
	for _, d := range t.byOpcode {
		out = append(out, *d)
	}
	return out
}
