// Package devicemanager implements the root supervisor process: it
// ensures a broker is running, discovers hardware endpoints, spawns
// one SMIO child per endpoint, reaps and respawns children, and
// propagates termination signals, per spec §4.6.
package devicemanager

import "path/filepath"

// Endpoint is one discovered hardware reference (a device node path,
// in production; anything Scan returns, in a test).
type Endpoint struct {
	Name string
}

// Scanner discovers hardware endpoints. Abstracted behind an
// interface — the same pattern the underlying transport layer uses to
// let tests substitute a fake directory lister instead of touching
// real device nodes (mirroring pkg/can.RegisterInterface's
// abstraction over concrete transports by name).
type Scanner interface {
	Scan() ([]Endpoint, error)
}

// GlobScanner discovers endpoints by globbing a root directory
// pattern (e.g. "/dev/fpga*"), the production Scanner.
type GlobScanner struct {
	Root    string
	Pattern string
}

// Scan implements Scanner.
func (g GlobScanner) Scan() ([]Endpoint, error) {
	matches, err := filepath.Glob(filepath.Join(g.Root, g.Pattern))
	if err != nil {
		return nil, err
	}
	out := make([]Endpoint, 0, len(matches))
	for _, m := range matches {
		out = append(out, Endpoint{Name: m})
	}
	return out, nil
}
