package dispatch

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// ExportCatalogue writes every registered descriptor as one INI
// section per operation, sorted by opcode low to high. This is a
// documentation/diffing artifact, not something a worker reads back
// to rebuild live handlers — Handler funcs are Go closures and do not
// round-trip through it.
func (t *Table) ExportCatalogue(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	opcodes := make([]int, 0, len(t.byOpcode))
	for op := range t.byOpcode {
		opcodes = append(opcodes, int(op))
	}
	sort.Ints(opcodes)

	file := ini.Empty()
	for _, op := range opcodes {
		d := t.byOpcode[Opcode(op)]
		section, err := file.NewSection("op." + d.Name)
		if err != nil {
			return err
		}
		if err := populateSection(section, d); err != nil {
			return fmt.Errorf("dispatch: export %q: %w", d.Name, err)
		}
	}
	_, err := file.WriteTo(w)
	return err
}

func populateSection(section *ini.Section, d *Descriptor) error {
	if _, err := section.NewKey("Opcode", strconv.FormatUint(uint64(d.Opcode), 10)); err != nil {
		return err
	}
	argNames := make([]string, len(d.Args))
	for i, k := range d.Args {
		argNames[i] = k.String()
	}
	if _, err := section.NewKey("Args", strings.Join(argNames, ",")); err != nil {
		return err
	}
	if _, err := section.NewKey("Return", d.Return.String()); err != nil {
		return err
	}
	owner := "callee"
	if d.ReturnOwner == ReturnOwnerCaller {
		owner = "caller"
	}
	_, err := section.NewKey("ReturnOwner", owner)
	return err
}

// CatalogueEntry is one descriptor as read back from an exported
// catalogue, without a Handler: it describes the shape of an
// operation for client-side validation or cross-version diffing, not
// a live dispatch target.
type CatalogueEntry struct {
	Name        string
	Opcode      Opcode
	Args        []Kind
	Return      Kind
	ReturnOwner ReturnOwner
}

// ImportCatalogue reads back what ExportCatalogue wrote.
func ImportCatalogue(r io.Reader) ([]CatalogueEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	file, err := ini.Load(data)
	if err != nil {
		return nil, err
	}

	var entries []CatalogueEntry
	for _, section := range file.Sections() {
		name := strings.TrimPrefix(section.Name(), "op.")
		if name == section.Name() {
			continue // not one of ours (DEFAULT section, etc.)
		}
		opcode, err := section.Key("Opcode").Uint64()
		if err != nil {
			return nil, fmt.Errorf("dispatch: import %q: bad Opcode: %w", name, err)
		}
		var args []Kind
		if raw := section.Key("Args").String(); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				k, ok := kindByName(part)
				if !ok {
					return nil, fmt.Errorf("dispatch: import %q: unknown arg kind %q", name, part)
				}
				args = append(args, k)
			}
		}
		ret, ok := kindByName(section.Key("Return").String())
		if !ok {
			return nil, fmt.Errorf("dispatch: import %q: unknown return kind %q", name, section.Key("Return").String())
		}
		owner := ReturnOwnerCallee
		if section.Key("ReturnOwner").String() == "caller" {
			owner = ReturnOwnerCaller
		}
		entries = append(entries, CatalogueEntry{
			Name:        name,
			Opcode:      Opcode(opcode),
			Args:        args,
			Return:      ret,
			ReturnOwner: owner,
		})
	}
	return entries, nil
}
