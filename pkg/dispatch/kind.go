package dispatch

import "fmt"

// Kind identifies the wire type of one argument or return value in a
// dispatch descriptor. Each kind carries a fixed wire size, the same
// role played by the object-dictionary data type byte in the wider
// corpus this dispatch table design is drawn from.
type Kind uint8

const (
	KindUint32 Kind = iota
	KindUint64
	KindInt32
	KindInt64
	KindDouble
	KindRawBlob
	// KindEnd terminates an argument list; it has no wire size and is
	// never itself transmitted.
	KindEnd
)

var kindNames = map[Kind]string{
	KindUint32:  "uint32",
	KindUint64:  "uint64",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindDouble:  "double",
	KindRawBlob: "raw",
	KindEnd:     "end",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Size returns the fixed wire size in bytes for fixed-width kinds, and
// 0 for KindRawBlob (variable size, carried as-is) and KindEnd (not
// transmitted). DISP_GET_ASIZE in the spec's wire validation rule maps
// directly to this method for every fixed-width kind.
func (k Kind) Size() int {
	switch k {
	case KindUint32, KindInt32:
		return 4
	case KindUint64, KindInt64, KindDouble:
		return 8
	default:
		return 0
	}
}

func kindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}
