package smio

// State is one point in a worker's lifecycle, per spec §4.5.
type State uint8

const (
	StateInit State = iota
	StateExporting
	StateDefaults
	StateReady
	StateDraining
	StateExit
)

var stateNames = map[State]string{
	StateInit:      "INIT",
	StateExporting: "EXPORTING",
	StateDefaults:  "DEFAULTS",
	StateReady:     "READY",
	StateDraining:  "DRAINING",
	StateExit:      "EXIT",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}
