package ingest

// State is a step of a merge run.
type State int

const (
	StateInit State = iota
	StateCheckLedger
	StateNoNewData
	StateHasNewData
	StateNormalize
	StateDedup
	StateLoadBaseline
	StateMerge
	StateVerify
	StatePersist
	StateDone
)

var stateNames = [...]string{
	StateInit:         "INIT",
	StateCheckLedger:  "CHECK_LEDGER",
	StateNoNewData:    "NO_NEW_DATA",
	StateHasNewData:   "HAS_NEW_DATA",
	StateNormalize:    "NORMALIZE",
	StateDedup:        "DEDUP",
	StateLoadBaseline: "LOAD_BASELINE",
	StateMerge:        "MERGE",
	StateVerify:       "VERIFY",
	StatePersist:      "PERSIST",
	StateDone:         "DONE",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}
