package engine

// State is the lifecycle state of an AsyncRenderable.
type State int

const (
	StateStopped State = iota
	StateIdle
	StateQueryPending
	StateQuerying
	StateSwapping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateIdle:
		return "idle"
	case StateQueryPending:
		return "query_pending"
	case StateQuerying:
		return "querying"
	case StateSwapping:
		return "swapping"
	default:
		return "unknown"
	}
}
