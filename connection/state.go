package connection

// State of the Manager.
type State int

const (
	// Idle is the state before Connect.
	Idle State = iota
	// Connecting is the state of the initial connect and its retries.
	Connecting
	// Connected means the current handle is live.
	Connected
	// Reconnecting is the state after an unrequested connection loss until a new handle is restored.
	Reconnecting
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
