package upload

// Phase is the lifecycle position of a Session.
type Phase int

const (
	PhasePending Phase = iota
	PhaseInFlight
	PhaseCancelling
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseInFlight:
		return "in-flight"
	case PhaseCancelling:
		return "cancelling"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// transitions lists the legal moves out of each phase. Pending may move to
// Cancelling so a cancel before the first chunk still runs the cleanup.
var transitions = map[Phase][]Phase{
	PhasePending:    {PhaseInFlight, PhaseCancelling, PhaseFailed},
	PhaseInFlight:   {PhaseCompleted, PhaseCancelling, PhaseFailed},
	PhaseCancelling: {PhaseCancelled},
}

// CanTransition reports whether a session may move from p to next.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// State is a snapshot of a Session.
type State struct {
	Phase Phase
	// Progress is the acknowledged share of the file, 0 to 100. It never
	// decreases.
	Progress   float64
	BytesSent  int64
	TotalBytes int64
	// ObjectID is the remote video id once known. It never reverts to empty.
	ObjectID string
	// Err is set when the session failed.
	Err error
	// Note describes how a cancellation was resolved.
	Note string
	// DeleteWarning is set when a cancelled upload could not be removed
	// remotely and needs manual cleanup.
	DeleteWarning string
}
