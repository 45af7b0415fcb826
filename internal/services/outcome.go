package services

// MutationOutcome is the result of a session mutation that did not fail.
// Conflicts are expected during normal use (a second browser tab) and are
// reported to the player as warnings, so they are values, not errors.
type MutationOutcome int

const (
	Applied MutationOutcome = iota
	// PlayerConflict: the caller's player id no longer owns the session.
	PlayerConflict
	// SessionClosed: the session already reached a terminal state.
	SessionClosed
)

func (o MutationOutcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case PlayerConflict:
		return "player_conflict"
	case SessionClosed:
		return "session_closed"
	default:
		return "unknown"
	}
}
