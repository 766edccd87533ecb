package world

import "time"

// Phase tracks the match lifecycle. Ended is terminal.
type Phase string

const (
	PhaseNotStarted Phase = "not-started"
	PhaseRunning    Phase = "running"
	PhaseEnded      Phase = "ended"
)

// Match is the game state machine. Transitions: NotStarted -> Running via
// Start (external match control), Running -> Ended via SetWinner (win check
// or time expiry). It is not goroutine-safe; the hub serializes access.
type Match struct {
	phase   Phase
	winner  string
	endedAt time.Time
}

// NewMatch returns a match in the NotStarted phase.
func NewMatch() *Match {
	return &Match{phase: PhaseNotStarted}
}

// RestoreMatch rebuilds the state machine from persisted fields.
func RestoreMatch(phase Phase, winner string, endedAt time.Time) *Match {
	switch phase {
	case PhaseNotStarted, PhaseRunning, PhaseEnded:
	default:
		phase = PhaseNotStarted
	}
	return &Match{phase: phase, winner: winner, endedAt: endedAt}
}

// Phase returns the current lifecycle phase.
func (m *Match) Phase() Phase {
	return m.phase
}

// Start moves the match into the Running phase. Returns false if the match
// is not in NotStarted.
func (m *Match) Start() bool {
	if m.phase != PhaseNotStarted {
		return false
	}
	m.phase = PhaseRunning
	return true
}

// SetWinner records the winner (empty for a tie) and transitions to Ended.
// Returns false without mutating if the match is not running, so the
// game-end notification fires exactly once no matter how many resolutions
// race the win check.
func (m *Match) SetWinner(teamID string, now time.Time) bool {
	if m.phase != PhaseRunning {
		return false
	}
	m.phase = PhaseEnded
	m.winner = teamID
	m.endedAt = now
	return true
}

// Winner returns the winning team id once the match has ended. The second
// return is false while the match is still in play; an empty id with true
// means the match ended in a tie.
func (m *Match) Winner() (string, bool) {
	if m.phase != PhaseEnded {
		return "", false
	}
	return m.winner, true
}

// EndedAt returns when the match ended, zero if it has not.
func (m *Match) EndedAt() time.Time {
	return m.endedAt
}
