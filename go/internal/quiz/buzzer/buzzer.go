// Package buzzer resolves concurrent buzz signals for one open selection into
// a single winner. Ordering is decided by receipt sequence numbers assigned at
// the room's single intake point, never by wall clock, so clock skew between
// connections cannot reorder buzzes.
//
// A Window is owned by exactly one room event loop and is not safe for
// concurrent use; it holds no authoritative game state beyond the current
// selection's window.
package buzzer

import (
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/triviarena/triviarena/go/internal/models"
)

// Phase is the lifecycle of one buzz window.
type Phase int

const (
	// PhaseArmed means the window is not open yet (host still reading the
	// clue); buzzes are recorded as early and penalized.
	PhaseArmed Phase = iota
	// PhaseOpen means buzzes are accepted; the first valid one wins.
	PhaseOpen
	// PhaseResolved means a winner was chosen or the window elapsed.
	PhaseResolved
)

var phaseNames = [...]string{"armed", "open", "resolved"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Verdict classifies one buzz signal.
type Verdict int

const (
	// VerdictWinning marks the buzz currently holding the window.
	VerdictWinning Verdict = iota
	// VerdictEarly marks a buzz before the window opened.
	VerdictEarly
	// VerdictLockedOut marks a buzz from a penalized contestant whose
	// lockout has not elapsed yet.
	VerdictLockedOut
	// VerdictLate marks a valid buzz that lost the race.
	VerdictLate
	// VerdictClosed marks a buzz after resolution.
	VerdictClosed
)

// Result is reported to the coordinator when the window resolves. The
// coordinator alone transitions selection state from it.
type Result struct {
	Winner         models.ContestantID
	EarlyOffenders []models.ContestantID
}

// Unclaimed reports whether the window elapsed with no winner.
func (r Result) Unclaimed() bool {
	return r.Winner == ""
}

// Window arbitrates buzzes for a single selection.
type Window struct {
	clock   clockwork.Clock
	penalty time.Duration

	phase    Phase
	openedAt time.Time

	early      map[models.ContestantID]bool
	lockedOut  map[models.ContestantID]time.Time
	winner     models.ContestantID
	winningSeq uint64
	hasWinner  bool
}

// NewWindow creates an armed window. The penalty is the extra lockout applied
// to early offenders once the window opens.
func NewWindow(penalty time.Duration, clock clockwork.Clock) *Window {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Window{
		clock:     clock,
		penalty:   penalty,
		phase:     PhaseArmed,
		early:     make(map[models.ContestantID]bool),
		lockedOut: make(map[models.ContestantID]time.Time),
	}
}

// Phase returns the window's current phase.
func (w *Window) Phase() Phase {
	return w.phase
}

// Open transitions the window from armed to open and starts the penalty
// lockout clock for every early offender. Opening an already open or resolved
// window is a no-op.
func (w *Window) Open() {
	if w.phase != PhaseArmed {
		return
	}
	w.phase = PhaseOpen
	w.openedAt = w.clock.Now()
	for id := range w.early {
		w.lockedOut[id] = w.openedAt.Add(w.penalty)
	}
}

// Buzz records one buzz signal carrying the receipt sequence assigned at the
// intake point. Early buzzes never win; they penalize the offender. Identical
// sequence numbers (impossible under a single-threaded intake, guarded
// regardless) break the tie toward the lowest contestant identifier.
func (w *Window) Buzz(id models.ContestantID, seq uint64) Verdict {
	switch w.phase {
	case PhaseArmed:
		w.early[id] = true
		return VerdictEarly
	case PhaseResolved:
		return VerdictClosed
	}

	if until, ok := w.lockedOut[id]; ok && w.clock.Now().Before(until) {
		return VerdictLockedOut
	}

	if !w.hasWinner {
		w.winner = id
		w.winningSeq = seq
		w.hasWinner = true
		return VerdictWinning
	}
	if seq == w.winningSeq && id < w.winner {
		w.winner = id
		return VerdictWinning
	}
	return VerdictLate
}

// Resolve closes the window and reports the winner, if any, along with the
// early offenders in deterministic order.
func (w *Window) Resolve() Result {
	w.phase = PhaseResolved

	offenders := make([]models.ContestantID, 0, len(w.early))
	for id := range w.early {
		offenders = append(offenders, id)
	}
	sort.Slice(offenders, func(i, j int) bool { return offenders[i] < offenders[j] })

	res := Result{EarlyOffenders: offenders}
	if w.hasWinner {
		res.Winner = w.winner
	}
	return res
}
