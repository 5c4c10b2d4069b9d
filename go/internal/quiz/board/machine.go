// Package board holds the authoritative state of one match round: the cell
// grid, the active selection, and the score ledger. The Machine is the only
// component permitted to mutate them, and it is owned by a single room event
// loop, so it carries no locking of its own.
package board

import (
	"fmt"

	"github.com/triviarena/triviarena/go/internal/models"
)

// State enumerates the round state machine.
type State int

const (
	// StateIdle means no round is loaded.
	StateIdle State = iota
	// StateBoardReady means categories are loaded and all cells open.
	StateBoardReady
	// StateSelecting means the machine waits for a cell pick.
	StateSelecting
	// StateBuzzing means a buzz window is active for the selection.
	StateBuzzing
	// StateAwaitingWager means the selecting contestant owes a wager.
	StateAwaitingWager
	// StateAwaitingResponse means the host owes a verdict on the selection.
	StateAwaitingResponse
	// StateRoundExhausted means every cell is claimed.
	StateRoundExhausted
)

var stateNames = [...]string{
	"idle", "boardReady", "selecting", "buzzing",
	"awaitingWager", "awaitingResponse", "roundExhausted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// InvalidTransitionError reports an event rejected for the current state. The
// room is unaffected; only the offending event fails.
type InvalidTransitionError struct {
	State State
	Event string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %q invalid in state %q", e.Event, e.State)
}

// Selection is the currently active cell under contest.
type Selection struct {
	Challenge models.ChallengeID
	Position  models.Position
	Value     models.Value
	Wagerable bool

	// Selector is the contestant who picked the cell; it is the only
	// contestant allowed to wager on a wagerable cell.
	Selector models.ContestantID
	// Responder is the contestant owing a response once one is recognized.
	Responder models.ContestantID
	Wager     models.Wager
	Response  string
}

// Machine is the board state machine for one room.
type Machine struct {
	state State
	round models.Round
	board *models.Board

	selection *Selection
	ledger    map[models.ContestantID]models.Value

	awaitingHost bool
}

// NewMachine returns an idle machine with an empty score ledger.
func NewMachine() *Machine {
	return &Machine{
		state:  StateIdle,
		ledger: make(map[models.ContestantID]models.Value),
	}
}

// State returns the current machine state.
func (m *Machine) State() State { return m.state }

// Board returns the loaded board, or nil when idle.
func (m *Machine) Board() *models.Board { return m.board }

// Selection returns the active selection, or nil outside a contest.
func (m *Machine) Selection() *Selection { return m.selection }

// AwaitingHost reports whether new selections are suspended because the last
// host connection dropped.
func (m *Machine) AwaitingHost() bool { return m.awaitingHost }

// Scores returns a copy of the score ledger.
func (m *Machine) Scores() map[models.ContestantID]models.Value {
	out := make(map[models.ContestantID]models.Value, len(m.ledger))
	for id, v := range m.ledger {
		out[id] = v
	}
	return out
}

// Score returns one contestant's running total.
func (m *Machine) Score(id models.ContestantID) models.Value {
	return m.ledger[id]
}

// RegisterContestant seeds a zero ledger entry so the contestant shows up in
// broadcast score snapshots before their first judged outcome.
func (m *Machine) RegisterContestant(id models.ContestantID) {
	if _, ok := m.ledger[id]; !ok {
		m.ledger[id] = 0
	}
}

// LoadBoard loads a round board: idle -> boardReady. Cell values are scaled
// by the round's multiplier.
func (m *Machine) LoadBoard(b *models.Board) error {
	if m.state != StateIdle {
		return &InvalidTransitionError{State: m.state, Event: "loadBoard"}
	}
	mult := models.Value(b.Round.ValueMultiplier())
	for ci := range b.Columns {
		for ri := range b.Columns[ci].Cells {
			b.Columns[ci].Cells[ri].Value *= mult
		}
	}
	m.board = b
	m.round = b.Round
	m.state = StateBoardReady
	return nil
}

// StartRound opens the board for picks: boardReady -> selecting.
func (m *Machine) StartRound() error {
	if m.state != StateBoardReady {
		return &InvalidTransitionError{State: m.state, Event: "startRound"}
	}
	m.state = StateSelecting
	return nil
}

// SelectCell claims an unclaimed cell and opens the contest for it:
// selecting -> buzzing, or selecting -> awaitingWager for wagerable cells.
// The claim happens immediately so a racing second pick of the same cell is
// rejected rather than double-played.
func (m *Machine) SelectCell(pos models.Position, selector models.ContestantID) (*Selection, error) {
	if m.state != StateSelecting {
		return nil, &InvalidTransitionError{State: m.state, Event: "selectCell"}
	}
	if m.awaitingHost {
		return nil, &InvalidTransitionError{State: m.state, Event: "selectCell (awaiting host)"}
	}
	cell, err := m.board.CellAt(pos)
	if err != nil {
		return nil, err
	}
	if cell.Claimed {
		return nil, fmt.Errorf("cell %s already claimed", pos)
	}
	cell.Claimed = true

	m.selection = &Selection{
		Challenge: cell.Challenge,
		Position:  pos,
		Value:     cell.Value,
		Wagerable: cell.Wagerable,
		Selector:  selector,
	}
	if cell.Wagerable {
		m.selection.Responder = selector
		m.state = StateAwaitingWager
	} else {
		m.state = StateBuzzing
	}
	return m.selection, nil
}

// ReleaseSelection rolls back an optimistic claim when the challenge content
// turned out to be unavailable. The cell reopens and the machine returns to
// selecting so the next host action retries the pick.
func (m *Machine) ReleaseSelection() error {
	if m.selection == nil || (m.state != StateBuzzing && m.state != StateAwaitingWager) {
		return &InvalidTransitionError{State: m.state, Event: "releaseSelection"}
	}
	if cell, err := m.board.CellAt(m.selection.Position); err == nil {
		cell.Claimed = false
	}
	m.selection = nil
	m.state = StateSelecting
	return nil
}

// PlaceWager records the selecting contestant's wager, bounded by
// max(current score, ceiling): awaitingWager -> awaitingResponse.
func (m *Machine) PlaceWager(id models.ContestantID, wager models.Wager, ceiling models.Value) error {
	if m.state != StateAwaitingWager {
		return &InvalidTransitionError{State: m.state, Event: "wager"}
	}
	if id != m.selection.Selector {
		return fmt.Errorf("contestant %q did not select this cell", id)
	}
	maxWager := m.ledger[id]
	if ceiling > maxWager {
		maxWager = ceiling
	}
	if wager < 0 || models.Value(wager) > maxWager {
		return fmt.Errorf("wager %d outside [0, %d]", wager, maxWager)
	}
	m.selection.Wager = wager
	m.state = StateAwaitingResponse
	return nil
}

// RecognizeWinner records the buzz winner owing a response:
// buzzing -> awaitingResponse.
func (m *Machine) RecognizeWinner(id models.ContestantID) error {
	if m.state != StateBuzzing {
		return &InvalidTransitionError{State: m.state, Event: "recognizeWinner"}
	}
	m.selection.Responder = id
	m.state = StateAwaitingResponse
	return nil
}

// RecordResponse stores the recognized contestant's spoken/typed response for
// the host's verdict. It does not transition state.
func (m *Machine) RecordResponse(id models.ContestantID, response string) error {
	if m.state != StateAwaitingResponse {
		return &InvalidTransitionError{State: m.state, Event: "submitResponse"}
	}
	if id != m.selection.Responder {
		return fmt.Errorf("contestant %q is not the recognized responder", id)
	}
	m.selection.Response = response
	return nil
}

// ExpireUnclaimed closes a buzz window nobody won with a zero-delta outcome:
// buzzing -> selecting (or roundExhausted).
func (m *Machine) ExpireUnclaimed() (models.Outcome, error) {
	if m.state != StateBuzzing {
		return models.Outcome{}, &InvalidTransitionError{State: m.state, Event: "expireUnclaimed"}
	}
	out := models.Outcome{
		Challenge: m.selection.Challenge,
		Position:  m.selection.Position,
	}
	m.advance()
	return out, nil
}

// Judge applies the host's verdict, the single point where the ledger
// mutates: awaitingResponse -> selecting (or roundExhausted). Correct adds
// the cell value (or wager); incorrect subtracts it.
func (m *Machine) Judge(correct bool) (models.Outcome, error) {
	if m.state != StateAwaitingResponse {
		return models.Outcome{}, &InvalidTransitionError{State: m.state, Event: "judge"}
	}
	sel := m.selection

	delta := sel.Value
	if sel.Wagerable {
		delta = models.Value(sel.Wager)
	}
	if !correct {
		delta = -delta
	}
	m.ledger[sel.Responder] += delta

	out := models.Outcome{
		Challenge: sel.Challenge,
		Position:  sel.Position,
		Winner:    sel.Responder,
		Correct:   correct,
		Delta:     delta,
		Wager:     sel.Wager,
	}
	m.advance()
	return out, nil
}

// FinishRound unloads an exhausted board for the next round:
// roundExhausted -> idle. The ledger carries over.
func (m *Machine) FinishRound() error {
	if m.state != StateRoundExhausted {
		return &InvalidTransitionError{State: m.state, Event: "finishRound"}
	}
	m.board = nil
	m.state = StateIdle
	return nil
}

// SuspendForHost marks the room host-less; new selections are rejected until
// a host reconnects.
func (m *Machine) SuspendForHost() {
	m.awaitingHost = true
}

// ResumeHost lifts the host-less suspension.
func (m *Machine) ResumeHost() {
	m.awaitingHost = false
}

func (m *Machine) advance() {
	m.selection = nil
	if m.board.Remaining() == 0 {
		m.state = StateRoundExhausted
		return
	}
	m.state = StateSelecting
}
