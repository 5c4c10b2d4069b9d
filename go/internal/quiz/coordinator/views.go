package coordinator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/go/internal/models"
	"github.com/triviarena/triviarena/go/internal/quiz/events"
)

// StateSnapshot is the outbound view of a room. Fields past the public set
// are filled in per role: the host sees correct responses and wagers, a
// contestant additionally receives their own wager/response via a direct
// send, spectators only ever see the public fields.
type StateSnapshot struct {
	RoomID       string           `json:"room_id"`
	State        string           `json:"state"`
	Round        string           `json:"round,omitempty"`
	AwaitingHost bool             `json:"awaiting_host,omitempty"`
	Board        *BoardView       `json:"board,omitempty"`
	Selection    *SelectionView   `json:"selection,omitempty"`
	Scores       map[string]int   `json:"scores"`
	Participants map[string]string `json:"participants"`
}

// BoardView is the public cell grid: categories, values, claim flags.
type BoardView struct {
	Columns []BoardColumnView `json:"columns"`
}

// BoardColumnView is one category column of the view.
type BoardColumnView struct {
	Category string         `json:"category"`
	Cells    []BoardCellView `json:"cells"`
}

// BoardCellView is one cell of the view. The challenge identifier stays
// server-side; clients address cells by position.
type BoardCellView struct {
	Value   int  `json:"value"`
	Claimed bool `json:"claimed"`
}

// SelectionView is the active contest. Clue text is public once a cell is
// picked; Correct is host-only; Wager/Response are host- and owner-only.
type SelectionView struct {
	Position  models.Position `json:"position"`
	Value     int             `json:"value"`
	Wagerable bool            `json:"wagerable,omitempty"`
	Phase     string          `json:"phase,omitempty"`
	Deadline  *time.Time      `json:"deadline,omitempty"`
	Responder string          `json:"responder,omitempty"`

	Clue     string   `json:"clue,omitempty"`
	Category string   `json:"category,omitempty"`
	Media    []models.MediaRef `json:"media,omitempty"`

	Correct  []string `json:"correct,omitempty"`
	Wager    int      `json:"wager,omitempty"`
	Response string   `json:"response,omitempty"`
}

// snapshot builds the host-grade view; callers strip it down per role.
func (r *Room) snapshot() *StateSnapshot {
	snap := &StateSnapshot{
		RoomID:       string(r.id),
		State:        r.machine.State().String(),
		AwaitingHost: r.machine.AwaitingHost(),
		Scores:       make(map[string]int),
		Participants: make(map[string]string),
	}
	for id, v := range r.machine.Scores() {
		snap.Scores[string(id)] = int(v)
	}
	for id, role := range r.participants {
		snap.Participants[id] = string(role)
	}

	if b := r.machine.Board(); b != nil {
		snap.Round = b.Round.String()
		view := &BoardView{Columns: make([]BoardColumnView, 0, len(b.Columns))}
		for _, col := range b.Columns {
			cv := BoardColumnView{Category: col.Category, Cells: make([]BoardCellView, 0, len(col.Cells))}
			for _, cell := range col.Cells {
				cv.Cells = append(cv.Cells, BoardCellView{Value: int(cell.Value), Claimed: cell.Claimed})
			}
			view.Columns = append(view.Columns, cv)
		}
		snap.Board = view
	}

	if sel := r.machine.Selection(); sel != nil {
		sv := &SelectionView{
			Position:  sel.Position,
			Value:     int(sel.Value),
			Wagerable: sel.Wagerable,
			Responder: string(sel.Responder),
			Wager:     int(sel.Wager),
			Response:  sel.Response,
		}
		if r.window != nil {
			sv.Phase = r.window.Phase().String()
		}
		if !r.windowDeadline.IsZero() {
			d := r.windowDeadline
			sv.Deadline = &d
		}
		if r.challenge != nil {
			sv.Clue = r.challenge.Clue
			sv.Category = r.challenge.Category
			sv.Media = r.challenge.Media
			sv.Correct = r.challenge.Correct
		}
		snap.Selection = sv
	}
	return snap
}

// forRole strips host-only and owner-only fields from a snapshot.
func (s *StateSnapshot) forRole(role models.Role, participantID string) *StateSnapshot {
	if role == models.RoleHost {
		return s
	}
	out := *s
	if s.Selection != nil {
		sv := *s.Selection
		sv.Correct = nil
		if participantID == "" || participantID != sv.Responder {
			sv.Wager = 0
			sv.Response = ""
		}
		out.Selection = &sv
	}
	return &out
}

// broadcastState pushes role-appropriate views of the current room state to
// every connected actor.
func (r *Room) broadcastState() {
	snap := r.snapshot()

	r.sendRole(models.RoleHost, snap)
	public := snap.forRole(models.RoleSpectator, "")
	r.sendRole(models.RoleSpectator, public)
	r.sendRole(models.RoleContestant, public)

	// The recognized responder additionally sees their own wager/response.
	if sel := r.machine.Selection(); sel != nil && sel.Responder != "" {
		own := snap.forRole(models.RoleContestant, string(sel.Responder))
		r.sendTo(string(sel.Responder), events.OutStateUpdate, own)
	}
}

// announceOutcome pushes a judged result to every connection in the room.
// Outcomes carry no host-only fields, so one frame serves all roles.
func (r *Room) announceOutcome(out models.Outcome) {
	data, err := r.outbound(events.OutOutcome, out)
	if err != nil {
		log.Error().Err(err).Str("room_id", string(r.id)).Msg("failed to marshal outcome frame")
		return
	}
	r.registry.BroadcastAll(r.id, data)
}

func (r *Room) sendRole(role models.Role, snap *StateSnapshot) {
	data, err := r.outbound(events.OutStateUpdate, snap)
	if err != nil {
		log.Error().Err(err).Str("room_id", string(r.id)).Msg("failed to marshal state view")
		return
	}
	r.registry.BroadcastRole(r.id, role, data)
}

func (r *Room) sendTo(participantID string, typ events.Type, payload any) {
	data, err := r.outbound(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", string(r.id)).Msg("failed to marshal direct payload")
		return
	}
	r.registry.SendTo(r.id, participantID, data)
}

// outbound wraps a payload in the event frame the gateway pushes verbatim.
func (r *Room) outbound(typ events.Type, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(events.OutboundEvent{
		ID:        uuid.New().String(),
		RoomID:    string(r.id),
		Type:      typ,
		Timestamp: r.clock.Now(),
		Data:      raw,
	})
}
