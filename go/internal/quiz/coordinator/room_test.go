package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triviarena/triviarena/go/internal/models"
	"github.com/triviarena/triviarena/go/internal/quiz/board"
	"github.com/triviarena/triviarena/go/internal/quiz/content"
	"github.com/triviarena/triviarena/go/internal/quiz/events"
	"github.com/triviarena/triviarena/go/internal/quiz/relay"
)

type frame struct {
	kind          string
	role          models.Role
	participantID string
	event         events.OutboundEvent
}

type fakeRegistry struct {
	frames []frame
}

func (f *fakeRegistry) record(kind string, role models.Role, pid string, data []byte) {
	var ev events.OutboundEvent
	_ = json.Unmarshal(data, &ev)
	f.frames = append(f.frames, frame{kind: kind, role: role, participantID: pid, event: ev})
}

func (f *fakeRegistry) BroadcastAll(_ models.RoomID, data []byte) {
	f.record("all", "", "", data)
}

func (f *fakeRegistry) BroadcastRole(_ models.RoomID, role models.Role, data []byte) {
	f.record("role", role, "", data)
}

func (f *fakeRegistry) SendTo(_ models.RoomID, pid string, data []byte) {
	f.record("to", "", pid, data)
}

// lastAll returns the most recent room-wide frame of the given type.
func (f *fakeRegistry) lastAll(typ events.Type) *events.OutboundEvent {
	for i := len(f.frames) - 1; i >= 0; i-- {
		fr := f.frames[i]
		if fr.kind == "all" && fr.event.Type == typ {
			return &fr.event
		}
	}
	return nil
}

// lastTo returns the most recent direct frame of the given type sent to pid.
func (f *fakeRegistry) lastTo(pid string, typ events.Type) *events.OutboundEvent {
	for i := len(f.frames) - 1; i >= 0; i-- {
		fr := f.frames[i]
		if fr.kind == "to" && fr.participantID == pid && fr.event.Type == typ {
			return &fr.event
		}
	}
	return nil
}

type fakeStore struct {
	boards       map[string]func() *models.Board
	challenges   map[models.ChallengeID]*models.ChallengeData
	outcomes     []models.Outcome
	challengeErr error
	boardErr     error
}

func (s *fakeStore) GetChallenge(_ context.Context, qid models.ChallengeID) (*models.ChallengeData, error) {
	if s.challengeErr != nil {
		return nil, s.challengeErr
	}
	if ch, ok := s.challenges[qid]; ok {
		return ch, nil
	}
	return nil, content.ErrNotFound
}

func (s *fakeStore) GetBoard(_ context.Context, roundID string) (*models.Board, error) {
	if s.boardErr != nil {
		return nil, s.boardErr
	}
	if build, ok := s.boards[roundID]; ok {
		return build(), nil
	}
	return nil, content.ErrNotFound
}

func (s *fakeStore) AppendOutcome(_ context.Context, out models.Outcome) error {
	s.outcomes = append(s.outcomes, out)
	return nil
}

type fakePublisher struct {
	published []relay.Event
}

func (p *fakePublisher) Publish(_ context.Context, evt relay.Event) error {
	p.published = append(p.published, evt)
	return nil
}

// twoCellBoard is a one-column board: a plain 200 cell at {0,0} and a
// wagerable 400 cell at {0,1}.
func twoCellBoard() *models.Board {
	return &models.Board{
		RoundID: "single",
		Round:   models.RoundSingle,
		Columns: []models.BoardColumn{
			{Category: "HISTORY", Cells: []models.BoardCell{
				{Challenge: 101, Value: 200},
				{Challenge: 102, Value: 400, Wagerable: true},
			}},
		},
	}
}

func oneCellBoard(roundID string, round models.Round, qid models.ChallengeID) func() *models.Board {
	return func() *models.Board {
		return &models.Board{
			RoundID: roundID,
			Round:   round,
			Columns: []models.BoardColumn{
				{Category: "SCIENCE", Cells: []models.BoardCell{{Challenge: qid, Value: 200}}},
			},
		}
	}
}

func testStore() *fakeStore {
	return &fakeStore{
		boards: map[string]func() *models.Board{
			"single": twoCellBoard,
			"double": oneCellBoard("double", models.RoundDouble, 201),
		},
		challenges: map[models.ChallengeID]*models.ChallengeData{
			101: {ID: 101, Category: "HISTORY", Clue: "This year the wall fell", Correct: []string{"1989"}},
			102: {ID: 102, Category: "HISTORY", Clue: "This treaty ended the war", Correct: []string{"Versailles"}},
			201: {ID: 201, Category: "SCIENCE", Clue: "This element is lightest", Correct: []string{"hydrogen"}},
		},
	}
}

func newTestRoom(store *fakeStore) (*Room, *fakeRegistry, *clockwork.FakeClock, *fakePublisher) {
	clock := clockwork.NewFakeClock()
	reg := &fakeRegistry{}
	pub := &fakePublisher{}
	r := newRoom("room-1", DefaultRules(), clock, reg, store, pub, nil)
	r.ctx = context.Background()
	return r, reg, clock, pub
}

func envelope(typ events.Type, payload any) events.Envelope {
	env := events.Envelope{Type: typ, RoomID: "room-1"}
	if payload != nil {
		data, _ := json.Marshal(payload)
		env.Data = data
	}
	return env
}

func submit(r *Room, pid string, role models.Role, typ events.Type, payload any) {
	r.handle(Inbound{ParticipantID: pid, Role: role, Event: envelope(typ, payload)})
}

// openWindow walks a freshly selected cell through the reading period so the
// buzz window is open.
func openWindow(t *testing.T, r *Room, clock *clockwork.FakeClock) {
	t.Helper()
	require.Equal(t, timerOpenWindow, r.timerPurpose)
	clock.Advance(r.rules.ReadDelay)
	r.onWindowTimer()
	require.Equal(t, timerWindowDeadline, r.timerPurpose)
}

func TestHostJoinLoadsFirstRound(t *testing.T) {
	r, reg, _, pub := newTestRoom(testStore())

	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)

	assert.Equal(t, board.StateSelecting, r.machine.State())
	assert.Equal(t, "single", r.machine.Board().RoundID)
	require.Len(t, pub.published, 1)
	assert.Equal(t, relay.EventRoundStarted, pub.published[0].Type)
	assert.NotEmpty(t, reg.frames, "join must broadcast state")
}

func TestContestantJoinBeforeHostKeepsRoomIdle(t *testing.T) {
	r, _, _, _ := newTestRoom(testStore())

	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)
	assert.Equal(t, board.StateIdle, r.machine.State())

	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	assert.Equal(t, board.StateSelecting, r.machine.State())
	assert.Equal(t, models.Value(0), r.machine.Score("alice"))
}

func TestSelectBuzzJudgeCorrect(t *testing.T) {
	store := testStore()
	r, _, clock, _ := newTestRoom(store)
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
	require.Equal(t, board.StateBuzzing, r.machine.State())
	openWindow(t, r, clock)

	submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	require.Equal(t, board.StateAwaitingResponse, r.machine.State())

	submit(r, "alice", models.RoleContestant, events.TypeSubmitResponse, events.SubmitResponsePayload{Response: "what is 1989"})
	submit(r, "helen", models.RoleHost, events.TypeJudge, events.JudgePayload{Correct: true})

	assert.Equal(t, models.Value(200), r.machine.Score("alice"))
	assert.Equal(t, models.ContestantID("alice"), r.picker)
	assert.Equal(t, board.StateSelecting, r.machine.State())

	require.Len(t, store.outcomes, 1)
	out := store.outcomes[0]
	assert.True(t, out.Correct)
	assert.Equal(t, models.Value(200), out.Delta)
	assert.Equal(t, models.RoomID("room-1"), out.RoomID)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", out.ID.String())
}

func TestIncorrectJudgeDeductsValue(t *testing.T) {
	r, _, clock, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
	openWindow(t, r, clock)
	submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	submit(r, "helen", models.RoleHost, events.TypeJudge, events.JudgePayload{Correct: false})

	assert.Equal(t, models.Value(-200), r.machine.Score("alice"))
	assert.Equal(t, models.ContestantID(""), r.picker, "incorrect response must not grant the pick")
}

func TestUnclaimedWindowExpiresWithZeroDelta(t *testing.T) {
	store := testStore()
	r, _, clock, _ := newTestRoom(store)
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
	openWindow(t, r, clock)

	clock.Advance(r.rules.BuzzWindow)
	r.onWindowTimer()

	assert.Equal(t, board.StateSelecting, r.machine.State())
	assert.Equal(t, models.Value(0), r.machine.Score("alice"))

	require.Len(t, store.outcomes, 1)
	out := store.outcomes[0]
	assert.True(t, out.Unclaimed())
	assert.Equal(t, models.Value(0), out.Delta)

	// The expired cell stays claimed.
	cell, err := r.machine.Board().CellAt(models.Position{Column: 0, Index: 0})
	require.NoError(t, err)
	assert.True(t, cell.Claimed)
}

func TestEarlyBuzzLockedOutAfterOpen(t *testing.T) {
	r, reg, clock, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)
	submit(r, "bob", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})

	// Alice jumps the gun during the reading period.
	submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	early := reg.lastTo("alice", events.OutError)
	require.NotNil(t, early)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(early.Data, &payload))
	assert.Equal(t, "early_buzz", payload.Code)

	openWindow(t, r, clock)

	// Still inside the penalty after open: locked out, bob wins.
	submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	locked := reg.lastTo("alice", events.OutError)
	require.NotNil(t, locked)
	require.NoError(t, json.Unmarshal(locked.Data, &payload))
	assert.Equal(t, "locked_out", payload.Code)

	submit(r, "bob", models.RoleContestant, events.TypeBuzz, nil)
	require.Equal(t, board.StateAwaitingResponse, r.machine.State())
	assert.Equal(t, models.ContestantID("bob"), r.machine.Selection().Responder)
}

func TestStaleDeadlineTickDoesNotOpenNextWindowEarly(t *testing.T) {
	store := testStore()
	store.boards["single"] = func() *models.Board {
		return &models.Board{
			RoundID: "single",
			Round:   models.RoundSingle,
			Columns: []models.BoardColumn{
				{Category: "HISTORY", Cells: []models.BoardCell{
					{Challenge: 101, Value: 200},
					{Challenge: 102, Value: 400},
				}},
			},
		}
	}
	r, reg, clock, _ := newTestRoom(store)
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
	openWindow(t, r, clock)

	// The deadline elapses, but the winning buzz is handled before the
	// tick is consumed off the timer channel.
	clock.Advance(r.rules.BuzzWindow)
	submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	require.Equal(t, board.StateAwaitingResponse, r.machine.State())
	submit(r, "helen", models.RoleHost, events.TypeJudge, events.JudgePayload{Correct: true})

	// The next selection arms a fresh reading period; the stale tick must
	// not survive to open its window with zero delay elapsed.
	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 1})
	require.Equal(t, timerOpenWindow, r.timerPurpose)
	select {
	case <-r.windowTimerChan():
		t.Fatal("stale deadline tick survived into the new window")
	default:
	}

	// The reading period is intact: a buzz now is still early.
	submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	early := reg.lastTo("alice", events.OutError)
	require.NotNil(t, early)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(early.Data, &payload))
	assert.Equal(t, "early_buzz", payload.Code)
}

func TestStaleIdleTickDoesNotRetireReoccupiedRoom(t *testing.T) {
	store := testStore()
	clock := clockwork.NewFakeClock()
	var retired []models.RoomID
	r := newRoom("room-1", DefaultRules(), clock, &fakeRegistry{}, store, &fakePublisher{}, func(id models.RoomID) {
		retired = append(retired, id)
	})
	r.ctx = context.Background()
	r.armIdleTimer()

	// The empty-room timeout elapses with the tick unconsumed, then a join
	// and a leave re-arm the timer. The old tick must not retire the room
	// before a fresh timeout runs down.
	clock.Advance(r.rules.IdleTimeout)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeLeave, nil)

	select {
	case <-r.idleTimerChan():
		t.Fatal("stale idle tick survived the re-arm")
	default:
	}
	assert.Empty(t, retired)
}

func TestOutcomeAnnouncedToWholeRoom(t *testing.T) {
	r, reg, clock, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
	openWindow(t, r, clock)
	submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	submit(r, "helen", models.RoleHost, events.TypeJudge, events.JudgePayload{Correct: true})

	frame := reg.lastAll(events.OutOutcome)
	require.NotNil(t, frame, "judged outcome must be broadcast to every connection")
	var out models.Outcome
	require.NoError(t, json.Unmarshal(frame.Data, &out))
	assert.Equal(t, models.ContestantID("alice"), out.Winner)
	assert.True(t, out.Correct)
	assert.Equal(t, models.Value(200), out.Delta)
}

func TestHostDisconnectPausesWindowAndRejoinResumes(t *testing.T) {
	r, _, clock, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
	openWindow(t, r, clock)

	clock.Advance(2 * time.Second)
	submit(r, "helen", models.RoleHost, events.TypeLeave, nil)
	assert.True(t, r.machine.AwaitingHost())
	assert.Equal(t, timerNone, r.timerPurpose)
	assert.Equal(t, r.rules.BuzzWindow-2*time.Second, r.pausedRemaining)

	// Buzzes are rejected while paused, and the wall clock running down
	// must not expire the frozen window.
	submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	assert.Equal(t, board.StateBuzzing, r.machine.State())
	clock.Advance(time.Minute)

	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	assert.False(t, r.machine.AwaitingHost())
	require.Equal(t, timerWindowDeadline, r.timerPurpose)
	assert.Equal(t, clock.Now().Add(r.rules.BuzzWindow-2*time.Second), r.windowDeadline)

	submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	assert.Equal(t, board.StateAwaitingResponse, r.machine.State())
}

func TestSelectWhileContestRejected(t *testing.T) {
	r, reg, _, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)
	submit(r, "bob", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
	require.Equal(t, board.StateBuzzing, r.machine.State())

	submit(r, "bob", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 1})

	errFrame := reg.lastTo("bob", events.OutError)
	require.NotNil(t, errFrame)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Data, &payload))
	assert.Equal(t, "invalid_transition", payload.Code)
	assert.Equal(t, models.ContestantID("alice"), r.machine.Selection().Selector)
}

func TestPickerOwnsTheNextSelection(t *testing.T) {
	r, reg, clock, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)
	submit(r, "bob", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
	openWindow(t, r, clock)
	submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	submit(r, "helen", models.RoleHost, events.TypeJudge, events.JudgePayload{Correct: true})
	require.Equal(t, models.ContestantID("alice"), r.picker)

	submit(r, "bob", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 1})
	errFrame := reg.lastTo("bob", events.OutError)
	require.NotNil(t, errFrame)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Data, &payload))
	assert.Equal(t, "role_denied", payload.Code)

	// The host picks on the picker's behalf; the wagerable cell belongs to
	// alice as selector.
	submit(r, "helen", models.RoleHost, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 1})
	require.Equal(t, board.StateAwaitingWager, r.machine.State())
	assert.Equal(t, models.ContestantID("alice"), r.machine.Selection().Selector)
}

func TestWagerFlow(t *testing.T) {
	r, reg, _, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)
	submit(r, "bob", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 1})
	require.Equal(t, board.StateAwaitingWager, r.machine.State())

	// Only the selector may wager.
	submit(r, "bob", models.RoleContestant, events.TypeWager, events.WagerPayload{Amount: 100})
	require.Equal(t, board.StateAwaitingWager, r.machine.State())

	// Score is zero, so the ceiling bounds the wager at 1000.
	submit(r, "alice", models.RoleContestant, events.TypeWager, events.WagerPayload{Amount: 5000})
	errFrame := reg.lastTo("alice", events.OutError)
	require.NotNil(t, errFrame)
	require.Equal(t, board.StateAwaitingWager, r.machine.State())

	submit(r, "alice", models.RoleContestant, events.TypeWager, events.WagerPayload{Amount: 800})
	require.Equal(t, board.StateAwaitingResponse, r.machine.State())

	submit(r, "alice", models.RoleContestant, events.TypeSubmitResponse, events.SubmitResponsePayload{Response: "what is versailles"})
	submit(r, "helen", models.RoleHost, events.TypeJudge, events.JudgePayload{Correct: false})
	assert.Equal(t, models.Value(-800), r.machine.Score("alice"))
}

func TestWagerableCellNeedsContestantSelector(t *testing.T) {
	r, reg, _, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)

	// No picker yet, so the host's pick has no contestant owner.
	submit(r, "helen", models.RoleHost, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 1})

	errFrame := reg.lastTo("helen", events.OutError)
	require.NotNil(t, errFrame)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Data, &payload))
	assert.Equal(t, "role_denied", payload.Code)

	// The claim was rolled back.
	assert.Equal(t, board.StateSelecting, r.machine.State())
	cell, err := r.machine.Board().CellAt(models.Position{Column: 0, Index: 1})
	require.NoError(t, err)
	assert.False(t, cell.Claimed)
}

func TestThrottledEventGetsRetryAfter(t *testing.T) {
	r, reg, _, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	// The buzz bucket holds 3 tokens; a fourth immediate buzz is throttled
	// even though the first three were rejected downstream.
	for i := 0; i < 4; i++ {
		submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
	}

	throttled := reg.lastTo("alice", events.OutThrottled)
	require.NotNil(t, throttled)
	var payload events.ThrottledPayload
	require.NoError(t, json.Unmarshal(throttled.Data, &payload))
	assert.Equal(t, events.TypeBuzz, payload.Event)
	assert.NotEmpty(t, payload.RetryAfter)
	assert.Equal(t, board.StateSelecting, r.machine.State())
}

func TestUnknownParticipantRejected(t *testing.T) {
	r, reg, _, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)

	submit(r, "ghost", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})

	errFrame := reg.lastTo("ghost", events.OutError)
	require.NotNil(t, errFrame)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Data, &payload))
	assert.Equal(t, "unknown_participant", payload.Code)
}

func TestUnknownEventTypeRejected(t *testing.T) {
	r, reg, _, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)

	r.handle(Inbound{ParticipantID: "helen", Role: models.RoleHost, Event: events.Envelope{Type: "dance", RoomID: "room-1"}})

	errFrame := reg.lastTo("helen", events.OutError)
	require.NotNil(t, errFrame)
}

func TestRejoinWithDifferentRoleRejected(t *testing.T) {
	r, reg, _, _ := newTestRoom(testStore())
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	submit(r, "alice", models.RoleSpectator, events.TypeJoin, nil)

	errFrame := reg.lastTo("alice", events.OutError)
	require.NotNil(t, errFrame)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Data, &payload))
	assert.Equal(t, "role_denied", payload.Code)
	assert.Equal(t, models.RoleContestant, r.participants["alice"])
}

func TestContentFailureReleasesSelection(t *testing.T) {
	store := testStore()
	r, reg, _, _ := newTestRoom(store)
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	store.challengeErr = context.DeadlineExceeded
	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})

	errFrame := reg.lastTo("alice", events.OutError)
	require.NotNil(t, errFrame)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(errFrame.Data, &payload))
	assert.Equal(t, "content_unavailable", payload.Code)
	assert.Equal(t, board.StateSelecting, r.machine.State())

	// The cell reopened, so the pick can be retried once content recovers.
	store.challengeErr = nil
	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
	assert.Equal(t, board.StateBuzzing, r.machine.State())
}

func TestRoundProgressionToDoubleAndMatchCompletion(t *testing.T) {
	store := testStore()
	store.boards["single"] = oneCellBoard("single", models.RoundSingle, 101)
	r, _, clock, pub := newTestRoom(store)
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	playOnlyCell := func() {
		submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
		openWindow(t, r, clock)
		submit(r, "alice", models.RoleContestant, events.TypeBuzz, nil)
		submit(r, "helen", models.RoleHost, events.TypeJudge, events.JudgePayload{Correct: true})
	}

	playOnlyCell()
	require.Equal(t, board.StateSelecting, r.machine.State())
	require.Equal(t, "double", r.machine.Board().RoundID)

	// Double round doubles cell values.
	cell, err := r.machine.Board().CellAt(models.Position{Column: 0, Index: 0})
	require.NoError(t, err)
	assert.Equal(t, models.Value(400), cell.Value)

	// alice holds the pick from the first round.
	playOnlyCell()
	assert.Equal(t, board.StateIdle, r.machine.State())
	assert.Equal(t, models.Value(600), r.machine.Score("alice"))

	var types []string
	for _, evt := range pub.published {
		types = append(types, evt.Type)
	}
	assert.Equal(t, []string{
		relay.EventRoundStarted,
		relay.EventOutcomeRecorded,
		relay.EventRoundStarted,
		relay.EventOutcomeRecorded,
		relay.EventMatchCompleted,
	}, types)
}

func TestIdleRoomRetires(t *testing.T) {
	store := testStore()
	clock := clockwork.NewFakeClock()
	var retired []models.RoomID
	r := newRoom("room-1", DefaultRules(), clock, &fakeRegistry{}, store, &fakePublisher{}, func(id models.RoomID) {
		retired = append(retired, id)
	})
	r.ctx = context.Background()

	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeLeave, nil)

	r.onIdleTimer()
	assert.True(t, r.closing)
	assert.Equal(t, []models.RoomID{"room-1"}, retired)
}

func TestIdleTimerIgnoredWhenOccupied(t *testing.T) {
	r, _, _, _ := newTestRoom(testStore())
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)

	r.onIdleTimer()
	assert.False(t, r.closing)
}

func TestSnapshotHidesHostFieldsFromPublic(t *testing.T) {
	r, _, clock, _ := newTestRoom(testStore())
	submit(r, "helen", models.RoleHost, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeJoin, nil)
	submit(r, "alice", models.RoleContestant, events.TypeSelectCell, events.SelectCellPayload{Column: 0, Index: 0})
	openWindow(t, r, clock)

	host := r.snapshot()
	require.NotNil(t, host.Selection)
	assert.Equal(t, []string{"1989"}, host.Selection.Correct)
	assert.Equal(t, "This year the wall fell", host.Selection.Clue)

	public := host.forRole(models.RoleSpectator, "")
	require.NotNil(t, public.Selection)
	assert.Nil(t, public.Selection.Correct)
	assert.Equal(t, "This year the wall fell", public.Selection.Clue, "the clue itself is public")
	assert.Equal(t, "open", public.Selection.Phase)
}
