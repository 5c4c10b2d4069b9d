package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/triviarena/triviarena/go/internal/models"
	"github.com/triviarena/triviarena/go/internal/quiz/board"
	"github.com/triviarena/triviarena/go/internal/quiz/buzzer"
	"github.com/triviarena/triviarena/go/internal/quiz/content"
	"github.com/triviarena/triviarena/go/internal/quiz/events"
	"github.com/triviarena/triviarena/go/internal/quiz/limiter"
	"github.com/triviarena/triviarena/go/internal/quiz/relay"
)

// Registry is what the coordinator needs from the connection layer. The
// gateway's connection registry implements it; broadcasts snapshot their
// recipient set at dispatch and never block the event loop.
type Registry interface {
	BroadcastAll(room models.RoomID, data []byte)
	BroadcastRole(room models.RoomID, role models.Role, data []byte)
	SendTo(room models.RoomID, participantID string, data []byte)
}

// Inbound is one client event tagged with the authenticated participant
// identity attached by the gateway.
type Inbound struct {
	ParticipantID string
	Role          models.Role
	Event         events.Envelope
}

type message struct {
	in   *Inbound
	snap chan *StateSnapshot
}

type timerPurpose int

const (
	timerNone timerPurpose = iota
	timerOpenWindow
	timerWindowDeadline
)

// Room is the per-match authority. All state transitions happen on its single
// event loop goroutine, which is what makes buzz receipt sequencing and board
// transitions race-free. Concurrent rooms are fully independent.
type Room struct {
	id       models.RoomID
	rules    Rules
	clock    clockwork.Clock
	registry Registry
	content  content.Store
	relay    relay.Publisher

	inbox chan message

	ctx     context.Context
	closing bool
	onEmpty func(models.RoomID)

	machine  *board.Machine
	window   *buzzer.Window
	seq      uint64
	limiters map[events.Type]*limiter.Limiter

	participants map[string]models.Role
	hosts        int
	// picker is the contestant entitled to the next cell pick (the last
	// correct responder). Empty means any contestant, or the host, picks.
	picker models.ContestantID

	// challenge caches the content record for the active selection.
	challenge *models.ChallengeData
	roundIdx  int

	windowTimer     clockwork.Timer
	timerPurpose    timerPurpose
	windowDeadline  time.Time
	pausedPurpose   timerPurpose
	pausedRemaining time.Duration

	idleTimer clockwork.Timer
	createdAt time.Time
}

func newRoom(id models.RoomID, rules Rules, clock clockwork.Clock, reg Registry, store content.Store, pub relay.Publisher, onEmpty func(models.RoomID)) *Room {
	return &Room{
		id:           id,
		rules:        rules,
		clock:        clock,
		registry:     reg,
		content:      store,
		relay:        pub,
		inbox:        make(chan message, rules.InboxSize),
		onEmpty:      onEmpty,
		machine:      board.NewMachine(),
		limiters:     make(map[events.Type]*limiter.Limiter),
		participants: make(map[string]models.Role),
		createdAt:    clock.Now(),
	}
}

// Submit queues one inbound event. It never blocks; a full inbox drops the
// event with ErrRoomBusy so a flood cannot stall the caller.
func (r *Room) Submit(in Inbound) error {
	select {
	case r.inbox <- message{in: &in}:
		return nil
	default:
		return ErrRoomBusy
	}
}

// Snapshot asks the event loop for a point-in-time host-grade state view.
func (r *Room) Snapshot(ctx context.Context) (*StateSnapshot, error) {
	reply := make(chan *StateSnapshot, 1)
	select {
	case r.inbox <- message{snap: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the room's single writer. It owns every mutation of the board
// machine, the buzz window, and the participant set.
func (r *Room) run(ctx context.Context) {
	r.ctx = ctx
	r.armIdleTimer()
	log.Info().Str("room_id", string(r.id)).Msg("room started")

	for !r.closing {
		select {
		case <-ctx.Done():
			r.closing = true
		case msg := <-r.inbox:
			if msg.snap != nil {
				msg.snap <- r.snapshot()
				continue
			}
			r.handle(*msg.in)
		case <-r.windowTimerChan():
			r.onWindowTimer()
		case <-r.idleTimerChan():
			r.onIdleTimer()
		}
	}

	log.Info().Str("room_id", string(r.id)).Msg("room stopped")
}

func (r *Room) windowTimerChan() <-chan time.Time {
	if r.windowTimer == nil {
		return nil
	}
	return r.windowTimer.Chan()
}

func (r *Room) idleTimerChan() <-chan time.Time {
	if r.idleTimer == nil {
		return nil
	}
	return r.idleTimer.Chan()
}

// handle processes one inbound event: assign the receipt sequence, run the
// admission limiter, dispatch, then broadcast the resulting views.
func (r *Room) handle(in Inbound) {
	r.seq++
	seq := r.seq

	if !in.Event.Type.Known() {
		r.rejectEvent(in, fmt.Errorf("unknown event type %q", in.Event.Type))
		return
	}

	dec := r.limiterFor(in.Event.Type).Admit(in.ParticipantID, weightFor(in.Event.Type))
	if !dec.Permit {
		log.Debug().
			Str("room_id", string(r.id)).
			Str("participant_id", in.ParticipantID).
			Str("event", string(in.Event.Type)).
			Dur("retry_after", dec.RetryAfter).
			Msg("event throttled")
		r.sendTo(in.ParticipantID, events.OutThrottled, events.ThrottledPayload{
			Event:      in.Event.Type,
			RetryAfter: dec.RetryAfter.String(),
		})
		return
	}

	var (
		changed bool
		err     error
	)
	switch in.Event.Type {
	case events.TypeJoin:
		changed, err = r.handleJoin(in)
	case events.TypeLeave:
		changed, err = r.handleLeave(in)
	default:
		if _, ok := r.participants[in.ParticipantID]; !ok {
			err = ErrUnknownParticipant
			break
		}
		switch in.Event.Type {
		case events.TypeSelectCell:
			changed, err = r.handleSelect(in)
		case events.TypeBuzz:
			changed, err = r.handleBuzz(in, seq)
		case events.TypeWager:
			changed, err = r.handleWager(in)
		case events.TypeSubmitResponse:
			changed, err = r.handleResponse(in)
		case events.TypeJudge:
			changed, err = r.handleJudge(in)
		}
	}

	if err != nil {
		r.rejectEvent(in, err)
		return
	}
	if changed {
		r.broadcastState()
	}
}

// rejectEvent reports a failed event to the originating actor only; the room
// state is untouched.
func (r *Room) rejectEvent(in Inbound, err error) {
	code := "rejected"
	var ite *board.InvalidTransitionError
	switch {
	case errors.As(err, &ite):
		code = "invalid_transition"
	case errors.Is(err, ErrUnknownParticipant):
		code = "unknown_participant"
	case errors.Is(err, ErrContentUnavailable):
		code = "content_unavailable"
	case errors.Is(err, ErrRoleDenied):
		code = "role_denied"
	}
	log.Debug().
		Str("room_id", string(r.id)).
		Str("participant_id", in.ParticipantID).
		Str("event", string(in.Event.Type)).
		Str("code", code).
		Err(err).
		Msg("event rejected")
	r.sendTo(in.ParticipantID, events.OutError, events.ErrorPayload{
		Event:  in.Event.Type,
		Code:   code,
		Reason: err.Error(),
	})
}

func (r *Room) limiterFor(t events.Type) *limiter.Limiter {
	l, ok := r.limiters[t]
	if !ok {
		l = limiter.New(r.rules.limitFor(t), r.clock)
		r.limiters[t] = l
	}
	return l
}

func (r *Room) handleJoin(in Inbound) (bool, error) {
	if existing, ok := r.participants[in.ParticipantID]; ok {
		if existing != in.Role {
			return false, fmt.Errorf("%w: already joined as %s", ErrRoleDenied, existing)
		}
		return true, nil // idempotent rejoin
	}
	r.participants[in.ParticipantID] = in.Role
	r.stopIdleTimer()

	switch in.Role {
	case models.RoleContestant:
		r.machine.RegisterContestant(models.ContestantID(in.ParticipantID))
	case models.RoleHost:
		r.hosts++
		if r.machine.AwaitingHost() {
			r.machine.ResumeHost()
			r.resumePausedWindow()
			log.Info().Str("room_id", string(r.id)).Msg("host reconnected, room resumed")
		}
	}
	log.Info().
		Str("room_id", string(r.id)).
		Str("participant_id", in.ParticipantID).
		Str("role", string(in.Role)).
		Msg("participant joined")

	if r.machine.State() == board.StateIdle && r.hosts > 0 {
		if err := r.tryLoadRound(); err != nil {
			r.notifyHosts(err)
		}
	}
	return true, nil
}

func (r *Room) handleLeave(in Inbound) (bool, error) {
	role, ok := r.participants[in.ParticipantID]
	if !ok {
		return false, ErrUnknownParticipant
	}
	delete(r.participants, in.ParticipantID)

	if role == models.RoleHost {
		r.hosts--
		if r.hosts == 0 {
			r.machine.SuspendForHost()
			r.pauseWindow()
			log.Warn().Str("room_id", string(r.id)).Msg("last host left, room awaiting host")
		}
	}
	if len(r.participants) == 0 {
		r.armIdleTimer()
	}
	log.Info().
		Str("room_id", string(r.id)).
		Str("participant_id", in.ParticipantID).
		Str("role", string(role)).
		Msg("participant left")
	return true, nil
}

func (r *Room) handleSelect(in Inbound) (bool, error) {
	var p events.SelectCellPayload
	if err := json.Unmarshal(in.Event.Data, &p); err != nil {
		return false, fmt.Errorf("bad selectCell payload: %w", err)
	}

	var selector models.ContestantID
	switch in.Role {
	case models.RoleHost:
		selector = r.picker
	case models.RoleContestant:
		if r.picker != "" && r.picker != models.ContestantID(in.ParticipantID) {
			return false, fmt.Errorf("%w: it is %s's pick", ErrRoleDenied, r.picker)
		}
		selector = models.ContestantID(in.ParticipantID)
	default:
		return false, ErrRoleDenied
	}

	sel, err := r.machine.SelectCell(models.Position{Column: p.Column, Index: p.Index}, selector)
	if err != nil {
		return false, err
	}
	if sel.Wagerable && sel.Selector == "" {
		// A wagerable cell needs a contestant owner; roll the claim back.
		if rerr := r.machine.ReleaseSelection(); rerr != nil {
			log.Error().Err(rerr).Str("room_id", string(r.id)).Msg("failed to release ownerless wager selection")
		}
		return false, fmt.Errorf("%w: wagerable cell needs a contestant selector", ErrRoleDenied)
	}

	ch, err := r.content.GetChallenge(r.ctx, sel.Challenge)
	if err != nil {
		// Pause the selection rather than play a cell we cannot show;
		// releasing the claim lets the next host action retry the pick.
		log.Error().Err(err).
			Str("room_id", string(r.id)).
			Uint64("qid", uint64(sel.Challenge)).
			Msg("challenge content unavailable")
		if rerr := r.machine.ReleaseSelection(); rerr != nil {
			log.Error().Err(rerr).Str("room_id", string(r.id)).Msg("failed to release selection")
		}
		return false, ErrContentUnavailable
	}
	r.challenge = ch

	if r.machine.State() == board.StateBuzzing {
		r.window = buzzer.NewWindow(r.rules.EarlyBuzzPenalty, r.clock)
		r.armWindowTimer(timerOpenWindow, r.rules.ReadDelay)
	}
	log.Info().
		Str("room_id", string(r.id)).
		Str("position", sel.Position.String()).
		Int("value", int(sel.Value)).
		Bool("wagerable", sel.Wagerable).
		Msg("cell selected")
	return true, nil
}

func (r *Room) handleBuzz(in Inbound, seq uint64) (bool, error) {
	if in.Role != models.RoleContestant {
		return false, ErrRoleDenied
	}
	if r.machine.State() != board.StateBuzzing || r.window == nil {
		return false, &board.InvalidTransitionError{State: r.machine.State(), Event: "buzz"}
	}
	if r.pausedPurpose != timerNone {
		return false, &board.InvalidTransitionError{State: r.machine.State(), Event: "buzz (window paused)"}
	}

	cid := models.ContestantID(in.ParticipantID)
	verdict := r.window.Buzz(cid, seq)
	if verdict != buzzer.VerdictWinning {
		r.sendTo(in.ParticipantID, events.OutError, events.ErrorPayload{
			Event:  events.TypeBuzz,
			Code:   buzzVerdictCode(verdict),
			Reason: "buzz not recognized",
		})
		return false, nil
	}

	res := r.window.Resolve()
	r.cancelWindowTimer()
	if err := r.machine.RecognizeWinner(res.Winner); err != nil {
		return false, err
	}
	log.Info().
		Str("room_id", string(r.id)).
		Str("winner", string(res.Winner)).
		Uint64("seq", seq).
		Int("early_offenders", len(res.EarlyOffenders)).
		Msg("buzz recognized")
	return true, nil
}

func buzzVerdictCode(v buzzer.Verdict) string {
	switch v {
	case buzzer.VerdictEarly:
		return "early_buzz"
	case buzzer.VerdictLockedOut:
		return "locked_out"
	case buzzer.VerdictLate:
		return "late_buzz"
	default:
		return "window_closed"
	}
}

func (r *Room) handleWager(in Inbound) (bool, error) {
	if in.Role != models.RoleContestant {
		return false, ErrRoleDenied
	}
	var p events.WagerPayload
	if err := json.Unmarshal(in.Event.Data, &p); err != nil {
		return false, fmt.Errorf("bad wager payload: %w", err)
	}
	ceiling := r.rules.WagerCeiling
	if b := r.machine.Board(); b != nil {
		ceiling *= models.Value(b.Round.ValueMultiplier())
	}
	if err := r.machine.PlaceWager(models.ContestantID(in.ParticipantID), models.Wager(p.Amount), ceiling); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Room) handleResponse(in Inbound) (bool, error) {
	if in.Role != models.RoleContestant {
		return false, ErrRoleDenied
	}
	var p events.SubmitResponsePayload
	if err := json.Unmarshal(in.Event.Data, &p); err != nil {
		return false, fmt.Errorf("bad submitResponse payload: %w", err)
	}
	if err := r.machine.RecordResponse(models.ContestantID(in.ParticipantID), p.Response); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Room) handleJudge(in Inbound) (bool, error) {
	if in.Role != models.RoleHost {
		return false, ErrRoleDenied
	}
	var p events.JudgePayload
	if err := json.Unmarshal(in.Event.Data, &p); err != nil {
		return false, fmt.Errorf("bad judge payload: %w", err)
	}
	out, err := r.machine.Judge(p.Correct)
	if err != nil {
		return false, err
	}
	if out.Correct && out.Winner != "" {
		r.picker = out.Winner
	}
	r.finishOutcome(out)
	return true, nil
}

// onWindowTimer fires for the window's two deadlines: the end of the armed
// reading period, then the end of the open buzz period.
func (r *Room) onWindowTimer() {
	switch r.timerPurpose {
	case timerOpenWindow:
		// Window-open consumes its own receipt sequence so buzz ordering
		// relative to the opening stays well defined.
		r.seq++
		r.window.Open()
		r.armWindowTimer(timerWindowDeadline, r.rules.BuzzWindow)
		log.Debug().Str("room_id", string(r.id)).Uint64("seq", r.seq).Msg("buzz window open")
		r.broadcastState()
	case timerWindowDeadline:
		r.timerPurpose = timerNone
		r.windowDeadline = time.Time{}
		res := r.window.Resolve()
		if !res.Unclaimed() {
			// A winner is resolved at buzz time; a deadline with a
			// winner means a stale fire. Ignore it.
			return
		}
		out, err := r.machine.ExpireUnclaimed()
		if err != nil {
			log.Error().Err(err).Str("room_id", string(r.id)).Msg("window expiry in unexpected state")
			return
		}
		log.Info().Str("room_id", string(r.id)).Msg("buzz window expired unclaimed")
		r.finishOutcome(out)
		r.broadcastState()
	}
}

func (r *Room) onIdleTimer() {
	if len(r.participants) > 0 {
		return
	}
	log.Info().
		Str("room_id", string(r.id)).
		Dur("idle_timeout", r.rules.IdleTimeout).
		Msg("room idle, retiring")
	r.closing = true
	if r.onEmpty != nil {
		r.onEmpty(r.id)
	}
}

// finishOutcome stamps and persists one judged outcome, publishes it to the
// relay, and advances the round when the board is exhausted.
func (r *Room) finishOutcome(out models.Outcome) {
	out.ID = uuid.New()
	out.RoomID = r.id
	out.DecidedAt = r.clock.Now()

	// History append is best effort; losing one record must not stall play.
	if err := r.content.AppendOutcome(r.ctx, out); err != nil {
		log.Error().Err(err).
			Str("room_id", string(r.id)).
			Str("outcome_id", out.ID.String()).
			Msg("failed to append outcome to match history")
	}
	r.publishOutcome(out)
	r.announceOutcome(out)

	r.window = nil
	r.challenge = nil

	if r.machine.State() == board.StateRoundExhausted {
		if err := r.machine.FinishRound(); err != nil {
			log.Error().Err(err).Str("room_id", string(r.id)).Msg("failed to finish round")
			return
		}
		if r.roundIdx >= len(r.rules.Rounds) {
			log.Info().Str("room_id", string(r.id)).Msg("all rounds exhausted, match complete")
			r.publishLifecycle(relay.EventMatchCompleted, nil)
			return
		}
		if err := r.tryLoadRound(); err != nil {
			r.notifyHosts(err)
		}
	}
}

// tryLoadRound loads the next configured round board. A content failure
// leaves the machine idle so the next host action retries.
func (r *Room) tryLoadRound() error {
	if r.roundIdx >= len(r.rules.Rounds) {
		return nil
	}
	roundID := r.rules.Rounds[r.roundIdx]
	b, err := r.content.GetBoard(r.ctx, roundID)
	if err != nil {
		log.Error().Err(err).
			Str("room_id", string(r.id)).
			Str("round_id", roundID).
			Msg("board content unavailable")
		return ErrContentUnavailable
	}
	if err := r.machine.LoadBoard(b); err != nil {
		return err
	}
	if err := r.machine.StartRound(); err != nil {
		return err
	}
	r.roundIdx++
	log.Info().
		Str("room_id", string(r.id)).
		Str("round_id", roundID).
		Str("round", b.Round.String()).
		Msg("round started")
	r.publishLifecycle(relay.EventRoundStarted, map[string]string{"round_id": roundID})
	return nil
}

func (r *Room) notifyHosts(err error) {
	data, merr := r.outbound(events.OutError, events.ErrorPayload{
		Code:   "content_unavailable",
		Reason: err.Error(),
	})
	if merr != nil {
		return
	}
	r.registry.BroadcastRole(r.id, models.RoleHost, data)
}

// Window timer plumbing. One timer serves both window phases; a purpose tag
// distinguishes them. Stop does not clear a tick that already landed in the
// channel, so every stop and re-arm drains it, or the stale tick would fire
// the next window's phase instantly.

func (r *Room) armWindowTimer(purpose timerPurpose, d time.Duration) {
	if r.windowTimer == nil {
		r.windowTimer = r.clock.NewTimer(d)
	} else {
		r.windowTimer.Stop()
		drainTimer(r.windowTimer)
		r.windowTimer.Reset(d)
	}
	r.timerPurpose = purpose
	r.windowDeadline = r.clock.Now().Add(d)
}

func (r *Room) cancelWindowTimer() {
	if r.windowTimer != nil {
		r.windowTimer.Stop()
		drainTimer(r.windowTimer)
	}
	r.timerPurpose = timerNone
	r.windowDeadline = time.Time{}
}

func drainTimer(t clockwork.Timer) {
	select {
	case <-t.Chan():
	default:
	}
}

// pauseWindow freezes an in-flight buzz window when the last host drops. The
// remaining time, not the elapsed wall clock, is restored on resume.
func (r *Room) pauseWindow() {
	if r.timerPurpose == timerNone {
		return
	}
	remaining := r.windowDeadline.Sub(r.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	r.pausedPurpose = r.timerPurpose
	r.pausedRemaining = remaining
	r.cancelWindowTimer()
	log.Info().
		Str("room_id", string(r.id)).
		Dur("remaining", remaining).
		Msg("buzz window paused")
}

func (r *Room) resumePausedWindow() {
	if r.pausedPurpose == timerNone {
		return
	}
	r.armWindowTimer(r.pausedPurpose, r.pausedRemaining)
	r.pausedPurpose = timerNone
	r.pausedRemaining = 0
	log.Info().Str("room_id", string(r.id)).Msg("buzz window resumed")
}

func (r *Room) armIdleTimer() {
	if r.idleTimer == nil {
		r.idleTimer = r.clock.NewTimer(r.rules.IdleTimeout)
	} else {
		r.idleTimer.Stop()
		drainTimer(r.idleTimer)
		r.idleTimer.Reset(r.rules.IdleTimeout)
	}
}

func (r *Room) stopIdleTimer() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		drainTimer(r.idleTimer)
	}
}

func (r *Room) publishOutcome(out models.Outcome) {
	payload, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Str("room_id", string(r.id)).Msg("failed to marshal outcome")
		return
	}
	r.publish(relay.Event{
		ID:        out.ID,
		RoomID:    string(r.id),
		Type:      relay.EventOutcomeRecorded,
		Payload:   payload,
		CreatedAt: out.DecidedAt,
	})
}

func (r *Room) publishLifecycle(typ string, fields map[string]string) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return
	}
	r.publish(relay.Event{
		ID:        uuid.New(),
		RoomID:    string(r.id),
		Type:      typ,
		Payload:   payload,
		CreatedAt: r.clock.Now(),
	})
}

func (r *Room) publish(evt relay.Event) {
	if r.relay == nil {
		return
	}
	if err := r.relay.Publish(r.ctx, evt); err != nil {
		log.Error().Err(err).
			Str("room_id", string(r.id)).
			Str("event_type", evt.Type).
			Msg("failed to publish match event")
	}
}
