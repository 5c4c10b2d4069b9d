package events

import (
	"encoding/json"
	"time"
)

// Inbound and outbound event shapes shared between the coordinator and the
// gateway packages.

// Type classifies an inbound client event.
type Type string

const (
	TypeJoin           Type = "join"
	TypeLeave          Type = "leave"
	TypeSelectCell     Type = "selectCell"
	TypeBuzz           Type = "buzz"
	TypeWager          Type = "wager"
	TypeSubmitResponse Type = "submitResponse"
	TypeJudge          Type = "judge"
)

// Known reports whether t is a type the coordinator dispatches on.
func (t Type) Known() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeSelectCell, TypeBuzz, TypeWager, TypeSubmitResponse, TypeJudge:
		return true
	}
	return false
}

// Envelope is the transport-agnostic inbound event frame. ParticipantID and
// role are attached by the gateway from the already-authenticated connection,
// never trusted from the body.
type Envelope struct {
	Type   Type            `json:"type"`
	RoomID string          `json:"room_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SelectCellPayload is the payload for a selectCell event.
type SelectCellPayload struct {
	Column int `json:"column"`
	Index  int `json:"index"`
}

// WagerPayload is the payload for a wager event.
type WagerPayload struct {
	Amount int `json:"amount"`
}

// SubmitResponsePayload is the payload for a submitResponse event.
type SubmitResponsePayload struct {
	Response string `json:"response"`
}

// JudgePayload is the payload for a judge event from the host.
type JudgePayload struct {
	Correct bool `json:"correct"`
}

// Outbound event types pushed to connected clients.
const (
	OutStateUpdate Type = "stateUpdate"
	OutOutcome     Type = "outcome"
	OutThrottled   Type = "throttled"
	OutError       Type = "error"
)

// OutboundEvent is the frame pushed to clients over the registry.
type OutboundEvent struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ThrottledPayload is sent only to the originating connection when the
// admission limiter denies an event.
type ThrottledPayload struct {
	Event      Type   `json:"event"`
	RetryAfter string `json:"retry_after"`
}

// ErrorPayload reports a rejected event back to the originating connection.
type ErrorPayload struct {
	Event  Type   `json:"event"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}
