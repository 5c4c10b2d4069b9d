package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoomID identifies one live match session.
type RoomID string

// ContestantID is the stable identifier of a contestant across connections.
type ContestantID string

// ChallengeID is the content database identifier of a single clue ("qid").
type ChallengeID uint64

// UnknownChallengeID is the zero value reserved for missing content.
const UnknownChallengeID = ChallengeID(0)

// Value and Wager are distinct operationally: a Value comes from the board
// cell, a Wager is chosen by a contestant.
type Value int

type Wager int

// Role tags a connection with its participant kind.
type Role string

const (
	RoleHost       Role = "host"
	RoleContestant Role = "contestant"
	RoleSpectator  Role = "spectator"
)

// ParseRole validates a role string received from the transport layer.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleHost, RoleContestant, RoleSpectator:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Round enumerates the match rounds.
type Round int

const (
	RoundUnknown Round = iota
	RoundSingle
	RoundDouble
	RoundFinal
	RoundTiebreaker
)

var roundNames = [...]string{"unknown", "single", "double", "final", "tiebreaker"}

func (r Round) String() string {
	if r < 0 || int(r) >= len(roundNames) {
		return roundNames[0]
	}
	return roundNames[r]
}

// ValueMultiplier returns the factor applied to base cell values for a round.
// The double round doubles every cell value.
func (r Round) ValueMultiplier() int {
	if r == RoundDouble {
		return 2
	}
	return 1
}

// Position locates a board cell by category column and (descending) value row.
type Position struct {
	Column int `json:"column"`
	Index  int `json:"index"`
}

func (p Position) String() string {
	return fmt.Sprintf("c%d/r%d", p.Column, p.Index)
}

// ChallengeData is the content store's record for one clue. Correct responses
// are only ever shown to the host role.
type ChallengeData struct {
	ID       ChallengeID `json:"qid"`
	Category string      `json:"category,omitempty"`
	Clue     string      `json:"clue"`
	Correct  []string    `json:"correct,omitempty"`
	Media    []MediaRef  `json:"media,omitempty"`
	Comments string      `json:"comments,omitempty"`
}

// MediaRef points at an image/audio/video clue relative to the media base URL.
type MediaRef struct {
	MimeType string `json:"mime,omitempty"`
	MediaURL string `json:"url"`
}

// BoardCell is one selectable cell of a round board.
type BoardCell struct {
	Challenge ChallengeID `json:"qid"`
	Value     Value       `json:"value"`
	Wagerable bool        `json:"wagerable,omitempty"`
	Claimed   bool        `json:"claimed"`
}

// BoardColumn is one category column of cells, ordered by ascending value.
type BoardColumn struct {
	Category string      `json:"category"`
	Cells    []BoardCell `json:"cells"`
}

// Board is the ordered grid of category columns for one round.
type Board struct {
	RoundID string        `json:"round_id"`
	Round   Round         `json:"-"`
	Columns []BoardColumn `json:"columns"`
}

// CellAt returns the cell at pos, or an error when pos is off the grid.
func (b *Board) CellAt(pos Position) (*BoardCell, error) {
	if pos.Column < 0 || pos.Column >= len(b.Columns) {
		return nil, fmt.Errorf("column %d out of range", pos.Column)
	}
	col := b.Columns[pos.Column]
	if pos.Index < 0 || pos.Index >= len(col.Cells) {
		return nil, fmt.Errorf("index %d out of range in column %d", pos.Index, pos.Column)
	}
	return &col.Cells[pos.Index], nil
}

// Remaining counts the unclaimed cells on the board.
func (b *Board) Remaining() int {
	n := 0
	for _, col := range b.Columns {
		for _, cell := range col.Cells {
			if !cell.Claimed {
				n++
			}
		}
	}
	return n
}

// Outcome is the immutable record of one judged selection. It is appended to
// match history and never mutated after creation.
type Outcome struct {
	ID        uuid.UUID    `json:"id"`
	RoomID    RoomID       `json:"room_id"`
	Challenge ChallengeID  `json:"qid"`
	Position  Position     `json:"position"`
	Winner    ContestantID `json:"winner,omitempty"`
	Correct   bool         `json:"correct"`
	Delta     Value        `json:"delta"`
	Wager     Wager        `json:"wager,omitempty"`
	DecidedAt time.Time    `json:"decided_at"`
}

// Unclaimed reports whether the selection expired with no winner.
func (o Outcome) Unclaimed() bool {
	return o.Winner == ""
}
