package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/triviarena/triviarena/go/internal/models"
	"github.com/triviarena/triviarena/go/internal/sqlutil"
)

// Repository implements Store over Postgres via database/sql (lib/pq driver).
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const getChallengeQuery = `
SELECT qid, category, clue, correct, media, comments
FROM challenges
WHERE qid = $1`

// GetChallenge fetches one clue record by content identifier.
func (r *Repository) GetChallenge(ctx context.Context, qid models.ChallengeID) (*models.ChallengeData, error) {
	var (
		ch       models.ChallengeData
		id       int64
		category sql.NullString
		correct  pq.StringArray
		media    pqtype.NullRawMessage
		comments sql.NullString
	)
	row := r.db.QueryRowContext(ctx, getChallengeQuery, int64(qid))
	if err := row.Scan(&id, &category, &ch.Clue, &correct, &media, &comments); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("challenge %d: %w", qid, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get challenge %d: %w", qid, err)
	}
	ch.ID = models.ChallengeID(id)
	ch.Category = sqlutil.FromSqlString(category, "")
	ch.Comments = sqlutil.FromSqlString(comments, "")
	ch.Correct = correct
	if media.Valid {
		if err := json.Unmarshal(media.RawMessage, &ch.Media); err != nil {
			return nil, fmt.Errorf("failed to decode media for challenge %d: %w", qid, err)
		}
	}
	return &ch, nil
}

const getBoardQuery = `
SELECT round_id, round, layout
FROM boards
WHERE round_id = $1`

// GetBoard fetches one round board. The layout column holds the category
// columns as JSON; every call returns a fresh copy the caller owns.
func (r *Repository) GetBoard(ctx context.Context, roundID string) (*models.Board, error) {
	var (
		b      models.Board
		round  int
		layout []byte
	)
	row := r.db.QueryRowContext(ctx, getBoardQuery, roundID)
	if err := row.Scan(&b.RoundID, &round, &layout); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("board %q: %w", roundID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get board %q: %w", roundID, err)
	}
	b.Round = models.Round(round)
	if err := json.Unmarshal(layout, &b.Columns); err != nil {
		return nil, fmt.Errorf("failed to decode board layout %q: %w", roundID, err)
	}
	return &b, nil
}

const appendOutcomeQuery = `
INSERT INTO match_outcomes (id, room_id, qid, winner, correct, delta, wager, decided_at, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// AppendOutcome records one judged outcome in match history. Records are
// immutable; there is no update path.
func (r *Repository) AppendOutcome(ctx context.Context, out models.Outcome) error {
	details, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, appendOutcomeQuery,
		out.ID,
		string(out.RoomID),
		int64(out.Challenge),
		string(out.Winner),
		out.Correct,
		int(out.Delta),
		int(out.Wager),
		out.DecidedAt,
		pqtype.NullRawMessage{RawMessage: details, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("failed to append outcome %s: %w", out.ID, err)
	}
	return nil
}
