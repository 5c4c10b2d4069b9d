// Package content is the coordinator's read side for boards and challenges
// and the append-only sink for match history. The coordinator treats it as an
// external collaborator: a failure pauses the affected selection, never the
// room.
package content

import (
	"context"
	"errors"

	"github.com/triviarena/triviarena/go/internal/models"
)

// ErrNotFound means the requested record does not exist in the content store.
var ErrNotFound = errors.New("content not found")

// Store is the content interface consumed by the coordinator. Reads are
// assumed cached and fast; AppendOutcome records are opaque to the store and
// never read back on the event path.
type Store interface {
	GetChallenge(ctx context.Context, qid models.ChallengeID) (*models.ChallengeData, error)
	GetBoard(ctx context.Context, roundID string) (*models.Board, error)
	AppendOutcome(ctx context.Context, outcome models.Outcome) error
}
