package content

import (
	"context"
	"sync"

	"github.com/triviarena/triviarena/go/internal/models"
)

// CachedStore is a read-through cache in front of a Store so challenge and
// board lookups on the room event path stay in memory after first use.
// Outcome appends pass straight through. Challenge records are immutable and
// shared; boards are copied per call because rooms mutate their own grid.
type CachedStore struct {
	inner Store

	mu         sync.RWMutex
	challenges map[models.ChallengeID]*models.ChallengeData
	boards     map[string]*models.Board
}

// NewCachedStore wraps a backing store.
func NewCachedStore(inner Store) *CachedStore {
	return &CachedStore{
		inner:      inner,
		challenges: make(map[models.ChallengeID]*models.ChallengeData),
		boards:     make(map[string]*models.Board),
	}
}

func (c *CachedStore) GetChallenge(ctx context.Context, qid models.ChallengeID) (*models.ChallengeData, error) {
	c.mu.RLock()
	ch, ok := c.challenges[qid]
	c.mu.RUnlock()
	if ok {
		return ch, nil
	}

	ch, err := c.inner.GetChallenge(ctx, qid)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.challenges[qid] = ch
	c.mu.Unlock()
	return ch, nil
}

func (c *CachedStore) GetBoard(ctx context.Context, roundID string) (*models.Board, error) {
	c.mu.RLock()
	b, ok := c.boards[roundID]
	c.mu.RUnlock()
	if ok {
		return copyBoard(b), nil
	}

	b, err := c.inner.GetBoard(ctx, roundID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.boards[roundID] = b
	c.mu.Unlock()
	return copyBoard(b), nil
}

func (c *CachedStore) AppendOutcome(ctx context.Context, outcome models.Outcome) error {
	return c.inner.AppendOutcome(ctx, outcome)
}

func copyBoard(b *models.Board) *models.Board {
	out := &models.Board{
		RoundID: b.RoundID,
		Round:   b.Round,
		Columns: make([]models.BoardColumn, len(b.Columns)),
	}
	for i, col := range b.Columns {
		cells := make([]models.BoardCell, len(col.Cells))
		copy(cells, col.Cells)
		out.Columns[i] = models.BoardColumn{Category: col.Category, Cells: cells}
	}
	return out
}
