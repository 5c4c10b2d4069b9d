package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triviarena/triviarena/go/internal/dbconfig"
	"github.com/triviarena/triviarena/go/internal/models"
)

// ChallengeRecord mirrors the challenges JSON snapshot
type ChallengeRecord struct {
	ID       uint64             `json:"qid"`
	Category string             `json:"category"`
	Clue     string             `json:"clue"`
	Correct  []string           `json:"correct"`
	Media    []models.MediaRef  `json:"media,omitempty"`
	Comments string             `json:"comments,omitempty"`
}

// BoardRecord mirrors the boards JSON snapshot
type BoardRecord struct {
	RoundID string               `json:"round_id"`
	Round   int                  `json:"round"`
	Columns []models.BoardColumn `json:"columns"`
}

func main() {
	ctx := context.Background()

	// 1) Load challenges.json
	cData, err := os.ReadFile("go/internal/assets/challenges.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "read challenges.json: %v\n", err)
		os.Exit(1)
	}
	var challenges []ChallengeRecord
	if err := json.Unmarshal(cData, &challenges); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal challenges: %v\n", err)
		os.Exit(1)
	}

	// 2) Load boards.json
	bData, err := os.ReadFile("go/internal/assets/boards.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "read boards.json: %v\n", err)
		os.Exit(1)
	}
	var boards []BoardRecord
	if err := json.Unmarshal(bData, &boards); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal boards: %v\n", err)
		os.Exit(1)
	}

	// 3) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 4) Upsert challenges
	var inserted, skipped, errs int
	for _, ch := range challenges {
		media, err := json.Marshal(ch.Media)
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal media for %d: %v\n", ch.ID, err)
			errs++
			continue
		}
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO challenges (qid, category, clue, correct, media, comments)
            VALUES ($1,$2,$3,$4,$5,$6)
            ON CONFLICT (qid) DO NOTHING
        `, ch.ID, ch.Category, ch.Clue, ch.Correct, media, ch.Comments)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting challenge %d: %v\n", ch.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}
	fmt.Printf(
		"Challenges seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		len(challenges), inserted, skipped, errs,
	)

	// 5) Upsert boards
	inserted, skipped, errs = 0, 0, 0
	for _, b := range boards {
		layout, err := json.Marshal(b.Columns)
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal layout for %s: %v\n", b.RoundID, err)
			errs++
			continue
		}
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO boards (round_id, round, layout)
            VALUES ($1,$2,$3)
            ON CONFLICT (round_id) DO NOTHING
        `, b.RoundID, b.Round, layout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting board %s: %v\n", b.RoundID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}
	fmt.Printf(
		"Boards seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		len(boards), inserted, skipped, errs,
	)
}
