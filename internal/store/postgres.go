package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/yossior/doublechess/internal/game"
)

// ResultStore holds terminal session records in Postgres. Writes are
// idempotent upserts keyed by session id: retries and duplicate
// deliveries collapse into the same row.
type ResultStore struct {
	db *sql.DB
}

func NewResultStore(databaseURL string) (*ResultStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &ResultStore{db: db}, nil
}

func (r *ResultStore) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// UpsertTerminal writes the terminal record for a session.
func (r *ResultStore) UpsertTerminal(ctx context.Context, rec *game.Record) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}
	historyRaw, err := json.Marshal(rec.History)
	if err != nil {
		return err
	}
	movesRaw, _ := json.Marshal(rec.MovesSAN())

	q := `INSERT INTO sessions (
	    session_id, variant, white_id, white_name, white_seated,
	    black_id, black_name, black_seated,
	    moves_san, history, final_fen,
	    white_ms, black_ms, initial_ms, increment_ms,
	    status, result, winner,
	    created_at, started_at, completed_at, last_move_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
	  ) ON CONFLICT (session_id) DO UPDATE SET
	    moves_san=EXCLUDED.moves_san,
	    history=EXCLUDED.history,
	    final_fen=EXCLUDED.final_fen,
	    white_ms=EXCLUDED.white_ms,
	    black_ms=EXCLUDED.black_ms,
	    status=EXCLUDED.status,
	    result=EXCLUDED.result,
	    winner=EXCLUDED.winner,
	    completed_at=EXCLUDED.completed_at,
	    last_move_at=EXCLUDED.last_move_at`

	_, err = r.db.ExecContext(ctx, q,
		rec.SessionID, string(rec.Variant),
		rec.WhiteID, rec.WhiteName, rec.WhiteSeated,
		rec.BlackID, rec.BlackName, rec.BlackSeated,
		string(movesRaw), string(historyRaw), rec.FinalFEN,
		rec.WhiteMS, rec.BlackMS, rec.InitialMS, rec.IncrementMS,
		string(rec.Status), string(rec.Result), string(rec.Winner),
		rec.CreatedAt, nullTime(rec.StartedAt), nullTime(rec.CompletedAt), nullTime(rec.LastMoveAt),
	)
	return err
}

// FindBySessionID loads a persisted record, or nil when absent.
func (r *ResultStore) FindBySessionID(ctx context.Context, id string) (*game.Record, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	q := `SELECT session_id, variant, white_id, white_name, white_seated,
	        black_id, black_name, black_seated,
	        history, final_fen, white_ms, black_ms, initial_ms, increment_ms,
	        status, result, winner, created_at, started_at, completed_at, last_move_at
	      FROM sessions WHERE session_id = $1`

	var (
		rec        game.Record
		variant    string
		status     string
		result     string
		winner     string
		historyRaw []byte
		startedAt  sql.NullTime
		completed  sql.NullTime
		lastMove   sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&rec.SessionID, &variant, &rec.WhiteID, &rec.WhiteName, &rec.WhiteSeated,
		&rec.BlackID, &rec.BlackName, &rec.BlackSeated,
		&historyRaw, &rec.FinalFEN, &rec.WhiteMS, &rec.BlackMS, &rec.InitialMS, &rec.IncrementMS,
		&status, &result, &winner, &rec.CreatedAt, &startedAt, &completed, &lastMove,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &rec.History); err != nil {
			return nil, fmt.Errorf("decode history for %s: %w", id, err)
		}
	}
	rec.Variant = game.Variant(variant)
	rec.Status = game.Status(status)
	rec.Result = game.Reason(result)
	rec.Winner = game.Color(winner)
	if startedAt.Valid {
		rec.StartedAt = startedAt.Time
	}
	if completed.Valid {
		rec.CompletedAt = completed.Time
	}
	if lastMove.Valid {
		rec.LastMoveAt = lastMove.Time
	}
	return &rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
