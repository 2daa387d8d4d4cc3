package store

import (
	"context"

	"github.com/yossior/doublechess/internal/game"
)

// Gateway combines the Redis snapshot tier and the Postgres result tier
// behind the persistence surface the registry and sessions consume.
// Either tier may be absent; a missing tier simply narrows what can be
// recovered after a restart.
type Gateway struct {
	snapshots *SnapshotStore
	results   *ResultStore
}

func NewGateway(snapshots *SnapshotStore, results *ResultStore) *Gateway {
	return &Gateway{snapshots: snapshots, results: results}
}

// SaveSnapshot stores the live record in the snapshot tier.
func (g *Gateway) SaveSnapshot(ctx context.Context, rec *game.Record) error {
	if g == nil || g.snapshots == nil {
		return nil
	}
	if err := g.snapshots.Save(ctx, rec); err != nil {
		return &game.PersistenceError{Op: "snapshot", Err: err}
	}
	return nil
}

// SaveTerminal upserts the terminal record in both tiers. The snapshot
// write keeps rehydration of just-finished sessions cheap; the Postgres
// upsert is the durable record.
func (g *Gateway) SaveTerminal(ctx context.Context, rec *game.Record) error {
	if g == nil {
		return nil
	}
	if g.snapshots != nil {
		if err := g.snapshots.Save(ctx, rec); err != nil {
			return &game.PersistenceError{Op: "terminal snapshot", Err: err}
		}
	}
	if g.results != nil {
		if err := g.results.UpsertTerminal(ctx, rec); err != nil {
			return &game.PersistenceError{Op: "terminal upsert", Err: err}
		}
	}
	return nil
}

// FindBySessionID reads the snapshot tier first, then falls back to the
// durable result tier.
func (g *Gateway) FindBySessionID(ctx context.Context, id string) (*game.Record, error) {
	if g == nil {
		return nil, nil
	}
	if g.snapshots != nil {
		rec, err := g.snapshots.Load(ctx, id)
		if err != nil {
			return nil, &game.PersistenceError{Op: "snapshot load", Err: err}
		}
		if rec != nil {
			return rec, nil
		}
	}
	if g.results != nil {
		rec, err := g.results.FindBySessionID(ctx, id)
		if err != nil {
			return nil, &game.PersistenceError{Op: "result load", Err: err}
		}
		return rec, nil
	}
	return nil, nil
}

// FindOneWaiting returns a persisted session still waiting for an
// opponent, for matchmaking across restarts.
func (g *Gateway) FindOneWaiting(ctx context.Context) (*game.Record, error) {
	if g == nil || g.snapshots == nil {
		return nil, nil
	}
	rec, err := g.snapshots.FindOneWaiting(ctx)
	if err != nil {
		return nil, &game.PersistenceError{Op: "waiting scan", Err: err}
	}
	return rec, nil
}
