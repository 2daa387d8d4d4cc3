package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/yossior/doublechess/internal/game"
)

func newTestSnapshotStore(t *testing.T) *SnapshotStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	s, err := NewSnapshotStore(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(id string, status game.Status) *game.Record {
	return &game.Record{
		SessionID:   id,
		Variant:     game.VariantUnbalanced,
		WhiteID:     "u1",
		WhiteSeated: true,
		FinalFEN:    "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		WhiteMS:     180000,
		BlackMS:     180000,
		InitialMS:   180000,
		IncrementMS: 2000,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestSnapshotStore_SaveLoad(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()

	rec := testRecord("s1", game.StatusActive)
	rec.History = []game.MoveRecord{{
		SAN: "e4", UCI: "e2e4", Color: game.White,
		FEN:     "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
		WhiteMS: 180000, BlackMS: 180000, PlayedAt: time.Now().UTC(),
	}}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.SessionID != "s1" || got.Status != game.StatusActive {
		t.Fatalf("unexpected record: %+v", got)
	}
	if len(got.History) != 1 || got.History[0].UCI != "e2e4" {
		t.Fatalf("history did not survive: %+v", got.History)
	}

	missing, err := s.Load(ctx, "nope")
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for absent id, got %+v", missing)
	}
}

func TestSnapshotStore_WaitingIndex(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testRecord("w1", game.StatusWaiting)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec, err := s.FindOneWaiting(ctx)
	if err != nil {
		t.Fatalf("FindOneWaiting: %v", err)
	}
	if rec == nil || rec.SessionID != "w1" {
		t.Fatalf("waiting session not found: %+v", rec)
	}

	// Once the session starts the index entry goes away.
	if err := s.Save(ctx, testRecord("w1", game.StatusActive)); err != nil {
		t.Fatalf("Save active: %v", err)
	}
	rec, err = s.FindOneWaiting(ctx)
	if err != nil {
		t.Fatalf("FindOneWaiting: %v", err)
	}
	if rec != nil {
		t.Fatalf("started session still advertised as waiting: %+v", rec)
	}
}

func TestSnapshotStore_PrunesStaleIndexEntries(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testRecord("w1", game.StatusWaiting)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Drop the record but leave the index entry behind.
	if err := s.rdb.Del(ctx, sessionKey("w1")).Err(); err != nil {
		t.Fatalf("Del: %v", err)
	}

	rec, err := s.FindOneWaiting(ctx)
	if err != nil {
		t.Fatalf("FindOneWaiting: %v", err)
	}
	if rec != nil {
		t.Fatalf("stale entry returned: %+v", rec)
	}
	ids, err := s.rdb.SMembers(ctx, waitingKey()).Result()
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("stale entry not pruned: %v", ids)
	}
}

func TestSnapshotStore_Remove(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, testRecord("w1", game.StatusWaiting)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Remove(ctx, "w1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	rec, err := s.Load(ctx, "w1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != nil {
		t.Fatalf("record survived Remove: %+v", rec)
	}
}
