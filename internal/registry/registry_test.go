package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yossior/doublechess/internal/game"
	"github.com/yossior/doublechess/pkg/wire"
)

type fakeGateway struct {
	mu   sync.Mutex
	recs map[string]*game.Record
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{recs: make(map[string]*game.Record)}
}

func (f *fakeGateway) SaveSnapshot(_ context.Context, rec *game.Record) error {
	f.mu.Lock()
	f.recs[rec.SessionID] = rec
	f.mu.Unlock()
	return nil
}

func (f *fakeGateway) SaveTerminal(ctx context.Context, rec *game.Record) error {
	return f.SaveSnapshot(ctx, rec)
}

func (f *fakeGateway) FindBySessionID(_ context.Context, id string) (*game.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[id], nil
}

func (f *fakeGateway) FindOneWaiting(_ context.Context) (*game.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.recs {
		if rec.Status == game.StatusWaiting {
			return rec, nil
		}
	}
	return nil, nil
}

type stubSink struct {
	id string

	mu     sync.Mutex
	events []wire.Event
}

func (s *stubSink) ID() string { return s.id }

func (s *stubSink) Send(ev wire.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *stubSink) has(evType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Type == evType {
			return true
		}
	}
	return false
}

func newTestRegistry(grace time.Duration) (*Registry, *fakeGateway) {
	gw := newFakeGateway()
	sup := game.NewSupervisor(grace, nil)
	return New(gw, sup, game.Config{}, nil), gw
}

func TestFindOrCreate_PairsTwoCallers(t *testing.T) {
	reg, _ := newTestRegistry(time.Second)
	ctx := context.Background()

	sid1, res1, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u1"}, &stubSink{id: "c1"})
	if err != nil {
		t.Fatalf("first findOrCreate: %v", err)
	}
	if res1.Role != game.RolePlayer || res1.Color != game.White || res1.Started {
		t.Fatalf("unexpected first result: %+v", res1)
	}

	sid2, res2, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u2"}, &stubSink{id: "c2"})
	if err != nil {
		t.Fatalf("second findOrCreate: %v", err)
	}
	if sid2 != sid1 {
		t.Fatalf("second caller not paired: %s vs %s", sid1, sid2)
	}
	if res2.Color != game.Black || !res2.Started {
		t.Fatalf("unexpected second result: %+v", res2)
	}

	// The session is full now; a third caller gets a fresh one.
	sid3, _, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u3"}, &stubSink{id: "c3"})
	if err != nil {
		t.Fatalf("third findOrCreate: %v", err)
	}
	if sid3 == sid1 {
		t.Fatalf("third caller joined a full session")
	}
	if reg.Count() != 2 {
		t.Fatalf("expected 2 live sessions, got %d", reg.Count())
	}
}

func TestFindOrCreate_NeverPairsWithSelf(t *testing.T) {
	reg, _ := newTestRegistry(time.Second)
	ctx := context.Background()

	sid1, _, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u1"}, &stubSink{id: "c1"})
	if err != nil {
		t.Fatalf("first findOrCreate: %v", err)
	}
	sid2, res2, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u1"}, &stubSink{id: "c1b"})
	if err != nil {
		t.Fatalf("second findOrCreate: %v", err)
	}
	// The same identity is never seated against itself; it opens a fresh
	// waiting session instead.
	if sid1 == sid2 {
		t.Fatalf("identity paired with itself in %s", sid1)
	}
	if res2.Color != game.White || res2.Started {
		t.Fatalf("unexpected second result: %+v", res2)
	}
	if reg.Count() != 2 {
		t.Fatalf("expected 2 live sessions, got %d", reg.Count())
	}
}

func TestJoin_UnknownSession(t *testing.T) {
	reg, _ := newTestRegistry(time.Second)
	ctx := context.Background()

	_, err := reg.Join(ctx, "missing", game.Identity{UserID: "u1"}, &stubSink{id: "c1"}, nil)
	var nf *game.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	// With creation parameters the same command creates the session.
	res, err := reg.Join(ctx, "fresh", game.Identity{UserID: "u1"}, &stubSink{id: "c1"}, &game.Config{})
	if err != nil {
		t.Fatalf("join with params: %v", err)
	}
	if res.Role != game.RolePlayer || res.Color != game.White {
		t.Fatalf("unexpected join result: %+v", res)
	}
}

func TestJoin_RehydratesFromStorage(t *testing.T) {
	// Build a persisted record by running a session to the side.
	src := game.New("persisted", game.Config{}, nil, nil)
	w := &stubSink{id: "w"}
	b := &stubSink{id: "b"}
	if _, err := src.Join(game.Identity{UserID: "u-white"}, w); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	if _, err := src.Join(game.Identity{UserID: "u-black"}, b); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	if err := src.Move("w", "e2e4"); err != nil {
		t.Fatalf("seed move: %v", err)
	}
	rec := src.Snapshot()

	reg, gw := newTestRegistry(time.Second)
	if err := gw.SaveSnapshot(context.Background(), rec); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	res, err := reg.Join(context.Background(), "persisted", game.Identity{UserID: "u-white"}, &stubSink{id: "w2"}, nil)
	if err != nil {
		t.Fatalf("join after restart: %v", err)
	}
	if !res.Reconnected || res.Color != game.White {
		t.Fatalf("rehydrated seat not recognized: %+v", res)
	}
	if reg.Count() != 1 {
		t.Fatalf("expected 1 hydrated session, got %d", reg.Count())
	}
}

func TestFindOrCreate_MatchesPersistedWaitingSession(t *testing.T) {
	src := game.New("waiting-1", game.Config{}, nil, nil)
	if _, err := src.Join(game.Identity{UserID: "u1"}, &stubSink{id: "c1"}); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	rec := src.Snapshot()

	reg, gw := newTestRegistry(time.Second)
	if err := gw.SaveSnapshot(context.Background(), rec); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	sink := &stubSink{id: "c2"}
	sid, res, err := reg.FindOrCreate(context.Background(), game.Identity{UserID: "u2"}, sink)
	if err != nil {
		t.Fatalf("findOrCreate: %v", err)
	}
	if sid != "waiting-1" {
		t.Fatalf("did not match the persisted session: %s", sid)
	}
	if res.Color != game.Black || !res.Started {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !sink.has(wire.EvGameStarted) {
		t.Fatalf("joiner did not receive gameStarted")
	}
}

func TestMove_UnknownSession(t *testing.T) {
	reg, _ := newTestRegistry(time.Second)
	var nf *game.NotFoundError
	if err := reg.Move("missing", "c1", "e2e4"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if err := reg.Resign("missing", "c1"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDisconnect_EscalatesToAbandonment(t *testing.T) {
	reg, _ := newTestRegistry(30 * time.Millisecond)
	ctx := context.Background()

	w := &stubSink{id: "c1"}
	b := &stubSink{id: "c2"}
	sid, _, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u1"}, w)
	if err != nil {
		t.Fatalf("findOrCreate: %v", err)
	}
	if _, _, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u2"}, b); err != nil {
		t.Fatalf("findOrCreate: %v", err)
	}
	if err := reg.Move(sid, "c1", "e2e4"); err != nil {
		t.Fatalf("move: %v", err)
	}

	reg.Disconnect(sid, "c1")
	deadline := time.Now().Add(time.Second)
	for !b.has(wire.EvGameOver) {
		if time.Now().After(deadline) {
			t.Fatalf("grace expiry never completed the session")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// blockingSink parks its first Send until released, standing in for a
// peer whose network writes have stalled.
type blockingSink struct {
	id      string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSink(id string) *blockingSink {
	return &blockingSink{
		id:      id,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *blockingSink) ID() string { return s.id }

func (s *blockingSink) Send(wire.Event) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return nil
}

func TestFindOrCreate_IsolatedFromStalledPeer(t *testing.T) {
	reg, _ := newTestRegistry(time.Second)
	ctx := context.Background()

	bs := newBlockingSink("c-stuck")
	stuckDone := make(chan struct{})
	go func() {
		defer close(stuckDone)
		_, _, _ = reg.FindOrCreate(ctx, game.Identity{UserID: "u-stuck"}, bs)
	}()
	<-bs.entered

	// A different user must still be able to matchmake while the first
	// caller's event delivery is wedged.
	otherDone := make(chan struct{})
	go func() {
		defer close(otherDone)
		if _, _, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u-free"}, &stubSink{id: "c-free"}); err != nil {
			t.Errorf("findOrCreate: %v", err)
		}
	}()

	select {
	case <-otherDone:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("findOrCreate stalled behind another caller's peer")
	}

	close(bs.release)
	<-stuckDone
}

func TestNew_NilGatewayIsMemoryOnly(t *testing.T) {
	reg := New(nil, game.NewSupervisor(time.Second, nil), game.Config{}, nil)
	ctx := context.Background()

	sid, res, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u1"}, &stubSink{id: "c1"})
	if err != nil {
		t.Fatalf("findOrCreate without storage: %v", err)
	}
	if sid == "" || res.Color != game.White {
		t.Fatalf("unexpected result: %q %+v", sid, res)
	}

	// No storage means nothing to hydrate from.
	_, err = reg.Join(ctx, "missing", game.Identity{UserID: "u2"}, &stubSink{id: "c2"}, nil)
	var nf *game.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCompletedSessionIsEvicted(t *testing.T) {
	reg, gw := newTestRegistry(time.Second)
	ctx := context.Background()

	w := &stubSink{id: "c1"}
	b := &stubSink{id: "c2"}
	sid, _, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u1"}, w)
	if err != nil {
		t.Fatalf("findOrCreate: %v", err)
	}
	if _, _, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u2"}, b); err != nil {
		t.Fatalf("findOrCreate: %v", err)
	}
	if err := reg.Resign(sid, "c1"); err != nil {
		t.Fatalf("resign: %v", err)
	}

	// Terminal persistence runs asynchronously; the session leaves the
	// live map once it lands.
	deadline := time.Now().Add(time.Second)
	for reg.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("completed session still live, count=%d", reg.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec, _ := gw.FindBySessionID(ctx, sid); rec == nil || rec.Status != game.StatusCompleted {
		t.Fatalf("terminal record missing or not completed: %+v", rec)
	}

	// The finished game is still reachable through storage.
	res, err := reg.Join(ctx, sid, game.Identity{UserID: "u1"}, &stubSink{id: "c1b"}, nil)
	if err != nil {
		t.Fatalf("join after eviction: %v", err)
	}
	if !res.Reconnected || res.Color != game.White {
		t.Fatalf("evicted session not rehydrated for its player: %+v", res)
	}
	if reg.Count() != 1 {
		t.Fatalf("expected the rehydrated session live, got %d", reg.Count())
	}
}

func TestDisconnect_ReconnectCancelsGrace(t *testing.T) {
	reg, _ := newTestRegistry(50 * time.Millisecond)
	ctx := context.Background()

	w := &stubSink{id: "c1"}
	b := &stubSink{id: "c2"}
	sid, _, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u1"}, w)
	if err != nil {
		t.Fatalf("findOrCreate: %v", err)
	}
	if _, _, err := reg.FindOrCreate(ctx, game.Identity{UserID: "u2"}, b); err != nil {
		t.Fatalf("findOrCreate: %v", err)
	}
	if err := reg.Move(sid, "c1", "e2e4"); err != nil {
		t.Fatalf("move: %v", err)
	}

	reg.Disconnect(sid, "c1")
	res, err := reg.Join(ctx, sid, game.Identity{UserID: "u1"}, &stubSink{id: "c1b"}, nil)
	if err != nil {
		t.Fatalf("reconnect join: %v", err)
	}
	if !res.Reconnected {
		t.Fatalf("reconnect not recognized: %+v", res)
	}

	time.Sleep(120 * time.Millisecond)
	if b.has(wire.EvGameOver) {
		t.Fatalf("game forfeited despite the reconnect")
	}
}
