// Package registry owns every live session for the lifetime of the
// process: creation, matchmaking, join-role resolution and rehydration
// from durable storage after a restart.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yossior/doublechess/internal/game"
)

// Gateway is the persistence surface the registry consumes. The
// store.Gateway facade satisfies it; tests plug in fakes.
type Gateway interface {
	game.Archiver
	FindBySessionID(ctx context.Context, id string) (*game.Record, error)
	FindOneWaiting(ctx context.Context) (*game.Record, error)
}

// noopGateway backs a memory-only registry when no store is wired.
type noopGateway struct{}

func (noopGateway) SaveSnapshot(context.Context, *game.Record) error { return nil }
func (noopGateway) SaveTerminal(context.Context, *game.Record) error { return nil }
func (noopGateway) FindBySessionID(context.Context, string) (*game.Record, error) {
	return nil, nil
}
func (noopGateway) FindOneWaiting(context.Context) (*game.Record, error) { return nil, nil }

// Registry's mutex guards only the session map. Joins, moves and
// gateway lookups all run outside it, so one slow session never stalls
// operations on another.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*game.Session
	gateway  Gateway
	sup      *game.Supervisor
	defaults game.Config
	log      *zap.Logger
}

func New(gateway Gateway, sup *game.Supervisor, defaults game.Config, log *zap.Logger) *Registry {
	if gateway == nil {
		gateway = noopGateway{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*game.Session),
		gateway:  gateway,
		sup:      sup,
		defaults: defaults,
		log:      log,
	}
}

// FindOrCreate pairs the caller with an existing session that has
// exactly one seat filled by someone else, or creates a fresh one.
func (r *Registry) FindOrCreate(ctx context.Context, id game.Identity, sink game.EventSink) (string, *game.JoinResult, error) {
	if sid, sess := r.pairable(id); sess != nil {
		res, err := r.join(sid, sess, id, sink)
		if err != nil {
			return "", nil, err
		}
		if res.Role == game.RolePlayer {
			return sid, res, nil
		}
		// A concurrent joiner took the seat between the scan and the
		// join; fall through and open a fresh session instead.
	}

	// Nothing pairable in memory; a waiting session may have survived a
	// restart in the snapshot store. The record can be stale, so the
	// hydrated session gets re-checked before joining.
	if rec, err := r.gateway.FindOneWaiting(ctx); err == nil && rec != nil && recPairable(rec, id) {
		if sess, herr := r.hydrate(rec); herr == nil && sess.CanPairWith(id) {
			if res, jerr := r.join(rec.SessionID, sess, id, sink); jerr == nil && res.Role == game.RolePlayer {
				return rec.SessionID, res, nil
			}
		}
	}

	sid := uuid.NewString()
	sess := r.create(sid, r.defaults, id)
	res, err := r.join(sid, sess, id, sink)
	if err != nil {
		return "", nil, err
	}
	return sid, res, nil
}

// Join resolves a join command against a known session id, hydrating it
// from storage when absent, or creating it when creation parameters
// were supplied. An unknown id with no parameters is a NotFoundError.
func (r *Registry) Join(ctx context.Context, sessionID string, id game.Identity, sink game.EventSink, params *game.Config) (*game.JoinResult, error) {
	sess := r.get(sessionID)
	if sess == nil {
		rec, err := r.gateway.FindBySessionID(ctx, sessionID)
		if err != nil {
			r.log.Error("registry_hydrate_lookup_error",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		if rec != nil {
			sess, err = r.hydrate(rec)
			if err != nil {
				return nil, err
			}
		}
	}
	if sess == nil {
		if params == nil {
			return nil, &game.NotFoundError{SessionID: sessionID}
		}
		sess = r.create(sessionID, *params, id)
	}
	return r.join(sessionID, sess, id, sink)
}

// Move forwards a move to its session.
func (r *Registry) Move(sessionID, connID, spec string) error {
	sess := r.get(sessionID)
	if sess == nil {
		return &game.NotFoundError{SessionID: sessionID}
	}
	return sess.Move(connID, spec)
}

// Resign forwards a resignation to its session.
func (r *Registry) Resign(sessionID, connID string) error {
	sess := r.get(sessionID)
	if sess == nil {
		return &game.NotFoundError{SessionID: sessionID}
	}
	return sess.Resign(connID)
}

// Disconnect records transport loss and arms a grace timer when the
// session qualifies: active with at least one recorded move. Sessions
// without moves only announce the disconnect.
func (r *Registry) Disconnect(sessionID, connID string) {
	sess := r.get(sessionID)
	if sess == nil {
		return
	}
	out := sess.Disconnect(connID)
	if !out.Escalate {
		return
	}
	color := out.Color
	r.sup.Schedule(sessionID, color, func() {
		r.fireAbandon(sessionID, color)
	})
}

// Count reports the number of live sessions, for the health endpoint.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Drain suppresses disconnect escalation and flushes a final snapshot
// of every live session. Called once during orderly shutdown.
func (r *Registry) Drain(ctx context.Context) {
	r.sup.Drain()
	r.mu.Lock()
	sessions := make([]*game.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		rec := sess.Snapshot()
		if err := r.gateway.SaveSnapshot(ctx, rec); err != nil {
			r.log.Warn("registry_drain_snapshot_error",
				zap.String("session_id", rec.SessionID), zap.Error(err))
		}
	}
	r.log.Info("registry_drain", zap.Int("sessions", len(sessions)))
}

// SaveSnapshot forwards the working snapshot to the gateway. Sessions
// archive through the registry so it can observe lifecycle changes.
func (r *Registry) SaveSnapshot(ctx context.Context, rec *game.Record) error {
	return r.gateway.SaveSnapshot(ctx, rec)
}

// SaveTerminal persists the final record, then drops the session from
// the live map. A later join finds it again through the snapshot tier.
func (r *Registry) SaveTerminal(ctx context.Context, rec *game.Record) error {
	if err := r.gateway.SaveTerminal(ctx, rec); err != nil {
		return err
	}
	r.evict(rec.SessionID)
	return nil
}

func (r *Registry) get(sessionID string) *game.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// pairable scans the live map for a session with exactly one seat
// filled by someone else. CanPairWith never waits on a busy session.
func (r *Registry) pairable(id game.Identity) (string, *game.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, sess := range r.sessions {
		if sess.CanPairWith(id) {
			return sid, sess
		}
	}
	return "", nil
}

// create inserts a fresh session, returning the existing one when a
// concurrent caller already created the same id.
func (r *Registry) create(sessionID string, cfg game.Config, id game.Identity) *game.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess := r.sessions[sessionID]; sess != nil {
		return sess
	}
	sess := game.New(sessionID, cfg, r, r.log)
	r.sessions[sessionID] = sess
	r.log.Info("registry_create",
		zap.String("session_id", sessionID),
		zap.String("user_id", id.UserID),
	)
	return sess
}

// hydrate rebuilds a session from a persisted record. The replay runs
// outside the registry lock; the map insert re-checks for a racing
// hydration of the same id.
func (r *Registry) hydrate(rec *game.Record) (*game.Session, error) {
	if sess := r.get(rec.SessionID); sess != nil {
		return sess, nil
	}
	sess, err := game.Rehydrate(rec, r, r.log)
	if err != nil {
		r.log.Error("registry_hydrate_error",
			zap.String("session_id", rec.SessionID), zap.Error(err))
		return nil, err
	}
	r.mu.Lock()
	if existing := r.sessions[rec.SessionID]; existing != nil {
		r.mu.Unlock()
		return existing, nil
	}
	r.sessions[rec.SessionID] = sess
	r.mu.Unlock()
	r.log.Info("registry_hydrate",
		zap.String("session_id", rec.SessionID),
		zap.Int("moves", len(rec.History)),
		zap.String("status", string(rec.Status)),
	)
	return sess, nil
}

// join runs the session join and cancels any grace timer when the join
// turned out to be a reconnection. Runs outside the registry lock.
func (r *Registry) join(sessionID string, sess *game.Session, id game.Identity, sink game.EventSink) (*game.JoinResult, error) {
	res, err := sess.Join(id, sink)
	if err != nil {
		return nil, err
	}
	if res.Reconnected {
		r.sup.Cancel(sessionID, res.Color)
	}
	if res.Started {
		r.log.Info("registry_match",
			zap.String("session_id", sessionID),
			zap.String("user_id", id.UserID),
		)
	}
	return res, nil
}

func (r *Registry) evict(sessionID string) {
	r.mu.Lock()
	_, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		r.log.Info("registry_evict", zap.String("session_id", sessionID))
	}
}

// fireAbandon is the grace-timer callback: re-validate under the
// session lock, never trust state captured at schedule time.
func (r *Registry) fireAbandon(sessionID string, color game.Color) {
	sess := r.get(sessionID)
	if sess == nil {
		return
	}
	if !sess.Abandon(color) {
		r.log.Info("registry_abandon_noop",
			zap.String("session_id", sessionID),
			zap.String("color", string(color)),
		)
	}
}

func recPairable(rec *game.Record, id game.Identity) bool {
	if rec.Status != game.StatusWaiting {
		return false
	}
	if rec.WhiteSeated == rec.BlackSeated { // zero or two seats
		return false
	}
	occupant := rec.WhiteID
	if rec.BlackSeated {
		occupant = rec.BlackID
	}
	return occupant == "" || occupant != id.UserID
}
