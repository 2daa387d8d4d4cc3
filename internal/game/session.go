package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yossior/doublechess/internal/oracle"
	"github.com/yossior/doublechess/pkg/wire"
)

// Default time control: 3 minutes with a 2 second increment.
const (
	DefaultInitialMS   int64 = 180000
	DefaultIncrementMS int64 = 2000
)

// Config is the immutable per-session rule set.
type Config struct {
	Variant     Variant
	InitialMS   int64
	IncrementMS int64
}

func (c Config) withDefaults() Config {
	if c.Variant != VariantBalanced {
		c.Variant = VariantUnbalanced
	}
	if c.InitialMS <= 0 {
		c.InitialMS = DefaultInitialMS
	}
	if c.IncrementMS < 0 {
		c.IncrementMS = DefaultIncrementMS
	}
	return c
}

// Archiver persists session records. Writes happen off the session
// lock; in-memory state is authoritative the moment an event is
// broadcast, and a failed write never rolls it back.
type Archiver interface {
	SaveSnapshot(ctx context.Context, rec *Record) error
	SaveTerminal(ctx context.Context, rec *Record) error
}

type noopArchiver struct{}

func (noopArchiver) SaveSnapshot(context.Context, *Record) error { return nil }
func (noopArchiver) SaveTerminal(context.Context, *Record) error { return nil }

// JoinRole is how a join command was resolved.
type JoinRole string

const (
	RolePlayer    JoinRole = "player"
	RoleSpectator JoinRole = "spectator"
)

type JoinResult struct {
	Role        JoinRole
	Color       Color
	Reconnected bool
	Started     bool // the game started as a consequence of this join
}

type DisconnectResult struct {
	WasPlayer bool
	Color     Color
	Escalate  bool // start a grace timer for this player
}

// Session is one match instance. Every mutating operation serializes on
// mu; sessions are otherwise fully independent of each other.
type Session struct {
	ID string

	mu        sync.Mutex
	cfg       Config
	oracle    *oracle.Board
	players   []*Player
	specs     map[string]EventSink
	clocks    *ClockPair
	seq       *TurnSequencer
	draw      *DrawTracker
	history   []MoveRecord
	status    Status
	result    Reason
	winner    Color
	created   time.Time
	started   time.Time
	completed time.Time
	lastMove  time.Time

	now      func() time.Time
	archiver Archiver
	log      *zap.Logger
}

func New(id string, cfg Config, arch Archiver, log *zap.Logger) *Session {
	cfg = cfg.withDefaults()
	if arch == nil {
		arch = noopArchiver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		ID:       id,
		cfg:      cfg,
		oracle:   oracle.New(),
		specs:    make(map[string]EventSink),
		clocks:   NewClockPair(cfg.InitialMS, cfg.IncrementMS),
		seq:      NewTurnSequencer(cfg.Variant),
		draw:     NewDrawTracker(),
		status:   StatusWaiting,
		created:  time.Now(),
		now:      time.Now,
		archiver: arch,
		log:      log,
	}
}

// Join resolves one inbound join or findOrCreate against this session:
// reconnection, spectating, or filling a seat. Duplicate delivery of
// the same join (same sink) only re-emits state and never double-fills
// a slot.
func (s *Session) Join(id Identity, sink EventSink) (*JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.playerBySinkLocked(sink.ID()); p != nil {
		s.sendStateLocked(p, false)
		return &JoinResult{Role: RolePlayer, Color: p.Color}, nil
	}
	if sp, ok := s.specs[sink.ID()]; ok && sp != nil {
		s.sendSpectatorStateLocked(sink)
		return &JoinResult{Role: RoleSpectator}, nil
	}

	if p := s.matchPlayerLocked(id); p != nil {
		p.Conn = ActiveConn(sink)
		s.emitToOpponentLocked(p.Color, wire.Event{
			Type: wire.EvOpponentReconnected,
			Data: wire.OpponentConnection{SessionID: s.ID, Color: string(p.Color)},
		})
		s.sendStateLocked(p, true)
		s.log.Info("session_reconnect",
			zap.String("session_id", s.ID),
			zap.String("color", string(p.Color)),
			zap.String("user_id", p.UserID),
		)
		return &JoinResult{Role: RolePlayer, Color: p.Color, Reconnected: true}, nil
	}

	if s.status == StatusCompleted || len(s.players) == 2 {
		s.specs[sink.ID()] = sink
		s.sendSpectatorStateLocked(sink)
		s.log.Info("session_spectate", zap.String("session_id", s.ID))
		return &JoinResult{Role: RoleSpectator}, nil
	}

	p := s.seatLocked(id, sink)
	res := &JoinResult{Role: RolePlayer, Color: p.Color}
	if len(s.players) == 2 {
		s.startLocked()
		res.Started = true
	} else {
		w, b := s.clocks.Balances()
		_ = sink.Send(wire.Event{Type: wire.EvWaitingForOpponent, Data: wire.WaitingForOpponent{
			SessionID: s.ID,
			Clocks:    wire.Clocks{WhiteMS: w, BlackMS: b},
		}})
	}
	s.archiveSnapshotLocked()
	return res, nil
}

// Move applies one move for the connection's player. Rejections
// (IllegalMoveError, TurnError, ValidationError) are local to the
// caller and leave the session untouched.
func (s *Session) Move(connID, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return &ValidationError{Reason: "game is not active"}
	}
	p := s.playerBySinkLocked(connID)
	if p == nil {
		return &ValidationError{Reason: "only seated players may move"}
	}
	mover := p.Color
	if s.seq.ColorToMove() != mover {
		return &TurnError{Color: mover}
	}

	now := s.now()
	if s.clocks.Expired(mover, now) {
		// Flag fell before the move arrived; the move itself is discarded.
		s.completeLocked(ReasonTimeout, mover.Opponent(), now)
		return nil
	}

	res := s.oracle.AttemptMove(spec)
	if res == nil {
		return &IllegalMoveError{Move: spec}
	}

	s.clocks.ApplyMove(mover, now)
	s.draw.RecordMove(res.IsPawnMove, res.IsCapture, res.FEN)

	reason, winner := s.terminalLocked(res, mover)
	over := reason != ""
	ended := s.seq.RecordMove(res.IsCheck, over)
	if ended {
		s.clocks.AddIncrement(mover)
	} else if err := s.oracle.GrantExtraMove(string(mover)); err != nil {
		s.log.Error("session_grant_extra_move",
			zap.String("session_id", s.ID), zap.Error(err))
	}

	w, b := s.clocks.Balances()
	s.history = append(s.history, MoveRecord{
		SAN:      res.SAN,
		UCI:      res.UCI,
		Color:    mover,
		FEN:      res.FEN,
		WhiteMS:  w,
		BlackMS:  b,
		PlayedAt: now,
	})
	s.lastMove = now

	s.broadcastLocked(wire.Event{Type: wire.EvMoveMade, Data: wire.MoveMade{
		Move:        res.SAN,
		Color:       string(mover),
		Position:    s.oracle.ExportPosition(),
		Turn:        string(s.seq.ColorToMove()),
		MovesInTurn: s.seq.MovesRemaining(),
		Clocks:      wire.Clocks{WhiteMS: w, BlackMS: b},
		ServerTime:  now.UnixMilli(),
	}})
	s.log.Info("session_move",
		zap.String("session_id", s.ID),
		zap.String("color", string(mover)),
		zap.String("san", res.SAN),
		zap.Int("move_no", len(s.history)),
		zap.Bool("turn_ended", ended),
	)

	if over {
		s.completeLocked(reason, winner, now)
	} else {
		s.archiveSnapshotLocked()
	}
	return nil
}

// Resign forfeits the game for the connection's player.
func (s *Session) Resign(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return &ValidationError{Reason: "game is not active"}
	}
	p := s.playerBySinkLocked(connID)
	if p == nil {
		return &ValidationError{Reason: "only seated players may resign"}
	}
	s.log.Info("session_resign",
		zap.String("session_id", s.ID),
		zap.String("color", string(p.Color)),
	)
	s.completeLocked(ReasonResignation, p.Color.Opponent(), s.now())
	return nil
}

// Disconnect records transport loss for the given connection. The
// caller escalates to a grace timer only when Escalate is set: active
// session with at least one recorded move.
func (s *Session) Disconnect(connID string) DisconnectResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.specs[connID]; ok {
		delete(s.specs, connID)
		return DisconnectResult{}
	}
	p := s.playerBySinkLocked(connID)
	if p == nil {
		return DisconnectResult{}
	}
	now := s.now()
	p.Conn = DisconnectedConn(now)
	s.emitToOpponentLocked(p.Color, wire.Event{
		Type: wire.EvOpponentDisconnected,
		Data: wire.OpponentConnection{SessionID: s.ID, Color: string(p.Color)},
	})
	s.log.Info("session_disconnect",
		zap.String("session_id", s.ID),
		zap.String("color", string(p.Color)),
		zap.Int("moves", len(s.history)),
	)
	return DisconnectResult{
		WasPlayer: true,
		Color:     p.Color,
		Escalate:  s.status == StatusActive && len(s.history) > 0,
	}
}

// Abandon is the grace-timer firing path. It re-validates at fire time
// that the player is still disconnected and the game still running; a
// reconnect or completion that raced the deadline makes it a no-op.
func (s *Session) Abandon(color Color) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return false
	}
	p := s.playerByColorLocked(color)
	if p == nil || p.Conn.Active() {
		return false
	}
	s.log.Info("session_abandon",
		zap.String("session_id", s.ID),
		zap.String("color", string(color)),
	)
	s.completeLocked(ReasonAbandonment, color.Opponent(), s.now())
	return true
}

// Snapshot captures the persisted shape of the session.
func (s *Session) Snapshot() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MoveCount returns the number of recorded moves.
func (s *Session) MoveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// CanPairWith reports whether matchmaking may seat id here: exactly one
// seat filled and its occupant is not the same identity. Anonymous
// occupants never compare equal to anyone. A session busy in another
// operation reports unpairable rather than making the scan wait on it.
func (s *Session) CanPairWith(id Identity) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	if s.status != StatusWaiting || len(s.players) != 1 {
		return false
	}
	p := s.players[0]
	return p.UserID == "" || p.UserID != id.UserID
}

// DrawState exposes the tracker's internals for replay-equivalence
// checks.
func (s *Session) DrawState() (counts map[string]int, halfmove int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draw.Counts(), s.draw.HalfmoveClock()
}

// TurnState exposes the sequencer position for replay-equivalence
// checks.
func (s *Session) TurnState() (toMove Color, movesRemaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq.ColorToMove(), s.seq.MovesRemaining()
}

// SetNow overrides the session's time source. Test hook.
func (s *Session) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Rehydrate rebuilds a live session from its persisted record: the move
// list is replayed through the oracle, sequencer and draw tracker from
// the initial position, then the persisted final FEN is trusted as the
// live position. Players come back seated but disconnected.
func Rehydrate(rec *Record, arch Archiver, log *zap.Logger) (*Session, error) {
	s := New(rec.SessionID, Config{
		Variant:     rec.Variant,
		InitialMS:   rec.InitialMS,
		IncrementMS: rec.IncrementMS,
	}, arch, log)

	for _, m := range rec.History {
		res := s.oracle.AttemptMove(m.UCI)
		if res == nil {
			return nil, fmt.Errorf("rehydrate %s: replay rejected move %q", rec.SessionID, m.UCI)
		}
		s.draw.RecordMove(res.IsPawnMove, res.IsCapture, res.FEN)
		over := res.GameOver || s.draw.IsRepetition() || s.draw.IsFiftyMove()
		if ended := s.seq.RecordMove(res.IsCheck, over); !ended {
			if err := s.oracle.GrantExtraMove(string(s.seq.ColorToMove())); err != nil {
				return nil, fmt.Errorf("rehydrate %s: %w", rec.SessionID, err)
			}
		}
	}
	if rec.FinalFEN != "" {
		if err := s.oracle.LoadPosition(rec.FinalFEN); err != nil {
			return nil, fmt.Errorf("rehydrate %s: %w", rec.SessionID, err)
		}
	}

	s.clocks.Restore(rec.WhiteMS, rec.BlackMS)
	s.history = append(s.history, rec.History...)
	now := time.Now()
	if rec.WhiteSeated {
		s.players = append(s.players, &Player{
			UserID: rec.WhiteID, Name: rec.WhiteName, Color: White,
			Conn: DisconnectedConn(now),
		})
	}
	if rec.BlackSeated {
		s.players = append(s.players, &Player{
			UserID: rec.BlackID, Name: rec.BlackName, Color: Black,
			Conn: DisconnectedConn(now),
		})
	}
	s.status = rec.Status
	s.result = rec.Result
	s.winner = rec.Winner
	s.created = rec.CreatedAt
	s.started = rec.StartedAt
	s.completed = rec.CompletedAt
	s.lastMove = rec.LastMoveAt
	return s, nil
}

// ---- internals, caller holds s.mu ----

func (s *Session) playerBySinkLocked(connID string) *Player {
	for _, p := range s.players {
		if p.Conn.Active() && p.Conn.Sink().ID() == connID {
			return p
		}
	}
	return nil
}

func (s *Session) playerByColorLocked(color Color) *Player {
	for _, p := range s.players {
		if p.Color == color {
			return p
		}
	}
	return nil
}

// matchPlayerLocked resolves a reconnecting participant. Registered
// identities match by user id; anonymous joiners match a disconnected
// anonymous seat (no identity on either side).
func (s *Session) matchPlayerLocked(id Identity) *Player {
	for _, p := range s.players {
		if id.UserID != "" && p.UserID == id.UserID {
			return p
		}
	}
	if id.UserID == "" {
		for _, p := range s.players {
			if p.Anonymous() && !p.Conn.Active() {
				return p
			}
		}
	}
	return nil
}

// seatLocked fills the next open seat: first joiner plays white.
func (s *Session) seatLocked(id Identity, sink EventSink) *Player {
	color := White
	if len(s.players) == 1 {
		color = s.players[0].Color.Opponent()
	}
	p := &Player{UserID: id.UserID, Name: id.Name, Color: color, Conn: ActiveConn(sink)}
	s.players = append(s.players, p)
	s.log.Info("session_seat",
		zap.String("session_id", s.ID),
		zap.String("color", string(color)),
		zap.String("user_id", id.UserID),
	)
	return p
}

func (s *Session) startLocked() {
	s.status = StatusActive
	s.started = s.now()
	for _, p := range s.players {
		s.sendStateLocked(p, false)
	}
	s.log.Info("session_start",
		zap.String("session_id", s.ID),
		zap.String("variant", string(s.cfg.Variant)),
	)
}

// sendStateLocked pushes the full current state to one player:
// waitingForOpponent before the game starts, otherwise gameStarted with
// the replayable history and projected clocks, plus the terminal
// gameOver when the session already completed.
func (s *Session) sendStateLocked(p *Player, reconnected bool) {
	if !p.Conn.Active() {
		return
	}
	sink := p.Conn.Sink()
	now := s.now()
	if s.status == StatusWaiting {
		w, b := s.clocks.Balances()
		_ = sink.Send(wire.Event{Type: wire.EvWaitingForOpponent, Data: wire.WaitingForOpponent{
			SessionID: s.ID,
			Clocks:    wire.Clocks{WhiteMS: w, BlackMS: b},
		}})
		return
	}
	w, b := s.clocks.Project(s.seq.ColorToMove(), now)
	_ = sink.Send(wire.Event{Type: wire.EvGameStarted, Data: wire.GameStarted{
		SessionID:   s.ID,
		Color:       string(p.Color),
		Position:    s.oracle.ExportPosition(),
		Turn:        string(s.seq.ColorToMove()),
		MovesInTurn: s.seq.MovesRemaining(),
		Clocks:      wire.Clocks{WhiteMS: w, BlackMS: b},
		ServerTime:  now.UnixMilli(),
		Reconnected: reconnected,
		History:     s.historyWireLocked(),
	}})
	if s.status == StatusCompleted {
		_ = sink.Send(wire.Event{Type: wire.EvGameOver, Data: wire.GameOver{
			Reason: string(s.result),
			Winner: string(s.winner),
		}})
	}
}

// sendSpectatorStateLocked pushes the spectator view, following with
// the terminal result when the session already completed.
func (s *Session) sendSpectatorStateLocked(sink EventSink) {
	_ = sink.Send(wire.Event{Type: wire.EvSpectatorJoined, Data: s.spectatorViewLocked()})
	if s.status == StatusCompleted {
		_ = sink.Send(wire.Event{Type: wire.EvGameOver, Data: wire.GameOver{
			Reason: string(s.result),
			Winner: string(s.winner),
		}})
	}
}

func (s *Session) spectatorViewLocked() wire.SpectatorJoined {
	now := s.now()
	w, b := s.clocks.Project(s.seq.ColorToMove(), now)
	return wire.SpectatorJoined{
		SessionID:   s.ID,
		Position:    s.oracle.ExportPosition(),
		Turn:        string(s.seq.ColorToMove()),
		MovesInTurn: s.seq.MovesRemaining(),
		Status:      string(s.status),
		Clocks:      wire.Clocks{WhiteMS: w, BlackMS: b},
		ServerTime:  now.UnixMilli(),
		History:     s.historyWireLocked(),
	}
}

func (s *Session) historyWireLocked() []wire.HistoryMove {
	if len(s.history) == 0 {
		return nil
	}
	out := make([]wire.HistoryMove, len(s.history))
	for i, m := range s.history {
		out[i] = wire.HistoryMove{
			SAN:      m.SAN,
			UCI:      m.UCI,
			Color:    string(m.Color),
			Position: m.FEN,
			Clocks:   wire.Clocks{WhiteMS: m.WhiteMS, BlackMS: m.BlackMS},
			PlayedAt: m.PlayedAt.UnixMilli(),
		}
	}
	return out
}

func (s *Session) broadcastLocked(ev wire.Event) {
	for _, p := range s.players {
		if p.Conn.Active() {
			_ = p.Conn.Sink().Send(ev)
		}
	}
	for _, sp := range s.specs {
		_ = sp.Send(ev)
	}
}

// emitToOpponentLocked delivers ev to color's opponent and to all
// spectators.
func (s *Session) emitToOpponentLocked(color Color, ev wire.Event) {
	if opp := s.playerByColorLocked(color.Opponent()); opp != nil && opp.Conn.Active() {
		_ = opp.Conn.Sink().Send(ev)
	}
	for _, sp := range s.specs {
		_ = sp.Send(ev)
	}
}

// terminalLocked derives the terminal reason for the just-applied move,
// if any. Oracle verdicts take precedence over tracker draws.
func (s *Session) terminalLocked(res *oracle.MoveResult, mover Color) (Reason, Color) {
	switch {
	case res.Checkmate:
		return ReasonCheckmate, mover
	case res.Stalemate:
		return ReasonStalemate, ""
	case res.Draw:
		return ReasonDraw, ""
	case s.draw.IsRepetition():
		return ReasonRepetition, ""
	case s.draw.IsFiftyMove():
		return ReasonFiftyMove, ""
	}
	return "", ""
}

// completeLocked finalizes the session, broadcasts gameOver from the
// in-memory transition, and hands the terminal record to the archiver
// off-lock. The broadcast never waits on persistence.
func (s *Session) completeLocked(reason Reason, winner Color, now time.Time) {
	s.status = StatusCompleted
	s.result = reason
	s.winner = winner
	s.completed = now

	s.broadcastLocked(wire.Event{Type: wire.EvGameOver, Data: wire.GameOver{
		Reason: string(reason),
		Winner: string(winner),
	}})
	s.log.Info("session_complete",
		zap.String("session_id", s.ID),
		zap.String("reason", string(reason)),
		zap.String("winner", string(winner)),
		zap.Int("moves", len(s.history)),
	)

	rec := s.recordLocked()
	go s.persistTerminal(rec)
}

// persistTerminal upserts the terminal record, retrying on failure.
// Keyed by session id, so replays are harmless.
func (s *Session) persistTerminal(rec *Record) {
	const attempts = 3
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.archiver.SaveTerminal(ctx, rec)
		cancel()
		if err == nil {
			return
		}
		s.log.Error("session_persist_error",
			zap.String("session_id", rec.SessionID),
			zap.Int("attempt", i),
			zap.Error(err),
		)
		if i < attempts {
			time.Sleep(time.Duration(i) * 250 * time.Millisecond)
		}
	}
}

func (s *Session) archiveSnapshotLocked() {
	rec := s.recordLocked()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.archiver.SaveSnapshot(ctx, rec); err != nil {
			s.log.Warn("session_snapshot_error",
				zap.String("session_id", rec.SessionID),
				zap.Error(err),
			)
		}
	}()
}

func (s *Session) recordLocked() *Record {
	w, b := s.clocks.Balances()
	rec := &Record{
		SessionID:   s.ID,
		Variant:     s.cfg.Variant,
		History:     append([]MoveRecord(nil), s.history...),
		FinalFEN:    s.oracle.ExportPosition(),
		WhiteMS:     w,
		BlackMS:     b,
		InitialMS:   s.cfg.InitialMS,
		IncrementMS: s.cfg.IncrementMS,
		Status:      s.status,
		Result:      s.result,
		Winner:      s.winner,
		CreatedAt:   s.created,
		StartedAt:   s.started,
		CompletedAt: s.completed,
		LastMoveAt:  s.lastMove,
	}
	for _, p := range s.players {
		if p.Color == White {
			rec.WhiteID, rec.WhiteName, rec.WhiteSeated = p.UserID, p.Name, true
		} else {
			rec.BlackID, rec.BlackName, rec.BlackSeated = p.UserID, p.Name, true
		}
	}
	return rec
}
