package game

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultGracePeriod is how long a disconnected player may be away from
// an active game before it is forfeited.
const DefaultGracePeriod = 20 * time.Second

type timerKey struct {
	sessionID string
	color     Color
}

type graceTimer struct {
	deadline time.Time
	timer    *time.Timer
}

// Supervisor owns the per-player grace timers. Firing is check-then-act:
// the callback re-reads session state under the session lock, so a
// reconnect that races the deadline wins. A process-wide suppression
// flag disables all escalation during orderly shutdown.
type Supervisor struct {
	mu         sync.Mutex
	timers     map[timerKey]*graceTimer
	grace      time.Duration
	suppressed atomic.Bool
	log        *zap.Logger
}

func NewSupervisor(grace time.Duration, log *zap.Logger) *Supervisor {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		timers: make(map[timerKey]*graceTimer),
		grace:  grace,
		log:    log,
	}
}

// Schedule arms (or re-arms) the grace timer for (sessionID, color).
// fire runs on a background goroutine after the grace period unless the
// timer is cancelled or escalation is suppressed.
func (s *Supervisor) Schedule(sessionID string, color Color, fire func()) {
	if s.suppressed.Load() {
		return
	}
	key := timerKey{sessionID: sessionID, color: color}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.timers[key]; ok {
		existing.timer.Stop()
	}
	gt := &graceTimer{deadline: time.Now().Add(s.grace)}
	gt.timer = time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		if s.timers[key] == gt {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		if s.suppressed.Load() {
			return
		}
		fire()
	})
	s.timers[key] = gt
	s.log.Info("grace_schedule",
		zap.String("session_id", sessionID),
		zap.String("color", string(color)),
		zap.Time("deadline", gt.deadline),
	)
}

// Cancel destroys the grace timer for (sessionID, color), if any.
func (s *Supervisor) Cancel(sessionID string, color Color) {
	key := timerKey{sessionID: sessionID, color: color}
	s.mu.Lock()
	gt, ok := s.timers[key]
	if ok {
		gt.timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	if ok {
		s.log.Info("grace_cancel",
			zap.String("session_id", sessionID),
			zap.String("color", string(color)),
		)
	}
}

// Suppressed reports whether escalation is globally disabled.
func (s *Supervisor) Suppressed() bool { return s.suppressed.Load() }

// Drain suppresses all future escalation and stops every armed timer.
// Used during orderly shutdown so transport teardown is not mistaken
// for abandonment.
func (s *Supervisor) Drain() {
	s.suppressed.Store(true)
	s.mu.Lock()
	for key, gt := range s.timers {
		gt.timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	s.log.Info("grace_drain")
}
