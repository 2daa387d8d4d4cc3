// Package transport adapts the websocket event channel onto the
// registry: one inbound command envelope, one outbound event envelope,
// and an implicit disconnect signal when the read loop dies.
package transport

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/yossior/doublechess/internal/game"
	"github.com/yossior/doublechess/internal/registry"
	"github.com/yossior/doublechess/pkg/wire"
)

const writeTimeout = 5 * time.Second

type Server struct {
	reg *registry.Registry
	log *zap.Logger
}

func NewServer(reg *registry.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{reg: reg, log: log}
}

// Handler returns the HTTP handler exposing the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  []string{"*"},
	})
	if err != nil {
		s.log.Warn("ws_accept_error", zap.Error(err))
		return
	}

	ctx := r.Context()
	c := newClient(ctx, conn)
	s.log.Info("ws_connect", zap.String("conn_id", c.ID()))

	for {
		var cmd wire.Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			if sid := c.boundSession(); sid != "" {
				s.reg.Disconnect(sid, c.ID())
			}
			s.log.Info("ws_close", zap.String("conn_id", c.ID()))
			c.close(websocket.StatusNormalClosure, "bye")
			return
		}
		s.dispatch(ctx, c, &cmd)
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, cmd *wire.Command) {
	switch cmd.Type {
	case wire.CmdFindOrCreate:
		sid, _, err := s.reg.FindOrCreate(ctx, identityFrom(cmd), c)
		if err != nil {
			c.sendError(err)
			return
		}
		c.bind(sid)

	case wire.CmdJoin:
		if cmd.SessionID == "" {
			c.sendError(&game.ValidationError{Reason: "sessionId is required"})
			return
		}
		if _, err := s.reg.Join(ctx, cmd.SessionID, identityFrom(cmd), c, configFrom(cmd.Params)); err != nil {
			c.sendError(err)
			return
		}
		c.bind(cmd.SessionID)

	case wire.CmdMove:
		sid := c.boundSession()
		if sid == "" {
			c.sendError(&game.ValidationError{Reason: "join a session first"})
			return
		}
		if err := s.reg.Move(sid, c.ID(), cmd.Move); err != nil {
			switch game.ErrorCode(err) {
			case game.CodeIllegalMove, game.CodeNotYourTurn:
				_ = c.Send(wire.Event{Type: wire.EvInvalidMove, Data: wire.InvalidMove{
					Reason: err.Error(),
				}})
			default:
				c.sendError(err)
			}
		}

	case wire.CmdResign:
		sid := c.boundSession()
		if sid == "" {
			c.sendError(&game.ValidationError{Reason: "join a session first"})
			return
		}
		if err := s.reg.Resign(sid, c.ID()); err != nil {
			c.sendError(err)
		}

	default:
		c.sendError(&game.ValidationError{Reason: "unknown command type"})
	}
}

func identityFrom(cmd *wire.Command) game.Identity {
	if cmd.Identity == nil {
		return game.Identity{}
	}
	return game.Identity{UserID: cmd.Identity.UserID, Name: cmd.Identity.Name}
}

func configFrom(p *wire.GameParams) *game.Config {
	if p == nil {
		return nil
	}
	return &game.Config{
		Variant:     game.Variant(p.Variant),
		InitialMS:   p.InitialMS,
		IncrementMS: p.IncrementMS,
	}
}
