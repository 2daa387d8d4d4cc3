// Package health serves the liveness/status endpoint on its own
// listener, off the game port.
package health

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Stats supplies the dynamic fields of the /statusz payload.
type Stats func() map[string]any

type Server struct {
	srv     *fasthttp.Server
	addr    string
	stats   Stats
	started time.Time
	log     *zap.Logger
}

func New(addr string, stats Stats, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{addr: addr, stats: stats, started: time.Now(), log: log}
	s.srv = &fasthttp.Server{
		Handler:     s.handle,
		ReadTimeout: 5 * time.Second,
	}
	return s
}

// Run blocks serving requests until Shutdown.
func (s *Server) Run() error {
	s.log.Info("health_listen", zap.String("addr", s.addr))
	return s.srv.ListenAndServe(s.addr)
}

func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		s.writeJSON(ctx, map[string]any{"status": "ok"})
	case "/statusz":
		body := map[string]any{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(s.started).Seconds()),
		}
		if s.stats != nil {
			for k, v := range s.stats() {
				body[k] = v
			}
		}
		s.writeJSON(ctx, body)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, body map[string]any) {
	raw, err := json.Marshal(body)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBody(raw)
}
