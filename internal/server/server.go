package server

import (
	"context"
	"net/http"

	"github.com/contestkit/eventcore/internal/config"
	"github.com/contestkit/eventcore/internal/queue"
	"github.com/contestkit/eventcore/internal/webhook"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Server is the operational HTTP surface: probes, delivery history and
// stats, manual retry, and DLQ inspection. It does not serve application
// traffic; events enter through the bus, not HTTP.
type Server struct {
	cfg       *config.Config
	db        *pgxpool.Pool
	queue     *queue.Client
	engine    *webhook.Engine
	dlqReader *queue.DLQReader
	server    *http.Server
}

// New creates a new Server.
func New(cfg *config.Config, db *pgxpool.Pool, qc *queue.Client, engine *webhook.Engine, dlqReader *queue.DLQReader) *Server {
	s := &Server{
		cfg:       cfg,
		db:        db,
		queue:     qc,
		engine:    engine,
		dlqReader: dlqReader,
	}
	s.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.routes(),
	}
	return s
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
