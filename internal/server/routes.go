package server

import (
	"net/http"

	"github.com/contestkit/eventcore/internal/handler"
	"github.com/contestkit/eventcore/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)

	// Probes
	healthHandler := handler.NewHealthHandler(s.db, s.queue)
	r.Get("/healthz", healthHandler.Health)
	r.Get("/readyz", healthHandler.Ready)

	// Delivery operations
	webhookHandler := handler.NewWebhookHandler(s.engine)
	r.Get("/webhooks/{webhookID}/deliveries", webhookHandler.Deliveries)
	r.Get("/webhooks/{webhookID}/stats", webhookHandler.Stats)
	r.Post("/deliveries/{deliveryID}/retry", webhookHandler.Retry)

	// Dead letter queue
	if s.dlqReader != nil {
		dlqHandler := handler.NewDLQHandler(s.dlqReader)
		r.Get("/dlq", dlqHandler.List)
	}

	return r
}
