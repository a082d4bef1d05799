// Package httptransport is the thin HTTP layer over the typing service. It
// parses requests and renders results; matching and resolution logic stays in
// the service.
package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"straintype/internal/mlst"
	"straintype/internal/typingdb"
)

// TypingService is the consumer-facing API the handlers delegate to.
type TypingService interface {
	ListDatabases() []typingdb.Database
	ListSchemas(ctx context.Context, databaseID string) ([]typingdb.SchemaRef, error)
	Schema(ctx context.Context, databaseID, seqdefDB string, schemeID int) (typingdb.Schema, error)
	ResolveSample(ctx context.Context, schema typingdb.Schema, sample mlst.Sample) (mlst.TypingResult, error)
	ResolveBatch(ctx context.Context, schema typingdb.Schema, samples []mlst.Sample) ([]mlst.BatchItem, error)
	Refresh(ctx context.Context, schema typingdb.Schema) error
	RefreshSchemas(ctx context.Context, databaseID string) error
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/databases", func(r chi.Router) {
		r.Get("/", h.handleListDatabases)
		r.Route("/{database}", func(r chi.Router) {
			r.Get("/schemas", h.handleListSchemas)
			r.Route("/schemas/{seqdef}/{scheme}", func(r chi.Router) {
				r.Get("/", h.handleSchema)
				r.Post("/resolve", h.handleResolve)
				r.Post("/resolve-batch", h.handleResolveBatch)
			})
		})
	})
	return r
}
