package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nest-markets/nestd/internal/service"
)

// IndexerHealthService reports fold progress. Nil when the process runs
// without the indexer.
type IndexerHealthService interface {
	Health(ctx context.Context) (service.IndexerHealth, error)
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode    string
	indexer IndexerHealthService
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. indexer may be nil.
func NewHealthHandler(mode string, indexer IndexerHealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:    mode,
		indexer: indexer,
		logger:  logHandler(logger, "health"),
	}
}

// HealthCheck responds with liveness plus, when the indexer is wired, the
// fold's row counts and high-water block.
// GET /api/v1/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"mode":      h.mode,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.indexer != nil {
		stats, err := h.indexer.Health(r.Context())
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: indexer health failed",
				slog.String("error", err.Error()),
			)
			body["status"] = "degraded"
		} else {
			body["market_events_count"] = stats.EventCount
			body["price_points_count"] = stats.PricePointCount
			body["last_block_height"] = stats.LastBlockHeight
		}
	}

	writeJSON(w, http.StatusOK, body)
}
