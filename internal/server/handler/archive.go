package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nest-markets/nestd/internal/domain"
)

// ArchiveBrowser lists cold-storage objects. Nil when the run mode wired no
// blob storage.
type ArchiveBrowser interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves the archive listing so operators can verify uploads
// landed before switching pruning on.
type ArchiveHandler struct {
	blobs  ArchiveBrowser
	logger *slog.Logger
}

// NewArchiveHandler creates the handler. blobs may be nil.
func NewArchiveHandler(blobs ArchiveBrowser, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logHandler(logger, "archive"),
	}
}

type archiveObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type archiveListResponse struct {
	Objects []archiveObject `json:"objects"`
	Prefix  string          `json:"prefix"`
}

// ListArchives returns the uploaded snapshot files. "kind" narrows the
// listing to one table's snapshots (events, price_points).
// GET /api/v1/admin/archives?kind=events
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeUnavailable(w, "archive browsing")
		return
	}

	prefix := "archive/"
	if kind := strings.TrimSpace(r.URL.Query().Get("kind")); kind != "" {
		prefix += kind + "/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	objects := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		objects = append(objects, archiveObject{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}

	writeJSON(w, http.StatusOK, archiveListResponse{
		Objects: objects,
		Prefix:  prefix,
	})
}
