package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hivepredict/hivepredict/internal/domain"
)

// allowedArchivePrefixes bounds archive browsing to the record trees the
// archiver writes. Everything else in the bucket is off limits.
var allowedArchivePrefixes = []string{
	"settlements/",
	"voids/",
	"archive/audit/",
}

// ArchiveHandler exposes the archived settlement, void, and audit-export
// records in blob storage. Admin-only, like the audit log itself.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logHandler(logger, "archive"),
	}
}

func archivePathAllowed(path string) bool {
	if strings.Contains(path, "..") {
		return false
	}
	for _, p := range allowedArchivePrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// ListArchives lists archived records under the given prefix.
// GET /api/archives?prefix=settlements/2026-08
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "settlements/"
	}
	if !archivePathAllowed(prefix) {
		writeError(w, http.StatusBadRequest, "prefix must be under settlements/, voids/, or archive/audit/")
		return
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.WarnContext(r.Context(), "archive list failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "archive storage unavailable")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":  prefix,
		"objects": infos,
		"count":   len(infos),
	})
}

// GetArchive streams a single archived record.
// GET /api/archives/{path...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if !archivePathAllowed(path) {
		writeError(w, http.StatusBadRequest, "path must be under settlements/, voids/, or archive/audit/")
		return
	}

	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive record not found")
			return
		}
		h.logger.WarnContext(r.Context(), "archive get failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "archive storage unavailable")
		return
	}
	defer body.Close()

	contentType := "application/json"
	if strings.HasSuffix(path, ".jsonl") {
		contentType = "application/x-ndjson"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
