// Package api exposes the thin HTTP edge over the job pipeline: submission,
// status, playlist retrieval, cleanup, and credential upload.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tubetunnel/internal/playlist"
	"tubetunnel/internal/producer"
	"tubetunnel/internal/storage"
)

// Handler bundles the pipeline services behind HTTP endpoints.
type Handler struct {
	producer    *producer.Producer
	presigner   *playlist.Presigner
	credentials *storage.CredentialSource
	objects     storage.ObjectStore
	mediaBucket string
	logger      *slog.Logger
}

// NewHandler wires a Handler.
func NewHandler(p *producer.Producer, presigner *playlist.Presigner, credentials *storage.CredentialSource, objects storage.ObjectStore, mediaBucket string, logger *slog.Logger) (*Handler, error) {
	if p == nil || presigner == nil || credentials == nil || objects == nil {
		return nil, errors.New("producer, presigner, credentials, and object store are required")
	}
	if mediaBucket == "" {
		return nil, errors.New("media bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		producer:    p,
		presigner:   presigner,
		credentials: credentials,
		objects:     objects,
		mediaBucket: mediaBucket,
		logger:      logger,
	}, nil
}

type submitRequest struct {
	URL       string `json:"url"`
	AudioOnly bool   `json:"audioOnly,omitempty"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	jobID, err := h.producer.Submit(r.Context(), req.URL, req.AudioOnly)
	if err != nil {
		if errors.Is(err, producer.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	state := h.producer.GetStatus(r.Context(), jobID)
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	content, err := h.presigner.Playlist(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "playlist not found")
			return
		}
		h.logger.Error("playlist fetch failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "playlist fetch failed")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, content)
}

type cleanResponse struct {
	Deleted int64 `json:"deleted"`
}

func (h *Handler) handleCleanJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	deleted, err := h.producer.CleanJob(r.Context(), jobID)
	if err != nil {
		h.logger.Error("clean job failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "clean failed")
		return
	}
	writeJSON(w, http.StatusOK, cleanResponse{Deleted: deleted})
}

func (h *Handler) handleCleanAll(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.producer.CleanAllJobs(r.Context())
	if err != nil {
		h.logger.Error("clean all jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "clean failed")
		return
	}
	writeJSON(w, http.StatusOK, cleanResponse{Deleted: deleted})
}

func (h *Handler) handleCleanStorage(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.objects.PurgeBucket(r.Context(), h.mediaBucket)
	if err != nil {
		h.logger.Error("storage cleanup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, cleanResponse{Deleted: deleted})
}

func (h *Handler) handleSaveCredential(w http.ResponseWriter, r *http.Request) {
	contents, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read credential body: "+err.Error())
		return
	}
	if len(contents) == 0 {
		writeError(w, http.StatusBadRequest, "credential body is empty")
		return
	}
	if err := h.credentials.Save(r.Context(), contents); err != nil {
		h.logger.Error("credential save failed", "error", err)
		writeError(w, http.StatusInternalServerError, "credential save failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": strconv.Itoa(status)})
}
