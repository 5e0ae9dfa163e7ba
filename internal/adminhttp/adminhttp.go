// Package adminhttp is a small read-only HTTP surface over the System:
// liveness plus the hierarchical byte/message counters. It is not the
// command transport (appends and fetches go through the framed protocol),
// just an operator window.
package adminhttp

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"streamlog/internal/system"
)

type Handler struct {
	sys    *system.System
	logger *zap.Logger
}

func NewHandler(sys *system.System, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sys: sys, logger: logger}
}

// Router builds the full admin router. Callers mount it on whatever
// http.Server they run.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.Health)
	r.Get("/stats", h.Stats)
	r.Get("/streams/{streamID}/stats", h.StreamStats)
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats reports the process-wide counters and the per-stream breakdown.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	type streamStats struct {
		ID        uint32 `json:"id"`
		Name      string `json:"name"`
		SizeBytes int64  `json:"size_bytes"`
		Messages  int64  `json:"messages"`
	}

	streams := make([]streamStats, 0)
	for _, id := range h.sys.StreamIDs() {
		st, ok := h.sys.GetStreamByID(id)
		if !ok {
			continue
		}
		streams = append(streams, streamStats{
			ID:        st.ID,
			Name:      st.Name,
			SizeBytes: st.Size(),
			Messages:  st.Messages(),
		})
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"total_size_bytes": h.sys.TotalSize(),
		"total_messages":   h.sys.TotalMessages(),
		"streams":          streams,
	})
}

// StreamStats breaks one stream down by topic.
func (h *Handler) StreamStats(w http.ResponseWriter, r *http.Request) {
	id64, err := strconv.ParseUint(chi.URLParam(r, "streamID"), 10, 32)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid stream id")
		return
	}
	st, ok := h.sys.GetStreamByID(uint32(id64))
	if !ok {
		h.respondError(w, http.StatusNotFound, "stream not found")
		return
	}

	type topicStats struct {
		ID        uint32 `json:"id"`
		Name      string `json:"name"`
		SizeBytes int64  `json:"size_bytes"`
		Messages  int64  `json:"messages"`
	}
	topics := make([]topicStats, 0)
	for _, tid := range st.TopicIDs() {
		t, ok := st.GetTopicByID(tid)
		if !ok {
			continue
		}
		topics = append(topics, topicStats{ID: t.ID, Name: t.Name, SizeBytes: t.Size(), Messages: t.Messages()})
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"id":         st.ID,
		"name":       st.Name,
		"size_bytes": st.Size(),
		"messages":   st.Messages(),
		"topics":     topics,
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode admin response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}
