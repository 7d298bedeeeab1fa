package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type alignRequest struct {
	IDs []int64 `json:"ids"`
}

// Align streams one progress event per image in request order, then a
// complete event with the summary. NDJSON by default, SSE on request.
func (h *ImagesHandler) Align(w http.ResponseWriter, r *http.Request) {
	var req alignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "ids are required")
		return
	}

	runID := uuid.NewString()
	w.Header().Set("X-Align-Run", runID)
	stream, ok := openStream(w, r)
	if !ok {
		return
	}

	logger := h.logger.With("run_id", runID)
	logger.Info("alignment requested", "images", len(req.IDs), "sse", wantsSSE(r))
	var sent int
	for ev := range h.aligner.Align(r.Context(), req.IDs) {
		switch {
		case ev.Progress != nil:
			stream.send(eventProgress, ev.Progress)
			sent++
		case ev.Summary != nil:
			stream.send(eventComplete, ev.Summary)
		}
	}
	if err := r.Context().Err(); err != nil {
		logger.Info("alignment stream closed by client", "completed", sent, "requested", len(req.IDs))
	}
}
