package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kozaktomas/face-lapse/internal/video"
)

// VideoHandler serves timelapse rendering and download.
type VideoHandler struct {
	composer *video.Composer
	logger   *slog.Logger
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(composer *video.Composer, logger *slog.Logger) *VideoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoHandler{composer: composer, logger: logger}
}

type composeRequest struct {
	FrameDuration *float64 `json:"frame_duration"`
	ShowDates     bool     `json:"show_dates"`
	Birthday      string   `json:"birthday"`
}

// Compose renders the video from the current library order.
func (h *VideoHandler) Compose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	opts := video.Options{
		FrameDuration: h.composer.DefaultFrameDuration(),
		ShowDates:     req.ShowDates,
	}
	if req.FrameDuration != nil {
		opts.FrameDuration = *req.FrameDuration
	}
	if req.Birthday != "" {
		b, err := time.Parse(time.DateOnly, req.Birthday)
		if err != nil {
			respondError(w, http.StatusBadRequest, "birthday must be YYYY-MM-DD")
			return
		}
		opts.Birthday = &b
	}

	artifact, err := h.composer.Compose(r.Context(), opts)
	switch {
	case errors.Is(err, video.ErrInvalidFrameDuration):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, video.ErrNoEligibleImages):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		h.logger.Error("video render failed", "error", err)
		respondError(w, http.StatusInternalServerError, "video generation failed")
	default:
		respondJSON(w, http.StatusOK, artifact)
	}
}

// Get returns metadata of the latest render.
func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.composer.Latest(r.Context())
	switch {
	case errors.Is(err, video.ErrNoVideo):
		respondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.logger.Error("failed to load video metadata", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load video")
	default:
		respondJSON(w, http.StatusOK, artifact)
	}
}

// Download streams the latest render as an attachment.
func (h *VideoHandler) Download(w http.ResponseWriter, r *http.Request) {
	artifact, rc, err := h.composer.Open(r.Context())
	if errors.Is(err, video.ErrNoVideo) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to open video", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to open video")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+video.DownloadName(artifact)+`"`)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug("client went away during video download", "error", err)
	}
}
