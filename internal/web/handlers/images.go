package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-lapse/internal/alignment"
	"github.com/kozaktomas/face-lapse/internal/blob"
	"github.com/kozaktomas/face-lapse/internal/constants"
	"github.com/kozaktomas/face-lapse/internal/database"
	"github.com/kozaktomas/face-lapse/internal/fingerprint"
	"github.com/kozaktomas/face-lapse/internal/metrics"
	"github.com/kozaktomas/face-lapse/internal/ordering"
	"github.com/kozaktomas/face-lapse/internal/stager"
)

// Aligner runs alignment for the image endpoints.
type Aligner interface {
	Align(ctx context.Context, ids []int64) <-chan alignment.Event
	Realign(ctx context.Context, id int64) (alignment.Outcome, error)
}

// ImagesHandler serves the image library endpoints.
type ImagesHandler struct {
	store   database.ImageReader
	blobs   blob.Store
	stager  *stager.Stager
	library *ordering.Service
	aligner Aligner
	logger  *slog.Logger
}

// NewImagesHandler creates a new images handler.
func NewImagesHandler(store database.ImageReader, blobs blob.Store, st *stager.Stager, library *ordering.Service, aligner Aligner, logger *slog.Logger) *ImagesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImagesHandler{
		store:   store,
		blobs:   blobs,
		stager:  st,
		library: library,
		aligner: aligner,
		logger:  logger,
	}
}

// readUploads loads every multipart file into memory in form order.
func readUploads(files []*multipart.FileHeader) ([]stager.Upload, error) {
	uploads := make([]stager.Upload, 0, len(files))
	for _, fileHeader := range files {
		if err := func() error {
			file, err := fileHeader.Open()
			if err != nil {
				return fmt.Errorf("failed to open file: %s", fileHeader.Filename)
			}
			defer file.Close()

			data, err := io.ReadAll(file)
			if err != nil {
				return fmt.Errorf("failed to read file: %s", fileHeader.Filename)
			}
			uploads = append(uploads, stager.Upload{Filename: fileHeader.Filename, Data: data})
			return nil
		}(); err != nil {
			return nil, err
		}
	}
	return uploads, nil
}

// Upload stages a multipart batch and reports one descriptor per file.
func (h *ImagesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no files provided")
		return
	}

	uploads, err := readUploads(files)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	descriptors, err := h.stager.Stage(r.Context(), uploads)
	if err != nil {
		h.logger.Error("upload failed", "files", len(uploads), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}
	respondJSON(w, http.StatusOK, descriptors)
}

func listETag(version int64) string {
	return fmt.Sprintf(`"v%d"`, version)
}

// List returns the library in sort_order. Clients polling with If-None-Match
// or ?since=<version> get 304 while nothing changed.
func (h *ImagesHandler) List(w http.ResponseWriter, r *http.Request) {
	if since := r.URL.Query().Get("since"); since != "" {
		v, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since version")
			return
		}
		current, err := h.store.Version(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to read library version")
			return
		}
		if v == current {
			w.Header().Set("ETag", listETag(current))
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	snap, err := h.store.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to list images", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list images")
		return
	}

	etag := listETag(snap.Version)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	metrics.LibraryImages.Set(float64(len(snap.Images)))
	images := snap.Images
	if images == nil {
		images = []database.ImageRecord{}
	}
	respondJSON(w, http.StatusOK, images)
}

// Reorder applies [{id, sort_order}] positions.
func (h *ImagesHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var positions []ordering.Position
	if err := json.NewDecoder(r.Body).Decode(&positions); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	err := h.library.Reorder(r.Context(), positions)
	switch {
	case errors.Is(err, ordering.ErrUnknownImage):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ordering.ErrInvalidOrder):
		respondError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("reorder failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update order")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// Toggle flips whether an aligned image is a frame of the video.
func (h *ImagesHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	included, err := h.library.Toggle(r.Context(), id)
	switch {
	case errors.Is(err, ordering.ErrUnknownImage):
		respondError(w, http.StatusNotFound, "image not found")
	case errors.Is(err, ordering.ErrNotAligned):
		respondError(w, http.StatusConflict, "image has no aligned version")
	case err != nil:
		h.logger.Error("toggle failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to toggle image")
	default:
		respondJSON(w, http.StatusOK, map[string]any{
			"id":                id,
			"included_in_video": included,
		})
	}
}

// Realign reruns detection and warping for one image.
func (h *ImagesHandler) Realign(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	outcome, err := h.aligner.Realign(r.Context(), id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "image not found")
	case err != nil:
		h.logger.Error("realign failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to realign image")
	default:
		respondJSON(w, http.StatusOK, outcome)
	}
}

// Delete removes one image and its stored bytes.
func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}

	err := h.library.Delete(r.Context(), id)
	switch {
	case errors.Is(err, ordering.ErrUnknownImage):
		respondError(w, http.StatusNotFound, "image not found")
	case err != nil:
		h.logger.Error("delete failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete image")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// DismissNoFace deletes every image whose last alignment found no face.
func (h *ImagesHandler) DismissNoFace(w http.ResponseWriter, r *http.Request) {
	ids, err := h.library.DismissNoFace(r.Context())
	if err != nil {
		h.logger.Error("dismiss no-face failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete images")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted": len(ids),
		"ids":     ids,
	})
}

// Original streams the uploaded bytes unchanged.
func (h *ImagesHandler) Original(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}
	rec, ok := h.record(w, r, id)
	if !ok {
		return
	}

	w.Header().Set("Cache-Control", constants.ImmutableCacheControl)
	h.serveBlob(w, r, blob.OriginalKey(rec.OriginalFilename), fingerprint.ContentType(filepath.Ext(rec.OriginalFilename)))
}

// Aligned streams the aligned JPEG. Re-alignment rewrites it in place, so
// clients revalidate against an ETag derived from the record's update time.
func (h *ImagesHandler) Aligned(w http.ResponseWriter, r *http.Request) {
	id, ok := imageID(w, r)
	if !ok {
		return
	}
	rec, ok := h.record(w, r, id)
	if !ok {
		return
	}
	if !rec.HasAligned {
		respondError(w, http.StatusNotFound, "image has no aligned version")
		return
	}

	etag := fmt.Sprintf(`"%d-%d"`, rec.ID, rec.UpdatedAt.UnixNano())
	w.Header().Set("Cache-Control", constants.RevalidateCacheControl)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.serveBlob(w, r, blob.AlignedKey(rec.ID), "image/jpeg")
}

func (h *ImagesHandler) record(w http.ResponseWriter, r *http.Request, id int64) (*database.ImageRecord, bool) {
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "image not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to load image", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load image")
		return nil, false
	}
	return rec, true
}

func (h *ImagesHandler) serveBlob(w http.ResponseWriter, r *http.Request, key, contentType string) {
	rc, err := h.blobs.Open(r.Context(), key)
	if errors.Is(err, blob.ErrNotFound) {
		w.Header().Del("Cache-Control")
		w.Header().Del("ETag")
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to open blob", "key", sanitizeForLog(key), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug("client went away during download", "key", key, "error", err)
	}
}
