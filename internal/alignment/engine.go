package alignment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-lapse/internal/blob"
	"github.com/kozaktomas/face-lapse/internal/chronology"
	"github.com/kozaktomas/face-lapse/internal/config"
	"github.com/kozaktomas/face-lapse/internal/database"
	"github.com/kozaktomas/face-lapse/internal/facedetect"
	"github.com/kozaktomas/face-lapse/internal/metrics"
	"github.com/kozaktomas/face-lapse/internal/raster"
)

// detectJPEGQuality is used for the copy sent to the landmark service.
const detectJPEGQuality = 90

// Placer moves a newly aligned record to its chronological position.
type Placer interface {
	Place(ctx context.Context, id int64) error
}

// DateFiller interpolates missing capture times for the given ids.
type DateFiller interface {
	FillMissing(ctx context.Context, ids []int64) ([]database.PhotoTime, error)
}

// Engine aligns images one at a time. Runs are serialized.
type Engine struct {
	store    database.ImageWriter
	blobs    blob.Store
	detector facedetect.Detector
	placer   Placer
	dates    DateFiller
	cfg      config.AlignmentConfig
	logger   *slog.Logger
	sem      chan struct{}
}

func NewEngine(store database.ImageWriter, blobs blob.Store, detector facedetect.Detector,
	placer Placer, dates DateFiller, cfg config.AlignmentConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		blobs:    blobs,
		detector: detector,
		placer:   placer,
		dates:    dates,
		cfg:      cfg,
		logger:   logger,
		sem:      make(chan struct{}, 1),
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() { <-e.sem }

// Align processes ids in submission order and streams one Progress per image
// followed by a Summary. The channel is closed after the summary, or early when
// ctx is cancelled; images finished before cancellation keep their results.
func (e *Engine) Align(ctx context.Context, ids []int64) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		if err := e.acquire(ctx); err != nil {
			return
		}
		defer e.release()

		summary := &Summary{Outcomes: make([]Outcome, 0, len(ids))}
		for i, id := range ids {
			if ctx.Err() != nil {
				e.logger.Info("alignment stream abandoned", "done", i, "total", len(ids))
				return
			}
			outcome := e.alignOne(ctx, id)
			summary.add(outcome)

			select {
			case events <- Event{Progress: &Progress{Current: i + 1, Total: len(ids), Outcome: outcome}}:
			case <-ctx.Done():
				return
			}
		}

		e.logger.Info("alignment finished",
			"aligned", summary.AlignedCount, "no_face", summary.NoFaceCount, "failed", summary.FailedCount)
		select {
		case events <- Event{Summary: summary}:
		case <-ctx.Done():
		}
	}()
	return events
}

// Realign recomputes landmarks and the aligned raster of one record.
func (e *Engine) Realign(ctx context.Context, id int64) (Outcome, error) {
	if _, err := e.store.Get(ctx, id); err != nil {
		return Outcome{}, err
	}
	if err := e.acquire(ctx); err != nil {
		return Outcome{}, err
	}
	defer e.release()
	return e.alignOne(ctx, id), nil
}

func (e *Engine) alignOne(ctx context.Context, id int64) Outcome {
	start := time.Now()
	outcome := e.process(ctx, id)
	metrics.AlignmentOutcomesTotal.WithLabelValues(string(outcome.Status)).Inc()
	metrics.AlignmentDuration.Observe(time.Since(start).Seconds())

	logger := e.logger.With("id", id, "status", outcome.Status, "duration", time.Since(start).Round(time.Millisecond))
	if outcome.Status == StatusError {
		logger.Warn("alignment failed", "error", outcome.Error)
	} else {
		logger.Debug("aligned image")
	}
	return outcome
}

func (e *Engine) process(ctx context.Context, id int64) Outcome {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return Outcome{ID: id, Status: StatusError, Error: err.Error()}
	}
	outcome := Outcome{
		ID:               rec.ID,
		OriginalFilename: rec.OriginalFilename,
		FaceDetected:     rec.FaceDetected,
		HasAligned:       rec.HasAligned,
		PhotoTakenAt:     rec.PhotoTakenAt,
	}
	fail := func(err error) Outcome {
		outcome.Status = StatusError
		outcome.Error = err.Error()
		return outcome
	}

	data, err := e.readOriginal(ctx, rec)
	if err != nil {
		return fail(err)
	}
	img, err := raster.Decode(data)
	if err != nil {
		return fail(err)
	}
	lm, err := e.detect(ctx, img)
	if err != nil {
		return fail(fmt.Errorf("landmark detection: %w", err))
	}

	var updated *database.ImageRecord
	if lm != nil {
		updated, err = e.saveAligned(ctx, rec, img, lm)
		if errors.Is(err, ErrEyesTooClose) {
			outcome.Detail = err.Error()
			lm = nil
		} else if err != nil {
			return fail(err)
		}
	}
	if lm == nil {
		updated, err = e.saveNoFace(ctx, rec)
		if err != nil {
			return fail(err)
		}
	}

	outcome.FaceDetected = updated.FaceDetected
	outcome.HasAligned = updated.HasAligned
	if updated.HasAligned {
		outcome.Status = StatusAligned
	} else {
		outcome.Status = StatusNoFace
	}

	firstSuccess := updated.HasAligned && !rec.HasAligned
	outcome.PhotoTakenAt = e.resolveChronology(ctx, rec, data, firstSuccess)
	return outcome
}

func (e *Engine) readOriginal(ctx context.Context, rec *database.ImageRecord) ([]byte, error) {
	rc, err := e.blobs.Open(ctx, blob.OriginalKey(rec.OriginalFilename))
	if err != nil {
		return nil, fmt.Errorf("original not available: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read original: %w", err)
	}
	return data, nil
}

// detect runs detection on the full image and, when that finds nothing on a
// large image, once more on a downscaled copy with coordinates mapped back.
func (e *Engine) detect(ctx context.Context, img image.Image) (*facedetect.Landmarks, error) {
	lm, err := e.detectOn(ctx, img)
	if err != nil || lm != nil {
		return lm, err
	}

	small, factor := raster.FitLongEdge(img, e.cfg.MaxDetectDimension)
	if factor == 1 {
		return nil, nil
	}
	lm, err = e.detectOn(ctx, small)
	if err != nil || lm == nil {
		return lm, err
	}
	e.logger.Debug("face found after downscale",
		"width", small.Bounds().Dx(), "height", small.Bounds().Dy())
	lm.LeftEye = facedetect.Point(scalePoint(database.Point(lm.LeftEye), factor))
	lm.RightEye = facedetect.Point(scalePoint(database.Point(lm.RightEye), factor))
	return lm, nil
}

func (e *Engine) detectOn(ctx context.Context, img image.Image) (*facedetect.Landmarks, error) {
	data, err := raster.JPEGBytes(img, detectJPEGQuality)
	if err != nil {
		return nil, err
	}
	return e.detector.DetectLandmarks(ctx, data)
}

func (e *Engine) saveAligned(ctx context.Context, rec *database.ImageRecord, img image.Image, lm *facedetect.Landmarks) (*database.ImageRecord, error) {
	left := database.Point(lm.LeftEye)
	right := database.Point(lm.RightEye)

	lx, ly := e.cfg.LeftEyeTarget()
	rx, ry := e.cfg.RightEyeTarget()
	sim, err := EyeTransform(left, right, database.Point{X: lx, Y: ly}, database.Point{X: rx, Y: ry}, e.cfg.MinEyeDistance)
	if err != nil {
		return nil, err
	}

	aligned := Warp(img, sim, e.cfg.OutputWidth, e.cfg.OutputHeight)
	var buf bytes.Buffer
	if err := raster.EncodeJPEG(&buf, aligned, e.cfg.JPEGQuality); err != nil {
		return nil, err
	}
	size := int64(buf.Len())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.blobs.Put(ctx, blob.AlignedKey(rec.ID), &buf, size, "image/jpeg"); err != nil {
		return nil, fmt.Errorf("store aligned image: %w", err)
	}
	// the raster is replaced; the record must follow it even if the caller gave up
	ctx = context.WithoutCancel(ctx)

	// a first success includes the frame; a re-alignment keeps the user's choice
	included := rec.IncludedInVideo
	if !rec.HasAligned {
		included = true
	}
	updated, err := e.store.SaveAlignment(ctx, rec.ID, database.AlignmentUpdate{
		FaceDetected:    true,
		HasAligned:      true,
		IncludedInVideo: included,
		LeftEye:         &left,
		RightEye:        &right,
	})
	if err != nil {
		return nil, fmt.Errorf("save alignment: %w", err)
	}
	return updated, nil
}

func (e *Engine) saveNoFace(ctx context.Context, rec *database.ImageRecord) (*database.ImageRecord, error) {
	updated, err := e.store.SaveAlignment(ctx, rec.ID, database.AlignmentUpdate{
		FaceDetected:    false,
		HasAligned:      false,
		IncludedInVideo: rec.IncludedInVideo,
	})
	if err != nil {
		return nil, fmt.Errorf("save alignment: %w", err)
	}
	if err := e.blobs.Delete(ctx, blob.AlignedKey(rec.ID)); err != nil {
		e.logger.Warn("failed to remove stale aligned image", "id", rec.ID, "error", err)
	}
	return updated, nil
}

// resolveChronology fills the capture time of a record that has none and places
// a first-time success in the library. Failures here do not undo the alignment.
func (e *Engine) resolveChronology(ctx context.Context, rec *database.ImageRecord, data []byte, firstSuccess bool) *time.Time {
	takenAt := rec.PhotoTakenAt
	if takenAt == nil {
		if at, source, ok := chronology.Capture(data, rec.SourceFilename); ok {
			err := e.store.SetPhotoTimes(ctx, []database.PhotoTime{{ID: rec.ID, At: at, Source: source}})
			if err != nil {
				e.logger.Warn("failed to store capture time", "id", rec.ID, "error", err)
			} else {
				takenAt = &at
			}
		}
	}

	if firstSuccess && e.placer != nil {
		if err := e.placer.Place(ctx, rec.ID); err != nil {
			e.logger.Warn("failed to place image", "id", rec.ID, "error", err)
		}
	}

	if takenAt == nil && e.dates != nil {
		filled, err := e.dates.FillMissing(ctx, []int64{rec.ID})
		if err != nil {
			e.logger.Warn("failed to interpolate capture time", "id", rec.ID, "error", err)
		}
		for _, pt := range filled {
			if pt.ID == rec.ID {
				at := pt.At
				takenAt = &at
			}
		}
	}
	return takenAt
}
