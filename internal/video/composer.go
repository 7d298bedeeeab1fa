// Package video renders the ordered, included aligned frames into the timelapse.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-lapse/internal/blob"
	"github.com/kozaktomas/face-lapse/internal/config"
	"github.com/kozaktomas/face-lapse/internal/constants"
	"github.com/kozaktomas/face-lapse/internal/database"
	"github.com/kozaktomas/face-lapse/internal/metrics"
	"github.com/kozaktomas/face-lapse/internal/raster"
)

var (
	// ErrNoEligibleImages is returned when no record is both aligned and included.
	ErrNoEligibleImages = errors.New("no aligned images selected for the video")
	// ErrInvalidFrameDuration is returned for a frame duration outside the configured bounds.
	ErrInvalidFrameDuration = errors.New("frame duration out of range")
	// ErrNoVideo is returned when nothing has been rendered yet.
	ErrNoVideo = errors.New("no video rendered yet")
)

// Render results
const (
	resultSuccess = "success"
	resultRefused = "refused"
	resultError   = "error"
)

// Library is the part of the store the composer reads and writes.
type Library interface {
	List(ctx context.Context) ([]database.ImageRecord, error)
	database.VideoStore
}

// Options control one render.
type Options struct {
	FrameDuration float64
	ShowDates     bool
	Birthday      *time.Time
}

// Composer renders the timelapse. Renders are serialized.
type Composer struct {
	mu      sync.Mutex
	store   Library
	blobs   blob.Store
	encoder Encoder
	cfg     config.VideoConfig
	quality int
	logger  *slog.Logger
	now     func() time.Time
}

func NewComposer(store Library, blobs blob.Store, encoder Encoder, cfg config.VideoConfig, jpegQuality int, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		store:   store,
		blobs:   blobs,
		encoder: encoder,
		cfg:     cfg,
		quality: jpegQuality,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ValidateFrameDuration checks d against the configured bounds.
func (c *Composer) ValidateFrameDuration(d float64) error {
	if d < c.cfg.MinFrameDuration || d > c.cfg.MaxFrameDuration {
		return fmt.Errorf("%w: %v not within [%v, %v]", ErrInvalidFrameDuration, d, c.cfg.MinFrameDuration, c.cfg.MaxFrameDuration)
	}
	return nil
}

// DefaultFrameDuration is used when a request does not name one.
func (c *Composer) DefaultFrameDuration() float64 {
	return c.cfg.FrameDuration
}

// Compose renders every eligible frame in library order and replaces the
// latest artifact. A failed render leaves the previous artifact and its bytes in place.
func (c *Composer) Compose(ctx context.Context, opts Options) (*database.VideoArtifact, error) {
	if err := c.ValidateFrameDuration(opts.FrameDuration); err != nil {
		metrics.VideoRendersTotal.WithLabelValues(resultRefused).Inc()
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	artifact, err := c.compose(ctx, opts)
	switch {
	case errors.Is(err, ErrNoEligibleImages):
		metrics.VideoRendersTotal.WithLabelValues(resultRefused).Inc()
		return nil, err
	case err != nil:
		metrics.VideoRendersTotal.WithLabelValues(resultError).Inc()
		metrics.VideoRenderDuration.Observe(time.Since(start).Seconds())
		return nil, err
	}
	metrics.VideoRendersTotal.WithLabelValues(resultSuccess).Inc()
	metrics.VideoRenderDuration.Observe(time.Since(start).Seconds())
	c.logger.Info("video ready",
		"frames", artifact.FrameCount,
		"frame_duration", artifact.FrameDuration,
		"total_duration", artifact.TotalDuration,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return artifact, nil
}

func (c *Composer) compose(ctx context.Context, opts Options) (*database.VideoArtifact, error) {
	records, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	var eligible []database.ImageRecord
	for _, rec := range records {
		if rec.Eligible() {
			eligible = append(eligible, rec)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleImages
	}

	workDir, err := os.MkdirTemp("", "face-lapse-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	frames := make([]string, 0, len(eligible))
	for _, rec := range eligible {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(workDir, fmt.Sprintf("frame_%06d.jpg", len(frames)))
		err := c.writeFrame(ctx, rec, path, opts)
		if errors.Is(err, blob.ErrNotFound) {
			c.logger.Warn("aligned image missing, skipping frame", "id", rec.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, path)
	}
	if len(frames) == 0 {
		return nil, ErrNoEligibleImages
	}

	c.logger.Info("rendering video", "frames", len(frames), "frame_duration", opts.FrameDuration, "dates", opts.ShowDates)
	output := filepath.Join(workDir, constants.LatestVideoName)
	if err := c.encoder.Encode(ctx, EncodeRequest{FramePaths: frames, FrameDuration: opts.FrameDuration, Output: output}); err != nil {
		return nil, fmt.Errorf("video encoding failed: %w", err)
	}

	previous, err := c.store.LatestVideo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load video metadata: %w", err)
	}

	// every render gets its own key; the row is switched over before the old bytes go
	key := blob.VideoKey(uuid.NewString())
	if err := c.storeOutput(ctx, output, key); err != nil {
		return nil, err
	}

	artifact := &database.VideoArtifact{
		FrameCount:    len(frames),
		FrameDuration: opts.FrameDuration,
		TotalDuration: float64(len(frames)) * opts.FrameDuration,
		BlobKey:       key,
		Filename:      constants.LatestVideoName,
		ShowDates:     opts.ShowDates,
		CreatedAt:     c.now(),
	}
	if opts.Birthday != nil {
		artifact.Birthday = opts.Birthday.Format(birthdayLayout)
	}
	if err := c.store.SaveVideo(ctx, artifact); err != nil {
		c.removeBlob(ctx, key)
		return nil, fmt.Errorf("failed to save video metadata: %w", err)
	}
	if previous != nil && previous.BlobKey != "" && previous.BlobKey != key {
		c.removeBlob(ctx, previous.BlobKey)
	}
	return artifact, nil
}

func (c *Composer) removeBlob(ctx context.Context, key string) {
	if err := c.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		c.logger.Warn("failed to remove video blob", "key", key, "error", err)
	}
}

// writeFrame copies the aligned raster to path, drawing the caption when dates are shown.
func (c *Composer) writeFrame(ctx context.Context, rec database.ImageRecord, path string, opts Options) error {
	rc, err := c.blobs.Open(ctx, blob.AlignedKey(rec.ID))
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create frame: %w", err)
	}
	defer out.Close()

	if !opts.ShowDates {
		if _, err := io.Copy(out, rc); err != nil {
			return fmt.Errorf("failed to copy frame %d: %w", rec.ID, err)
		}
		return out.Close()
	}

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("failed to read frame %d: %w", rec.ID, err)
	}
	img, err := raster.DecodeJPEG(data)
	if err != nil {
		return fmt.Errorf("frame %d: %w", rec.ID, err)
	}
	canvas := image.NewRGBA(img.Bounds())
	draw.Draw(canvas, canvas.Bounds(), img, img.Bounds().Min, draw.Src)
	if err := DrawCaption(canvas, CaptionLines(rec.PhotoTakenAt, opts.Birthday), c.cfg.Caption); err != nil {
		return err
	}
	if err := raster.EncodeJPEG(out, canvas, c.quality); err != nil {
		return fmt.Errorf("frame %d: %w", rec.ID, err)
	}
	return out.Close()
}

func (c *Composer) storeOutput(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("encoder produced no output: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat video: %w", err)
	}
	if err := c.blobs.Put(ctx, key, f, info.Size(), "video/mp4"); err != nil {
		return fmt.Errorf("failed to store video: %w", err)
	}
	return nil
}

// Latest returns the metadata of the last successful render.
func (c *Composer) Latest(ctx context.Context) (*database.VideoArtifact, error) {
	artifact, err := c.store.LatestVideo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load video metadata: %w", err)
	}
	if artifact == nil {
		return nil, ErrNoVideo
	}
	return artifact, nil
}

// Open streams the bytes of the last successful render.
func (c *Composer) Open(ctx context.Context) (*database.VideoArtifact, io.ReadCloser, error) {
	artifact, err := c.Latest(ctx)
	if err != nil {
		return nil, nil, err
	}
	if artifact.BlobKey == "" {
		return nil, nil, ErrNoVideo
	}
	rc, err := c.blobs.Open(ctx, artifact.BlobKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil, ErrNoVideo
	}
	if err != nil {
		return nil, nil, err
	}
	return artifact, rc, nil
}

// DownloadName is the attachment filename offered for an artifact.
func DownloadName(artifact *database.VideoArtifact) string {
	return fmt.Sprintf("face-lapse-%s.mp4", artifact.CreatedAt.Format("01-02-2006"))
}
