package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kozaktomas/face-lapse/internal/alignment"
	"github.com/kozaktomas/face-lapse/internal/blob"
	"github.com/kozaktomas/face-lapse/internal/chronology"
	"github.com/kozaktomas/face-lapse/internal/config"
	"github.com/kozaktomas/face-lapse/internal/database/sqlstore"
	"github.com/kozaktomas/face-lapse/internal/facedetect"
	"github.com/kozaktomas/face-lapse/internal/ordering"
	"github.com/kozaktomas/face-lapse/internal/stager"
	"github.com/kozaktomas/face-lapse/internal/video"
)

// videoLibrary joins the image listing and the video artifact row for the composer.
type videoLibrary struct {
	*sqlstore.ImageRepository
	*sqlstore.VideoRepository
}

// app holds the wired pipeline shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *sqlstore.Pool
	images   *sqlstore.ImageRepository
	blobs    blob.Store
	library  *ordering.Service
	resolver *chronology.Resolver
	engine   *alignment.Engine
	stager   *stager.Stager
	composer *video.Composer
}

// newApp loads configuration, opens the database and blob store and wires the pipeline.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	pool, err := sqlstore.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Debug("database ready", "dialect", pool.Dialect())

	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	images := sqlstore.NewImageRepository(pool)
	videos := sqlstore.NewVideoRepository(pool)
	library := ordering.NewService(images, blobs, logger)
	resolver := chronology.NewResolver(images, logger)
	detector := facedetect.NewClient(cfg.Landmark.URL, time.Duration(cfg.Landmark.TimeoutSeconds)*time.Second)
	encoder := video.NewFFmpegEncoder(cfg.FFmpeg.Path, cfg.Video, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		images:   images,
		blobs:    blobs,
		library:  library,
		resolver: resolver,
		engine:   alignment.NewEngine(images, blobs, detector, library, resolver, cfg.Alignment, logger),
		stager:   stager.New(images, blobs, logger),
		composer: video.NewComposer(videoLibrary{images, videos}, blobs, encoder, cfg.Video, cfg.Alignment.JPEGQuality, logger),
	}, nil
}

// Close releases the database pool.
func (a *app) Close() {
	if err := a.pool.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// outputJSON writes data to stdout as indented JSON.
func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
