// Package stager ingests upload batches, skipping content the library already holds.
package stager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kozaktomas/face-lapse/internal/blob"
	"github.com/kozaktomas/face-lapse/internal/database"
	"github.com/kozaktomas/face-lapse/internal/fingerprint"
	"github.com/kozaktomas/face-lapse/internal/metrics"
)

// Upload is one client file of a batch.
type Upload struct {
	Filename string
	Data     []byte
}

// Descriptor reports how one upload was classified, in batch order.
type Descriptor struct {
	ID               int64  `json:"id"`
	OriginalFilename string `json:"original_filename"`
	SourceFilename   string `json:"source_filename"`
	Skipped          bool   `json:"skipped"`
	ExistingID       *int64 `json:"existing_id,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Stager classifies and persists upload batches. Batches are staged one at a time.
type Stager struct {
	mu     sync.Mutex
	store  database.ImageWriter
	blobs  blob.Store
	logger *slog.Logger
}

func New(store database.ImageWriter, blobs blob.Store, logger *slog.Logger) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stager{store: store, blobs: blobs, logger: logger}
}

// Stage classifies every upload as new or duplicate and stores the originals of
// new ones. Per-file storage failures are reported on the descriptor; the
// returned error is reserved for faults that affect the whole request.
func (s *Stager) Stage(ctx context.Context, uploads []Upload) ([]Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inBatch := make(map[string]*database.ImageRecord)
	out := make([]Descriptor, 0, len(uploads))
	var created, skipped, failed int

	for _, up := range uploads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		source := SourceName(up.Filename)
		fp := fingerprint.Compute(up.Data)

		existing := inBatch[fp]
		if existing == nil {
			rec, err := s.store.FindByFingerprint(ctx, fp)
			if err != nil {
				return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
			}
			existing = rec
		}
		if existing != nil {
			out = append(out, duplicate(existing, source))
			skipped++
			continue
		}

		desc, rec, err := s.create(ctx, up, source, fp)
		if err != nil {
			return nil, err
		}
		switch {
		case desc.Error != "":
			failed++
		case desc.Skipped:
			skipped++
		default:
			inBatch[fp] = rec
			created++
		}
		out = append(out, desc)
	}

	metrics.UploadsTotal.WithLabelValues(metrics.UploadNew).Add(float64(created))
	metrics.UploadsTotal.WithLabelValues(metrics.UploadDuplicate).Add(float64(skipped))
	metrics.UploadsTotal.WithLabelValues(metrics.UploadError).Add(float64(failed))
	s.logger.Info("staged upload batch", "files", len(uploads), "new", created, "duplicates", skipped, "failed", failed)
	return out, nil
}

// create inserts the record and then writes the original under its assigned name.
func (s *Stager) create(ctx context.Context, up Upload, source, fp string) (Descriptor, *database.ImageRecord, error) {
	ext := fingerprint.ExtensionFor(up.Filename, up.Data)
	rec, err := s.store.Create(ctx, database.NewImage{
		Fingerprint:    fp,
		SourceFilename: source,
		Extension:      ext,
	})
	if errors.Is(err, database.ErrDuplicateFingerprint) {
		// lost a race against a concurrent writer; the stored record wins
		winner, findErr := s.store.FindByFingerprint(ctx, fp)
		if findErr != nil {
			return Descriptor{}, nil, fmt.Errorf("failed to look up fingerprint: %w", findErr)
		}
		if winner != nil {
			return duplicate(winner, source), winner, nil
		}
		return failure(source, err), nil, nil
	}
	if err != nil {
		return Descriptor{}, nil, fmt.Errorf("failed to create image record: %w", err)
	}

	key := blob.OriginalKey(rec.OriginalFilename)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(up.Data), int64(len(up.Data)), fingerprint.ContentType(ext)); err != nil {
		s.logger.Warn("failed to store original", "id", rec.ID, "source", source, "error", err)
		if _, delErr := s.store.Delete(ctx, rec.ID); delErr != nil {
			s.logger.Error("failed to remove record of unstored original", "id", rec.ID, "error", delErr)
		}
		return failure(source, err), nil, nil
	}

	s.logger.Debug("stored original", "id", rec.ID, "filename", rec.OriginalFilename, "source", source, "fingerprint", fp[:8])
	return Descriptor{
		ID:               rec.ID,
		OriginalFilename: rec.OriginalFilename,
		SourceFilename:   rec.SourceFilename,
	}, rec, nil
}

func duplicate(existing *database.ImageRecord, source string) Descriptor {
	id := existing.ID
	return Descriptor{
		ID:               existing.ID,
		OriginalFilename: existing.OriginalFilename,
		SourceFilename:   source,
		Skipped:          true,
		ExistingID:       &id,
	}
}

func failure(source string, err error) Descriptor {
	return Descriptor{
		SourceFilename: source,
		Error:          err.Error(),
	}
}
