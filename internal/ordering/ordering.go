// Package ordering maintains the display order and video inclusion of the library.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kozaktomas/face-lapse/internal/blob"
	"github.com/kozaktomas/face-lapse/internal/database"
)

var (
	// ErrUnknownImage is returned when a request references an id that does not exist.
	ErrUnknownImage = errors.New("unknown image")
	// ErrInvalidOrder is returned for empty or self-contradicting reorder requests.
	ErrInvalidOrder = errors.New("invalid order request")
	// ErrNotAligned is returned when toggling an image that has no aligned raster.
	ErrNotAligned = database.ErrNotAligned
)

// Position is a requested sort_order for one record.
type Position struct {
	ID        int64 `json:"id"`
	SortOrder int   `json:"sort_order"`
}

// Service applies ordering changes through the image store.
type Service struct {
	store  database.ImageWriter
	blobs  blob.Store
	logger *slog.Logger
}

func NewService(store database.ImageWriter, blobs blob.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, blobs: blobs, logger: logger}
}

func notFound(err error, id int64) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrUnknownImage, id)
	}
	return err
}

// Place moves a record to just before the first other record captured later.
// A record without a capture time stays where it is; with nothing later it moves to the end.
func (s *Service) Place(ctx context.Context, id int64) error {
	return s.store.UpdateOrder(ctx, func(current []database.ImageRecord) ([]int64, error) {
		idx := indexOf(current, id)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %d", ErrUnknownImage, id)
		}
		target := current[idx]
		rest := make([]database.ImageRecord, 0, len(current)-1)
		rest = append(rest, current[:idx]...)
		rest = append(rest, current[idx+1:]...)

		if target.PhotoTakenAt == nil {
			return ids(current), nil
		}

		insertAt := len(rest)
		for i, rec := range rest {
			if rec.PhotoTakenAt != nil && rec.PhotoTakenAt.After(*target.PhotoTakenAt) {
				insertAt = i
				break
			}
		}

		out := make([]int64, 0, len(current))
		for _, rec := range rest[:insertAt] {
			out = append(out, rec.ID)
		}
		out = append(out, id)
		for _, rec := range rest[insertAt:] {
			out = append(out, rec.ID)
		}
		return out, nil
	})
}

// Reorder applies requested positions atomically. Requested values act as sort
// keys; unmentioned records keep their current position as key. On equal keys a
// record moved towards the front goes before the unmoved one and a record moved
// towards the back goes after it, so a single move lands exactly at its target
// index. The whole library is then renumbered densely.
func (s *Service) Reorder(ctx context.Context, positions []Position) error {
	if len(positions) == 0 {
		return fmt.Errorf("%w: no positions", ErrInvalidOrder)
	}
	requested := make(map[int64]int, len(positions))
	for _, p := range positions {
		if _, dup := requested[p.ID]; dup {
			return fmt.Errorf("%w: id %d listed twice", ErrInvalidOrder, p.ID)
		}
		requested[p.ID] = p.SortOrder
	}

	return s.store.UpdateOrder(ctx, func(current []database.ImageRecord) ([]int64, error) {
		known := make(map[int64]bool, len(current))
		for _, rec := range current {
			known[rec.ID] = true
		}
		for _, p := range positions {
			if !known[p.ID] {
				return nil, fmt.Errorf("%w: %d", ErrUnknownImage, p.ID)
			}
		}
		return applyPositions(current, requested), nil
	})
}

type sortEntry struct {
	id   int64
	key  int
	bias int // -1 moved up, 0 unmoved, 1 moved down
	pos  int
}

func applyPositions(current []database.ImageRecord, requested map[int64]int) []int64 {
	entries := make([]sortEntry, len(current))
	for i, rec := range current {
		e := sortEntry{id: rec.ID, key: i, pos: i}
		if want, ok := requested[rec.ID]; ok {
			e.key = want
			switch {
			case want < i:
				e.bias = -1
			case want > i:
				e.bias = 1
			}
		}
		entries[i] = e
	}
	sort.SliceStable(entries, func(a, b int) bool {
		ea, eb := entries[a], entries[b]
		if ea.key != eb.key {
			return ea.key < eb.key
		}
		if ea.bias != eb.bias {
			return ea.bias < eb.bias
		}
		return ea.pos < eb.pos
	})
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.id
	}
	return out
}

// Toggle flips inclusion of an aligned record and returns the new value.
func (s *Service) Toggle(ctx context.Context, id int64) (bool, error) {
	rec, err := s.store.ToggleIncluded(ctx, id)
	if err != nil {
		return false, notFound(err, id)
	}
	return rec.IncludedInVideo, nil
}

// Delete removes a record and frees its blobs.
func (s *Service) Delete(ctx context.Context, id int64) error {
	rec, err := s.store.Delete(ctx, id)
	if err != nil {
		return notFound(err, id)
	}
	s.freeBlobs(ctx, rec)
	s.logger.Info("deleted image", "id", id, "original_filename", rec.OriginalFilename)
	return nil
}

// DismissNoFace deletes every record whose last alignment found no face.
func (s *Service) DismissNoFace(ctx context.Context) ([]int64, error) {
	deleted, err := s.store.DeleteNoFace(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to delete no-face images: %w", err)
	}
	out := make([]int64, 0, len(deleted))
	for i := range deleted {
		s.freeBlobs(ctx, &deleted[i])
		out = append(out, deleted[i].ID)
	}
	s.logger.Info("dismissed no-face images", "count", len(out))
	return out, nil
}

// freeBlobs removes stored bytes of a deleted record. The row is already gone,
// so failures are logged rather than returned.
func (s *Service) freeBlobs(ctx context.Context, rec *database.ImageRecord) {
	for _, key := range []string{blob.OriginalKey(rec.OriginalFilename), blob.AlignedKey(rec.ID)} {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete blob", "id", rec.ID, "key", key, "error", err)
		}
	}
}

// Normalize sorts the library by the legacy key: sort_order, numeric filename,
// capture time (missing last), then upload time.
func (s *Service) Normalize(ctx context.Context) error {
	return s.store.UpdateOrder(ctx, func(current []database.ImageRecord) ([]int64, error) {
		sorted := make([]database.ImageRecord, len(current))
		copy(sorted, current)
		sort.SliceStable(sorted, func(i, j int) bool { return legacyLess(&sorted[i], &sorted[j]) })
		return ids(sorted), nil
	})
}

func legacyLess(a, b *database.ImageRecord) bool {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder < b.SortOrder
	}
	ka, kb := NumericFilenameKey(a.OriginalFilename), NumericFilenameKey(b.OriginalFilename)
	if ka != kb {
		return ka.Less(kb)
	}
	switch {
	case a.PhotoTakenAt != nil && b.PhotoTakenAt == nil:
		return true
	case a.PhotoTakenAt == nil && b.PhotoTakenAt != nil:
		return false
	case a.PhotoTakenAt != nil && !a.PhotoTakenAt.Equal(*b.PhotoTakenAt):
		return a.PhotoTakenAt.Before(*b.PhotoTakenAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func indexOf(records []database.ImageRecord, id int64) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

func ids(records []database.ImageRecord) []int64 {
	out := make([]int64, len(records))
	for i := range records {
		out[i] = records[i].ID
	}
	return out
}
