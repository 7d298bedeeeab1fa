package chronology

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-lapse/internal/database"
)

// Resolver fills missing capture times against the current library order.
type Resolver struct {
	store  database.ImageWriter
	logger *slog.Logger
	now    func() time.Time
}

func NewResolver(store database.ImageWriter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// FillMissing interpolates over the whole library in sort_order and persists
// values only for the given ids that have none. A nil ids slice fills every gap.
func (r *Resolver) FillMissing(ctx context.Context, ids []int64) ([]database.PhotoTime, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	items := make([]Item, len(records))
	for i, rec := range records {
		items[i] = Item{Known: rec.PhotoTakenAt, CreatedAt: rec.CreatedAt}
	}
	resolved := Interpolate(items, r.now())

	var updates []database.PhotoTime
	for i, rec := range records {
		if rec.PhotoTakenAt != nil {
			continue
		}
		if ids != nil && !want[rec.ID] {
			continue
		}
		updates = append(updates, database.PhotoTime{
			ID:     rec.ID,
			At:     resolved[i],
			Source: database.TakenSourceInterpolated,
		})
	}

	if len(updates) == 0 {
		return nil, nil
	}
	if err := r.store.SetPhotoTimes(ctx, updates); err != nil {
		return nil, fmt.Errorf("failed to store interpolated dates: %w", err)
	}
	r.logger.Debug("interpolated capture times", "count", len(updates))
	return updates, nil
}
