package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-lapse/internal/database"
)

// videoRowID is the primary key of the singleton artifact row.
const videoRowID = 1

// VideoRepository implements database.VideoStore.
type VideoRepository struct {
	pool *Pool
}

func NewVideoRepository(pool *Pool) *VideoRepository {
	return &VideoRepository{pool: pool}
}

// SaveVideo replaces the singleton row inside one transaction.
func (r *VideoRepository) SaveVideo(ctx context.Context, v *database.VideoArtifact) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(ctx, `DELETE FROM video_artifacts WHERE id = $1`, videoRowID); err != nil {
		return fmt.Errorf("clear video artifact: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO video_artifacts (id, frame_count, frame_duration, total_duration, blob_key, filename,
			show_dates, birthday, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		videoRowID, v.FrameCount, v.FrameDuration, v.TotalDuration, v.BlobKey, v.Filename,
		v.ShowDates, v.Birthday, v.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert video artifact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit video artifact: %w", err)
	}
	return nil
}

func (r *VideoRepository) LatestVideo(ctx context.Context) (*database.VideoArtifact, error) {
	var v database.VideoArtifact
	err := r.pool.QueryRow(ctx,
		`SELECT frame_count, frame_duration, total_duration, blob_key, filename, show_dates, birthday, created_at
		 FROM video_artifacts WHERE id = $1`, videoRowID).
		Scan(&v.FrameCount, &v.FrameDuration, &v.TotalDuration, &v.BlobKey, &v.Filename,
			&v.ShowDates, &v.Birthday, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get video artifact: %w", err)
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}
