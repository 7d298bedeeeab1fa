package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/face-lapse/internal/database"
)

const imageColumns = `id, fingerprint, original_filename, source_filename, face_detected, has_aligned,
	included_in_video, left_eye_x, left_eye_y, right_eye_x, right_eye_y, photo_taken_at,
	photo_taken_source, sort_order, created_at, updated_at`

// ImageRepository implements database.ImageWriter.
type ImageRepository struct {
	pool *Pool
	// mu serializes writers so read-modify-write sequences such as reorder
	// cannot interleave within this process.
	mu  sync.Mutex
	now func() time.Time
}

// NewImageRepository creates a repository on top of a migrated pool.
func NewImageRepository(pool *Pool) *ImageRepository {
	return &ImageRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(s rowScanner) (*database.ImageRecord, error) {
	var (
		rec                  database.ImageRecord
		fingerprint          sql.NullString
		faceDetected         sql.NullBool
		lx, ly, rx, ry       sql.NullFloat64
		takenAt              sql.NullTime
		createdAt, updatedAt time.Time
	)
	err := s.Scan(&rec.ID, &fingerprint, &rec.OriginalFilename, &rec.SourceFilename, &faceDetected,
		&rec.HasAligned, &rec.IncludedInVideo, &lx, &ly, &rx, &ry, &takenAt,
		&rec.PhotoTakenSource, &rec.SortOrder, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Fingerprint = fingerprint.String
	if faceDetected.Valid {
		v := faceDetected.Bool
		rec.FaceDetected = &v
	}
	if lx.Valid && ly.Valid {
		rec.LeftEye = &database.Point{X: lx.Float64, Y: ly.Float64}
	}
	if rx.Valid && ry.Valid {
		rec.RightEye = &database.Point{X: rx.Float64, Y: ry.Float64}
	}
	if takenAt.Valid {
		t := takenAt.Time.UTC()
		rec.PhotoTakenAt = &t
	}
	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type querier interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryImages(ctx context.Context, q querier, query string, args ...any) ([]database.ImageRecord, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.ImageRecord
	for rows.Next() {
		rec, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return out, nil
}

// mutate runs fn in a transaction under the writer lock and bumps the library version.
func (r *ImageRepository) mutate(ctx context.Context, fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE library_state SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("bump library version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func getInTx(ctx context.Context, tx *Tx, id int64) (*database.ImageRecord, error) {
	rec, err := scanImage(tx.QueryRow(ctx, `SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get image %d: %w", id, err)
	}
	return rec, nil
}

// writeOrder stores ids[i] at sort_order i, touching only rows whose position changed.
func (r *ImageRepository) writeOrder(ctx context.Context, tx *Tx, current []database.ImageRecord, ids []int64) error {
	if len(ids) != len(current) {
		return fmt.Errorf("%w: got %d ids for %d records", database.ErrOrderMismatch, len(ids), len(current))
	}
	existing := make(map[int64]int, len(current))
	for _, rec := range current {
		existing[rec.ID] = rec.SortOrder
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, ok := existing[id]; !ok || seen[id] {
			return fmt.Errorf("%w: id %d", database.ErrOrderMismatch, id)
		}
		seen[id] = true
	}

	now := r.now()
	for i, id := range ids {
		if existing[id] == i {
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE images SET sort_order = $1, updated_at = $2 WHERE id = $3`, i, now, id); err != nil {
			return fmt.Errorf("reorder image %d: %w", id, err)
		}
	}
	return nil
}

// renormalize closes gaps left by deletions.
func (r *ImageRepository) renormalize(ctx context.Context, tx *Tx) error {
	current, err := queryImages(ctx, tx, `SELECT `+imageColumns+` FROM images ORDER BY sort_order, id`)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	ids := make([]int64, len(current))
	for i, rec := range current {
		ids[i] = rec.ID
	}
	return r.writeOrder(ctx, tx, current, ids)
}

func (r *ImageRepository) Get(ctx context.Context, id int64) (*database.ImageRecord, error) {
	rec, err := scanImage(r.pool.QueryRow(ctx, `SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get image %d: %w", id, err)
	}
	return rec, nil
}

func (r *ImageRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*database.ImageRecord, error) {
	rec, err := scanImage(r.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE fingerprint = $1`, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find image by fingerprint: %w", err)
	}
	return rec, nil
}

func (r *ImageRepository) List(ctx context.Context) ([]database.ImageRecord, error) {
	images, err := queryImages(ctx, r.pool, `SELECT `+imageColumns+` FROM images ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

func (r *ImageRepository) Snapshot(ctx context.Context) (*database.Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: r.pool.dialect != SQLite})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var snap database.Snapshot
	if err := tx.QueryRow(ctx, `SELECT version FROM library_state WHERE id = 1`).Scan(&snap.Version); err != nil {
		return nil, fmt.Errorf("read library version: %w", err)
	}
	snap.Images, err = queryImages(ctx, tx, `SELECT `+imageColumns+` FROM images ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return &snap, nil
}

func (r *ImageRepository) Version(ctx context.Context) (int64, error) {
	var v int64
	if err := r.pool.QueryRow(ctx, `SELECT version FROM library_state WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read library version: %w", err)
	}
	return v, nil
}

func (r *ImageRepository) ListMissingFingerprint(ctx context.Context) ([]database.ImageRecord, error) {
	images, err := queryImages(ctx, r.pool,
		`SELECT `+imageColumns+` FROM images WHERE fingerprint IS NULL OR fingerprint = '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list images without fingerprint: %w", err)
	}
	return images, nil
}

func (r *ImageRepository) Create(ctx context.Context, img database.NewImage) (*database.ImageRecord, error) {
	var created *database.ImageRecord
	err := r.mutate(ctx, func(tx *Tx) error {
		var next sql.NullInt64
		if err := tx.QueryRow(ctx, `SELECT MAX(sort_order) + 1 FROM images`).Scan(&next); err != nil {
			return fmt.Errorf("get next sort order: %w", err)
		}

		now := r.now()
		id, err := tx.InsertID(ctx,
			`INSERT INTO images (fingerprint, original_filename, source_filename, has_aligned,
				included_in_video, photo_taken_source, sort_order, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			nullString(img.Fingerprint), "", img.SourceFilename, false, true, database.TakenSourceNone,
			next.Int64, now, now)
		if isUniqueViolation(err) {
			return database.ErrDuplicateFingerprint
		}
		if err != nil {
			return fmt.Errorf("insert image: %w", err)
		}

		name := fmt.Sprintf("%d%s", id, img.Extension)
		if _, err := tx.Exec(ctx, `UPDATE images SET original_filename = $1 WHERE id = $2`, name, id); err != nil {
			return fmt.Errorf("set stored filename: %w", err)
		}

		created, err = getInTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *ImageRepository) SaveAlignment(ctx context.Context, id int64, u database.AlignmentUpdate) (*database.ImageRecord, error) {
	if u.HasAligned && !u.FaceDetected {
		return nil, database.ErrInvalidAlignment
	}

	var lx, ly, rx, ry sql.NullFloat64
	if u.LeftEye != nil {
		lx = sql.NullFloat64{Float64: u.LeftEye.X, Valid: true}
		ly = sql.NullFloat64{Float64: u.LeftEye.Y, Valid: true}
	}
	if u.RightEye != nil {
		rx = sql.NullFloat64{Float64: u.RightEye.X, Valid: true}
		ry = sql.NullFloat64{Float64: u.RightEye.Y, Valid: true}
	}

	var updated *database.ImageRecord
	err := r.mutate(ctx, func(tx *Tx) error {
		res, err := tx.Exec(ctx,
			`UPDATE images SET face_detected = $1, has_aligned = $2, included_in_video = $3,
				left_eye_x = $4, left_eye_y = $5, right_eye_x = $6, right_eye_y = $7, updated_at = $8
			 WHERE id = $9`,
			u.FaceDetected, u.HasAligned, u.IncludedInVideo, lx, ly, rx, ry, r.now(), id)
		if err != nil {
			return fmt.Errorf("save alignment %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("image %d: %w", id, database.ErrNotFound)
		}
		updated, err = getInTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *ImageRepository) SetPhotoTimes(ctx context.Context, times []database.PhotoTime) error {
	if len(times) == 0 {
		return nil
	}
	return r.mutate(ctx, func(tx *Tx) error {
		now := r.now()
		for _, pt := range times {
			if _, err := tx.Exec(ctx,
				`UPDATE images SET photo_taken_at = $1, photo_taken_source = $2, updated_at = $3 WHERE id = $4`,
				pt.At.UTC(), pt.Source, now, pt.ID); err != nil {
				return fmt.Errorf("set photo time %d: %w", pt.ID, err)
			}
		}
		return nil
	})
}

func (r *ImageRepository) SetFingerprint(ctx context.Context, id int64, fingerprint string) error {
	return r.mutate(ctx, func(tx *Tx) error {
		_, err := tx.Exec(ctx, `UPDATE images SET fingerprint = $1, updated_at = $2 WHERE id = $3`,
			fingerprint, r.now(), id)
		if isUniqueViolation(err) {
			return database.ErrDuplicateFingerprint
		}
		if err != nil {
			return fmt.Errorf("set fingerprint %d: %w", id, err)
		}
		return nil
	})
}

func (r *ImageRepository) UpdateOrder(ctx context.Context, fn database.OrderFunc) error {
	return r.mutate(ctx, func(tx *Tx) error {
		current, err := queryImages(ctx, tx, `SELECT `+imageColumns+` FROM images ORDER BY sort_order, id`)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		ids, err := fn(current)
		if err != nil {
			return err
		}
		return r.writeOrder(ctx, tx, current, ids)
	})
}

func (r *ImageRepository) ToggleIncluded(ctx context.Context, id int64) (*database.ImageRecord, error) {
	var updated *database.ImageRecord
	err := r.mutate(ctx, func(tx *Tx) error {
		rec, err := getInTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !rec.HasAligned {
			return fmt.Errorf("image %d: %w", id, database.ErrNotAligned)
		}
		if _, err := tx.Exec(ctx, `UPDATE images SET included_in_video = $1, updated_at = $2 WHERE id = $3`,
			!rec.IncludedInVideo, r.now(), id); err != nil {
			return fmt.Errorf("toggle image %d: %w", id, err)
		}
		updated, err = getInTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *ImageRepository) Delete(ctx context.Context, id int64) (*database.ImageRecord, error) {
	var deleted *database.ImageRecord
	err := r.mutate(ctx, func(tx *Tx) error {
		rec, err := getInTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM images WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete image %d: %w", id, err)
		}
		deleted = rec
		return r.renormalize(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *ImageRepository) DeleteNoFace(ctx context.Context) ([]database.ImageRecord, error) {
	var deleted []database.ImageRecord
	err := r.mutate(ctx, func(tx *Tx) error {
		var err error
		deleted, err = queryImages(ctx, tx,
			`SELECT `+imageColumns+` FROM images WHERE face_detected = $1 ORDER BY sort_order, id`, false)
		if err != nil {
			return fmt.Errorf("list no-face images: %w", err)
		}
		if len(deleted) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM images WHERE face_detected = $1`, false); err != nil {
			return fmt.Errorf("delete no-face images: %w", err)
		}
		return r.renormalize(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
