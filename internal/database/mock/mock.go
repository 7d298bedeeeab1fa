// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-lapse/internal/database"
)

// MockImageStore is an in-memory implementation of database.ImageWriter and database.VideoStore
type MockImageStore struct {
	mu      sync.RWMutex
	images  map[int64]*database.ImageRecord
	nextID  int64
	version int64
	video   *database.VideoArtifact
	Now     func() time.Time

	// Error injection
	GetError         error
	FindError        error
	ListError        error
	CreateError      error
	SaveAlignmentErr error
	SetPhotoTimesErr error
	UpdateOrderError error
	ToggleError      error
	DeleteError      error
	SaveVideoError   error
	LatestVideoError error
}

// NewMockImageStore creates an empty store
func NewMockImageStore() *MockImageStore {
	return &MockImageStore{
		images: make(map[int64]*database.ImageRecord),
		nextID: 1,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// AddImage inserts a record as-is, appending it to the ordering when SortOrder is negative
func (m *MockImageStore) AddImage(rec database.ImageRecord) *database.ImageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == 0 {
		rec.ID = m.nextID
	}
	if rec.ID >= m.nextID {
		m.nextID = rec.ID + 1
	}
	if rec.SortOrder < 0 {
		rec.SortOrder = len(m.images)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.Now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	m.images[rec.ID] = &rec
	m.version++
	cp := rec
	return &cp
}

// ordered returns records sorted by sort_order then id; callers hold the lock
func (m *MockImageStore) ordered() []*database.ImageRecord {
	out := make([]*database.ImageRecord, 0, len(m.images))
	for _, rec := range m.images {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MockImageStore) copies() []database.ImageRecord {
	ordered := m.ordered()
	out := make([]database.ImageRecord, len(ordered))
	for i, rec := range ordered {
		out[i] = *rec
	}
	return out
}

func (m *MockImageStore) renormalize() {
	for i, rec := range m.ordered() {
		rec.SortOrder = i
	}
}

func (m *MockImageStore) Get(ctx context.Context, id int64) (*database.ImageRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.images[id]
	if !ok {
		return nil, fmt.Errorf("image %d: %w", id, database.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (m *MockImageStore) FindByFingerprint(ctx context.Context, fingerprint string) (*database.ImageRecord, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.images {
		if rec.Fingerprint != "" && rec.Fingerprint == fingerprint {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockImageStore) List(ctx context.Context) ([]database.ImageRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copies(), nil
}

func (m *MockImageStore) Snapshot(ctx context.Context) (*database.Snapshot, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &database.Snapshot{Version: m.version, Images: m.copies()}, nil
}

func (m *MockImageStore) Version(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version, nil
}

func (m *MockImageStore) ListMissingFingerprint(ctx context.Context) ([]database.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.ImageRecord
	for _, rec := range m.copies() {
		if rec.Fingerprint == "" {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MockImageStore) Create(ctx context.Context, img database.NewImage) (*database.ImageRecord, error) {
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if img.Fingerprint != "" {
		for _, rec := range m.images {
			if rec.Fingerprint == img.Fingerprint {
				return nil, database.ErrDuplicateFingerprint
			}
		}
	}
	now := m.Now()
	rec := &database.ImageRecord{
		ID:               m.nextID,
		Fingerprint:      img.Fingerprint,
		OriginalFilename: fmt.Sprintf("%d%s", m.nextID, img.Extension),
		SourceFilename:   img.SourceFilename,
		IncludedInVideo:  true,
		SortOrder:        len(m.images),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.images[rec.ID] = rec
	m.nextID++
	m.version++
	cp := *rec
	return &cp, nil
}

func (m *MockImageStore) SaveAlignment(ctx context.Context, id int64, u database.AlignmentUpdate) (*database.ImageRecord, error) {
	if m.SaveAlignmentErr != nil {
		return nil, m.SaveAlignmentErr
	}
	if u.HasAligned && !u.FaceDetected {
		return nil, database.ErrInvalidAlignment
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.images[id]
	if !ok {
		return nil, fmt.Errorf("image %d: %w", id, database.ErrNotFound)
	}
	face := u.FaceDetected
	rec.FaceDetected = &face
	rec.HasAligned = u.HasAligned
	rec.IncludedInVideo = u.IncludedInVideo
	rec.LeftEye = u.LeftEye
	rec.RightEye = u.RightEye
	rec.UpdatedAt = m.Now()
	m.version++
	cp := *rec
	return &cp, nil
}

func (m *MockImageStore) SetPhotoTimes(ctx context.Context, times []database.PhotoTime) error {
	if m.SetPhotoTimesErr != nil {
		return m.SetPhotoTimesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pt := range times {
		rec, ok := m.images[pt.ID]
		if !ok {
			continue
		}
		at := pt.At.UTC()
		rec.PhotoTakenAt = &at
		rec.PhotoTakenSource = pt.Source
		rec.UpdatedAt = m.Now()
	}
	m.version++
	return nil
}

func (m *MockImageStore) SetFingerprint(ctx context.Context, id int64, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for otherID, rec := range m.images {
		if otherID != id && rec.Fingerprint == fingerprint {
			return database.ErrDuplicateFingerprint
		}
	}
	rec, ok := m.images[id]
	if !ok {
		return fmt.Errorf("image %d: %w", id, database.ErrNotFound)
	}
	rec.Fingerprint = fingerprint
	m.version++
	return nil
}

func (m *MockImageStore) UpdateOrder(ctx context.Context, fn database.OrderFunc) error {
	if m.UpdateOrderError != nil {
		return m.UpdateOrderError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, err := fn(m.copies())
	if err != nil {
		return err
	}
	if len(ids) != len(m.images) {
		return fmt.Errorf("%w: got %d ids for %d records", database.ErrOrderMismatch, len(ids), len(m.images))
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.images[id]; !ok || seen[id] {
			return fmt.Errorf("%w: id %d", database.ErrOrderMismatch, id)
		}
		seen[id] = true
	}
	for i, id := range ids {
		m.images[id].SortOrder = i
	}
	m.version++
	return nil
}

func (m *MockImageStore) ToggleIncluded(ctx context.Context, id int64) (*database.ImageRecord, error) {
	if m.ToggleError != nil {
		return nil, m.ToggleError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.images[id]
	if !ok {
		return nil, fmt.Errorf("image %d: %w", id, database.ErrNotFound)
	}
	if !rec.HasAligned {
		return nil, fmt.Errorf("image %d: %w", id, database.ErrNotAligned)
	}
	rec.IncludedInVideo = !rec.IncludedInVideo
	m.version++
	cp := *rec
	return &cp, nil
}

func (m *MockImageStore) Delete(ctx context.Context, id int64) (*database.ImageRecord, error) {
	if m.DeleteError != nil {
		return nil, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.images[id]
	if !ok {
		return nil, fmt.Errorf("image %d: %w", id, database.ErrNotFound)
	}
	delete(m.images, id)
	m.renormalize()
	m.version++
	cp := *rec
	return &cp, nil
}

func (m *MockImageStore) DeleteNoFace(ctx context.Context) ([]database.ImageRecord, error) {
	if m.DeleteError != nil {
		return nil, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []database.ImageRecord
	for _, rec := range m.ordered() {
		if rec.FaceMissing() {
			deleted = append(deleted, *rec)
			delete(m.images, rec.ID)
		}
	}
	m.renormalize()
	m.version++
	return deleted, nil
}

func (m *MockImageStore) SaveVideo(ctx context.Context, v *database.VideoArtifact) error {
	if m.SaveVideoError != nil {
		return m.SaveVideoError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.video = &cp
	return nil
}

func (m *MockImageStore) LatestVideo(ctx context.Context) (*database.VideoArtifact, error) {
	if m.LatestVideoError != nil {
		return nil, m.LatestVideoError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.video == nil {
		return nil, nil
	}
	cp := *m.video
	return &cp, nil
}
