package stager

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-lapse/internal/blob"
	"github.com/kozaktomas/face-lapse/internal/database"
	"github.com/kozaktomas/face-lapse/internal/database/mock"
	"github.com/kozaktomas/face-lapse/internal/fingerprint"
)

var (
	jpegA = []byte{0xFF, 0xD8, 0xFF, 0xE0, 'a'}
	jpegB = []byte{0xFF, 0xD8, 0xFF, 0xE0, 'b'}
	pngC  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 'c'}
)

// failingBlobs wraps a store and fails Put for selected keys.
type failingBlobs struct {
	blob.Store
	failKeys map[string]bool
}

func (f *failingBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.failKeys[key] {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, r, size, contentType)
}

func setup(t *testing.T) (*Stager, *mock.MockImageStore, *blob.FSStore) {
	t.Helper()
	store := mock.NewMockImageStore()
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return New(store, blobs, nil), store, blobs
}

func readBlob(t *testing.T, blobs blob.Store, key string) []byte {
	t.Helper()
	rc, err := blobs.Open(t.Context(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestStage_InBatchDuplicate(t *testing.T) {
	s, store, blobs := setup(t)

	got, err := s.Stage(t.Context(), []Upload{
		{Filename: "A.jpg", Data: jpegA},
		{Filename: "A copy.jpg", Data: jpegA},
		{Filename: "B.jpg", Data: jpegB},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, int64(1), got[0].ID)
	assert.False(t, got[0].Skipped)
	assert.Equal(t, "1.jpg", got[0].OriginalFilename)
	assert.Equal(t, "A.jpg", got[0].SourceFilename)

	assert.True(t, got[1].Skipped)
	require.NotNil(t, got[1].ExistingID)
	assert.Equal(t, int64(1), *got[1].ExistingID)
	assert.Equal(t, int64(1), got[1].ID)
	assert.Equal(t, "1.jpg", got[1].OriginalFilename)
	assert.Equal(t, "A copy.jpg", got[1].SourceFilename)

	assert.Equal(t, int64(2), got[2].ID)
	assert.False(t, got[2].Skipped)
	assert.Nil(t, got[2].ExistingID)

	recs, err := store.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, jpegA, readBlob(t, blobs, blob.OriginalKey("1.jpg")))
	assert.Equal(t, jpegB, readBlob(t, blobs, blob.OriginalKey("2.jpg")))
}

func TestStage_DuplicateAcrossBatches(t *testing.T) {
	s, store, _ := setup(t)

	first, err := s.Stage(t.Context(), []Upload{{Filename: "A.jpg", Data: jpegA}})
	require.NoError(t, err)
	second, err := s.Stage(t.Context(), []Upload{{Filename: "again.jpg", Data: jpegA}, {Filename: "c.png", Data: pngC}})
	require.NoError(t, err)

	require.Len(t, second, 2)
	assert.True(t, second[0].Skipped)
	assert.Equal(t, first[0].ID, *second[0].ExistingID)
	assert.False(t, second[1].Skipped)
	assert.Equal(t, "2.png", second[1].OriginalFilename)

	recs, err := store.List(t.Context())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestStage_NewRecordDefaults(t *testing.T) {
	s, store, _ := setup(t)
	got, err := s.Stage(t.Context(), []Upload{{Filename: "photo.jpg", Data: jpegA}})
	require.NoError(t, err)

	rec, err := store.Get(t.Context(), got[0].ID)
	require.NoError(t, err)
	assert.Nil(t, rec.FaceDetected)
	assert.False(t, rec.HasAligned)
	assert.Equal(t, fingerprint.Compute(jpegA), rec.Fingerprint)
	assert.Equal(t, 0, rec.SortOrder)
}

func TestStage_ExtensionFromContent(t *testing.T) {
	s, _, _ := setup(t)
	got, err := s.Stage(t.Context(), []Upload{
		{Filename: "no-extension", Data: pngC},
		{Filename: "weird.exe", Data: []byte("???")},
		{Filename: "UPPER.JPEG", Data: jpegA},
	})
	require.NoError(t, err)
	assert.Equal(t, "1.png", got[0].OriginalFilename)
	assert.Equal(t, "2.jpg", got[1].OriginalFilename)
	assert.Equal(t, "3.jpeg", got[2].OriginalFilename)
}

func TestStage_StorageFailureIsolated(t *testing.T) {
	store := mock.NewMockImageStore()
	fs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	blobs := &failingBlobs{Store: fs, failKeys: map[string]bool{blob.OriginalKey("1.jpg"): true}}
	s := New(store, blobs, nil)

	got, err := s.Stage(t.Context(), []Upload{
		{Filename: "A.jpg", Data: jpegA},
		{Filename: "B.jpg", Data: jpegB},
		{Filename: "A again.jpg", Data: jpegA},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.NotEmpty(t, got[0].Error)
	assert.Zero(t, got[0].ID)
	assert.Equal(t, "A.jpg", got[0].SourceFilename)

	assert.Empty(t, got[1].Error)
	assert.Equal(t, int64(2), got[1].ID)

	// the failed content is retried rather than reported as a duplicate of nothing
	assert.Empty(t, got[2].Error)
	assert.False(t, got[2].Skipped)
	assert.Equal(t, int64(3), got[2].ID)

	recs, err := store.List(t.Context())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 0, recs[0].SortOrder)
	assert.Equal(t, 1, recs[1].SortOrder)
}

func TestStage_StoreUnavailable(t *testing.T) {
	s, store, _ := setup(t)
	store.FindError = errors.New("connection refused")

	_, err := s.Stage(t.Context(), []Upload{{Filename: "A.jpg", Data: jpegA}})
	assert.Error(t, err)
}

func TestStage_CreateRaceBecomesDuplicate(t *testing.T) {
	s, store, _ := setup(t)
	winner := store.AddImage(database.ImageRecord{
		Fingerprint:      fingerprint.Compute(jpegA),
		OriginalFilename: "9.jpg",
		SortOrder:        -1,
	})

	desc, rec, err := s.create(t.Context(), Upload{Filename: "A.jpg", Data: jpegA}, "A.jpg", fingerprint.Compute(jpegA))
	require.NoError(t, err)
	assert.True(t, desc.Skipped)
	assert.Equal(t, winner.ID, *desc.ExistingID)
	assert.Equal(t, winner.ID, rec.ID)
}

func TestStage_CancelledContext(t *testing.T) {
	s, _, _ := setup(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := s.Stage(ctx, []Upload{{Filename: "A.jpg", Data: jpegA}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSourceName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"photo.jpg", "photo.jpg"},
		{"dir/sub/photo.jpg", "photo.jpg"},
		{`C:\Users\me\photo.jpg`, "photo.jpg"},
		{"cafe\u0301.jpg", "caf\u00e9.jpg"},
		{"tab\there.jpg", "tabhere.jpg"},
		{"  spaced.jpg ", "spaced.jpg"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SourceName(tt.input))
		})
	}
}
