package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-lapse/internal/blob"
	"github.com/kozaktomas/face-lapse/internal/config"
	"github.com/kozaktomas/face-lapse/internal/database"
	"github.com/kozaktomas/face-lapse/internal/database/mock"
)

func testVideoConfig() config.VideoConfig {
	return config.VideoConfig{
		FrameDuration:        0.1,
		MinFrameDuration:     0.01,
		MaxFrameDuration:     5,
		EncodeTimeoutSeconds: 600,
		CRF:                  23,
		Preset:               "medium",
		Caption:              config.CaptionConfig{FontSize: 22, Margin: 20, Padding: 10, BoxAlpha: 153},
	}
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
	return &t
}

// fakeEncoder records requests and copies the frame files it was handed.
type fakeEncoder struct {
	mu       sync.Mutex
	requests []EncodeRequest
	frames   [][]byte
	output   []byte
	err      error
}

func (f *fakeEncoder) Encode(ctx context.Context, req EncodeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return f.err
	}
	f.frames = nil
	for _, p := range req.FramePaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		f.frames = append(f.frames, data)
	}
	out := f.output
	if out == nil {
		out = []byte("mp4 bytes")
	}
	return os.WriteFile(req.Output, out, 0o644)
}

func grayJPEG(t *testing.T, level uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 400))
	for y := range 400 {
		for x := range 300 {
			img.Set(x, y, color.RGBA{R: level, G: level, B: level, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

type fixture struct {
	composer *Composer
	store    *mock.MockImageStore
	blobs    *blob.FSStore
	encoder  *fakeEncoder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := mock.NewMockImageStore()
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	enc := &fakeEncoder{}
	c := NewComposer(store, blobs, enc, testVideoConfig(), 95, nil)
	c.now = func() time.Time { return time.Date(2025, 7, 4, 9, 0, 0, 0, time.UTC) }
	return &fixture{composer: c, store: store, blobs: blobs, encoder: enc}
}

func (f *fixture) addAligned(t *testing.T, included bool, taken *time.Time, data []byte) int64 {
	t.Helper()
	found := true
	rec := f.store.AddImage(database.ImageRecord{
		FaceDetected:    &found,
		HasAligned:      true,
		IncludedInVideo: included,
		PhotoTakenAt:    taken,
		SortOrder:       -1,
	})
	if data != nil {
		require.NoError(t, f.blobs.Put(t.Context(), blob.AlignedKey(rec.ID), bytes.NewReader(data), int64(len(data)), "image/jpeg"))
	}
	return rec.ID
}

func TestCompose_EligibleFramesInOrder(t *testing.T) {
	f := newFixture(t)
	first := grayJPEG(t, 10)
	second := grayJPEG(t, 200)
	f.addAligned(t, true, nil, first)
	f.addAligned(t, false, nil, grayJPEG(t, 100))
	f.store.AddImage(database.ImageRecord{SortOrder: -1, IncludedInVideo: true})
	f.addAligned(t, true, nil, second)

	artifact, err := f.composer.Compose(t.Context(), Options{FrameDuration: 0.5})
	require.NoError(t, err)

	assert.Equal(t, 2, artifact.FrameCount)
	assert.InDelta(t, 0.5, artifact.FrameDuration, 1e-9)
	assert.InDelta(t, 1.0, artifact.TotalDuration, 1e-9)
	assert.Equal(t, "latest.mp4", artifact.Filename)

	require.Len(t, f.encoder.requests, 1)
	assert.Equal(t, [][]byte{first, second}, f.encoder.frames, "frames are passed through unchanged without dates")

	saved, err := f.store.LatestVideo(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, saved.FrameCount)

	got, rc, err := f.composer.Open(t.Context())
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, artifact.FrameCount, got.FrameCount)
}

func TestCompose_NoEligibleImages(t *testing.T) {
	f := newFixture(t)
	f.addAligned(t, false, nil, grayJPEG(t, 10))

	_, err := f.composer.Compose(t.Context(), Options{FrameDuration: 0.1})
	assert.ErrorIs(t, err, ErrNoEligibleImages)
	assert.Empty(t, f.encoder.requests)
}

func TestCompose_MissingRasterSkipped(t *testing.T) {
	f := newFixture(t)
	f.addAligned(t, true, nil, nil)
	f.addAligned(t, true, nil, grayJPEG(t, 50))

	artifact, err := f.composer.Compose(t.Context(), Options{FrameDuration: 0.1})
	require.NoError(t, err)
	assert.Equal(t, 1, artifact.FrameCount)
}

func TestCompose_InvalidFrameDuration(t *testing.T) {
	f := newFixture(t)
	f.addAligned(t, true, nil, grayJPEG(t, 10))

	for _, d := range []float64{0, 0.001, 5.01, -1} {
		_, err := f.composer.Compose(t.Context(), Options{FrameDuration: d})
		assert.ErrorIs(t, err, ErrInvalidFrameDuration, "duration %v", d)
	}
	for _, d := range []float64{0.01, 5} {
		assert.NoError(t, f.composer.ValidateFrameDuration(d))
	}
}

func TestCompose_FailedEncodeKeepsPreviousArtifact(t *testing.T) {
	f := newFixture(t)
	f.addAligned(t, true, nil, grayJPEG(t, 10))

	_, err := f.composer.Compose(t.Context(), Options{FrameDuration: 0.2})
	require.NoError(t, err)

	f.encoder.err = errors.New("exit status 1")
	_, err = f.composer.Compose(t.Context(), Options{FrameDuration: 1})
	require.Error(t, err)

	latest, err := f.composer.Latest(t.Context())
	require.NoError(t, err)
	assert.InDelta(t, 0.2, latest.FrameDuration, 1e-9)
}

func readLatest(t *testing.T, c *Composer) []byte {
	t.Helper()
	_, rc, err := c.Open(t.Context())
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestCompose_ReplacesPreviousBlob(t *testing.T) {
	f := newFixture(t)
	f.addAligned(t, true, nil, grayJPEG(t, 10))

	first, err := f.composer.Compose(t.Context(), Options{FrameDuration: 0.2})
	require.NoError(t, err)

	f.encoder.output = []byte("second render")
	second, err := f.composer.Compose(t.Context(), Options{FrameDuration: 0.4})
	require.NoError(t, err)
	assert.NotEqual(t, first.BlobKey, second.BlobKey)

	assert.Equal(t, []byte("second render"), readLatest(t, f.composer))
	keys, err := f.blobs.List(t.Context(), "videos")
	require.NoError(t, err)
	assert.Equal(t, []string{second.BlobKey}, keys)
}

func TestCompose_FailedMetadataSaveKeepsPreviousBytes(t *testing.T) {
	f := newFixture(t)
	f.addAligned(t, true, nil, grayJPEG(t, 10))

	first, err := f.composer.Compose(t.Context(), Options{FrameDuration: 0.2})
	require.NoError(t, err)

	f.encoder.output = []byte("orphaned render")
	f.store.SaveVideoError = errors.New("database is locked")
	_, err = f.composer.Compose(t.Context(), Options{FrameDuration: 1})
	require.Error(t, err)
	f.store.SaveVideoError = nil

	latest, err := f.composer.Latest(t.Context())
	require.NoError(t, err)
	assert.InDelta(t, 0.2, latest.FrameDuration, 1e-9)
	assert.Equal(t, []byte("mp4 bytes"), readLatest(t, f.composer))

	keys, err := f.blobs.List(t.Context(), "videos")
	require.NoError(t, err)
	assert.Equal(t, []string{first.BlobKey}, keys, "the unsaved render is removed")
}

func TestOpen_ArtifactWithoutBlobKey(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveVideo(t.Context(), &database.VideoArtifact{FrameCount: 1, FrameDuration: 0.1}))

	_, _, err := f.composer.Open(t.Context())
	assert.ErrorIs(t, err, ErrNoVideo)
}

func TestCompose_DatesDrawCaption(t *testing.T) {
	f := newFixture(t)
	f.addAligned(t, true, date(2024, 5, 1), grayJPEG(t, 230))

	birthday := date(2020, 6, 1)
	artifact, err := f.composer.Compose(t.Context(), Options{FrameDuration: 0.1, ShowDates: true, Birthday: birthday})
	require.NoError(t, err)
	assert.True(t, artifact.ShowDates)
	assert.Equal(t, "2020-06-01", artifact.Birthday)

	require.Len(t, f.encoder.frames, 1)
	img, err := jpeg.Decode(bytes.NewReader(f.encoder.frames[0]))
	require.NoError(t, err)
	// inside the caption box, below the text
	r, _, _, _ := img.At(295-20, 395-20).RGBA()
	assert.Less(t, r>>8, uint32(150), "caption box darkens the corner")
	r, _, _, _ = img.At(5, 5).RGBA()
	assert.Greater(t, r>>8, uint32(200), "rest of the frame untouched")
}

func TestLatest_NoVideo(t *testing.T) {
	f := newFixture(t)
	_, err := f.composer.Latest(t.Context())
	assert.ErrorIs(t, err, ErrNoVideo)
	_, _, err = f.composer.Open(t.Context())
	assert.ErrorIs(t, err, ErrNoVideo)
}

func TestDownloadName(t *testing.T) {
	a := &database.VideoArtifact{CreatedAt: time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)}
	assert.Equal(t, "face-lapse-03-09-2025.mp4", DownloadName(a))
}

func TestAge(t *testing.T) {
	tests := []struct {
		name     string
		taken    *time.Time
		birthday *time.Time
		want     int
		ok       bool
	}{
		{"day before birthday", date(2024, 5, 31), date(2020, 6, 1), 3, true},
		{"on birthday", date(2024, 6, 1), date(2020, 6, 1), 4, true},
		{"same day of birth", date(2020, 6, 1), date(2020, 6, 1), 0, true},
		{"before birth", date(2019, 1, 1), date(2020, 6, 1), 0, false},
		{"unknown date", nil, date(2020, 6, 1), 0, false},
		{"no birthday", date(2024, 1, 1), nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Age(tt.taken, tt.birthday)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCaptionLines(t *testing.T) {
	assert.Equal(t, []string{"No date"}, CaptionLines(nil, date(2020, 1, 1)))
	assert.Equal(t, []string{"January 05, 2024"}, CaptionLines(date(2024, 1, 5), nil))
	assert.Equal(t, []string{"January 05, 2024", "Age 3"}, CaptionLines(date(2024, 1, 5), date(2020, 6, 1)))
	assert.Equal(t, []string{"January 05, 2019"}, CaptionLines(date(2019, 1, 5), date(2020, 6, 1)))
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "frames.txt")
	require.NoError(t, writeConcatList(list, []string{"/tmp/a.jpg", "/tmp/it's.jpg"}, 0.25))

	data, err := os.ReadFile(list)
	require.NoError(t, err)
	want := "file '/tmp/a.jpg'\nduration 0.25\n" +
		"file '/tmp/it'\\''s.jpg'\nduration 0.25\n" +
		"file '/tmp/it'\\''s.jpg'\n"
	assert.Equal(t, want, string(data))
}

func TestBuildArgs(t *testing.T) {
	enc := NewFFmpegEncoder("", testVideoConfig(), nil)
	assert.Equal(t, "ffmpeg", enc.path)
	args := enc.buildArgs("list.txt", "out.mp4")
	assert.Equal(t, strings.Join([]string{
		"-y", "-f", "concat", "-safe", "0", "-i", "list.txt",
		"-vf", "format=yuv420p", "-c:v", "libx264", "-preset", "medium",
		"-crf", "23", "-movflags", "+faststart", "out.mp4",
	}, " "), strings.Join(args, " "))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestFFmpegEncoder_RunsBinary(t *testing.T) {
	script := writeScript(t, "for last; do :; done\necho video > \"$last\"\n")
	enc := NewFFmpegEncoder(script, testVideoConfig(), nil)

	dir := t.TempDir()
	frame := filepath.Join(dir, "frame_000000.jpg")
	require.NoError(t, os.WriteFile(frame, grayJPEG(t, 1), 0o644))
	out := filepath.Join(dir, "out.mp4")

	require.NoError(t, enc.Encode(t.Context(), EncodeRequest{FramePaths: []string{frame}, FrameDuration: 0.1, Output: out}))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "video\n", string(data))
	_, err = os.Stat(filepath.Join(dir, "frames.txt"))
	assert.True(t, os.IsNotExist(err), "concat list is removed")
}

func TestFFmpegEncoder_FailureIncludesStderr(t *testing.T) {
	script := writeScript(t, "echo 'Unknown encoder libx264' >&2\nexit 1\n")
	enc := NewFFmpegEncoder(script, testVideoConfig(), nil)
	dir := t.TempDir()

	err := enc.Encode(t.Context(), EncodeRequest{FramePaths: []string{"a.jpg"}, FrameDuration: 0.1, Output: filepath.Join(dir, "out.mp4")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown encoder libx264")
}

func TestFFmpegEncoder_MissingBinary(t *testing.T) {
	enc := NewFFmpegEncoder(filepath.Join(t.TempDir(), "no-ffmpeg"), testVideoConfig(), nil)
	err := enc.Encode(t.Context(), EncodeRequest{FramePaths: []string{"a.jpg"}, FrameDuration: 0.1, Output: filepath.Join(t.TempDir(), "out.mp4")})
	assert.Error(t, err)
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 5}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defgh"))
	assert.Equal(t, "defgh", tb.String())
}
