package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-lapse/internal/alignment"
	"github.com/kozaktomas/face-lapse/internal/blob"
	"github.com/kozaktomas/face-lapse/internal/database"
	"github.com/kozaktomas/face-lapse/internal/database/mock"
	"github.com/kozaktomas/face-lapse/internal/ordering"
	"github.com/kozaktomas/face-lapse/internal/stager"
)

// fakeAligner replays canned events and outcomes.
type fakeAligner struct {
	events     []alignment.Event
	alignedIDs []int64
	outcome    alignment.Outcome
	realignErr error
}

func (f *fakeAligner) Align(ctx context.Context, ids []int64) <-chan alignment.Event {
	f.alignedIDs = ids
	ch := make(chan alignment.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func (f *fakeAligner) Realign(ctx context.Context, id int64) (alignment.Outcome, error) {
	if f.realignErr != nil {
		return alignment.Outcome{}, f.realignErr
	}
	out := f.outcome
	out.ID = id
	return out, nil
}

// imagesFixture wires an ImagesHandler to in-memory collaborators.
type imagesFixture struct {
	handler *ImagesHandler
	store   *mock.MockImageStore
	blobs   *blob.FSStore
	aligner *fakeAligner
}

func newImagesFixture(t *testing.T) *imagesFixture {
	t.Helper()
	store := mock.NewMockImageStore()
	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}
	aligner := &fakeAligner{}
	h := NewImagesHandler(store, blobs, stager.New(store, blobs, nil), ordering.NewService(store, blobs, nil), aligner, nil)
	return &imagesFixture{handler: h, store: store, blobs: blobs, aligner: aligner}
}

// addImage inserts a record at the end of the library and stores its original bytes.
func (f *imagesFixture) addImage(t *testing.T, rec database.ImageRecord, data []byte) *database.ImageRecord {
	t.Helper()
	rec.SortOrder = -1
	stored := f.store.AddImage(rec)
	if data != nil {
		key := blob.OriginalKey(stored.OriginalFilename)
		if err := f.blobs.Put(context.Background(), key, bytes.NewReader(data), int64(len(data)), "image/jpeg"); err != nil {
			t.Fatalf("failed to store blob: %v", err)
		}
	}
	return stored
}

// putAligned stores an aligned raster for a record.
func (f *imagesFixture) putAligned(t *testing.T, id int64, data []byte) {
	t.Helper()
	if err := f.blobs.Put(context.Background(), blob.AlignedKey(id), bytes.NewReader(data), int64(len(data)), "image/jpeg"); err != nil {
		t.Fatalf("failed to store aligned blob: %v", err)
	}
}

// jpegBytes encodes a small solid JPEG; different shades give different fingerprints.
func jpegBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

type uploadFile struct {
	name string
	data []byte
}

// multipartRequest builds an upload request with every file under the "files" field.
func multipartRequest(t *testing.T, files ...uploadFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// jsonRequest creates a request with a raw JSON body
func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
