// Package facedetect talks to the face landmark detection service.
package facedetect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultLandmarkURL = "http://localhost:8000"

// ErrMalformedResponse is returned when the service answers 200 with an unusable body.
var ErrMalformedResponse = errors.New("malformed landmark response")

// Point is a pixel coordinate in the submitted image.
type Point struct {
	X float64
	Y float64
}

// Landmarks are the eyes of the best face, named by image side.
type Landmarks struct {
	LeftEye  Point // smaller x in a frontal selfie
	RightEye Point
	Score    float64
}

// Detector finds eye landmarks in a JPEG-encoded image.
// A nil result with nil error means no face was found.
type Detector interface {
	DetectLandmarks(ctx context.Context, jpegData []byte) (*Landmarks, error)
}

// Client calls the landmark HTTP service.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new landmark client
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultLandmarkURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	BBox     []float64   `json:"bbox"` // [x1, y1, x2, y2]
	DetScore float64     `json:"det_score"`
	Kps      [][]float64 `json:"kps"` // five points: eyes, nose, mouth corners
}

// FaceResponse represents the response from the landmark endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
}

// postMultipartImage posts the image as the "file" form part and returns the body of a 200 response.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// DetectFaces returns every face the service found.
func (c *Client) DetectFaces(ctx context.Context, jpegData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/detect/landmarks", jpegData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &faceResp, nil
}

// DetectLandmarks returns the eyes of the highest scoring face, or nil when there is none.
func (c *Client) DetectLandmarks(ctx context.Context, jpegData []byte) (*Landmarks, error) {
	resp, err := c.DetectFaces(ctx, jpegData)
	if err != nil {
		return nil, err
	}
	return BestLandmarks(resp)
}

// BestLandmarks picks the highest det_score face and extracts its eye keypoints.
func BestLandmarks(resp *FaceResponse) (*Landmarks, error) {
	if resp == nil || len(resp.Faces) == 0 {
		return nil, nil
	}

	best := resp.Faces[0]
	for _, face := range resp.Faces[1:] {
		if face.DetScore > best.DetScore {
			best = face
		}
	}

	if len(best.Kps) < 2 || len(best.Kps[0]) < 2 || len(best.Kps[1]) < 2 {
		return nil, fmt.Errorf("%w: face has %d keypoints", ErrMalformedResponse, len(best.Kps))
	}

	return &Landmarks{
		LeftEye:  Point{X: best.Kps[0][0], Y: best.Kps[0][1]},
		RightEye: Point{X: best.Kps[1][0], Y: best.Kps[1][1]},
		Score:    best.DetScore,
	}, nil
}
