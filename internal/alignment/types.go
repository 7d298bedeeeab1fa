// Package alignment detects eye landmarks and warps photos into the canonical frame.
package alignment

import "time"

// Status classifies one alignment attempt.
type Status string

const (
	StatusAligned Status = "aligned"
	StatusNoFace  Status = "no_face"
	StatusError   Status = "error" // processing fault, record flags unchanged
)

// Outcome is the result of aligning one image.
type Outcome struct {
	ID               int64      `json:"id"`
	OriginalFilename string     `json:"original_filename"`
	Status           Status     `json:"status"`
	FaceDetected     *bool      `json:"face_detected"`
	HasAligned       bool       `json:"has_aligned"`
	PhotoTakenAt     *time.Time `json:"photo_taken_at,omitempty"`
	Detail           string     `json:"detail,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// Progress is emitted right after each image completes.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Outcome Outcome `json:"outcome"`
}

// Summary is the terminal event of a run.
type Summary struct {
	AlignedCount int       `json:"aligned_count"`
	NoFaceCount  int       `json:"no_face_count"`
	FailedCount  int       `json:"failed_count"`
	Outcomes     []Outcome `json:"outcomes"`
}

// Event carries exactly one of Progress or Summary.
type Event struct {
	Progress *Progress
	Summary  *Summary
}

func (s *Summary) add(o Outcome) {
	switch o.Status {
	case StatusAligned:
		s.AlignedCount++
	case StatusNoFace:
		s.NoFaceCount++
	default:
		s.FailedCount++
	}
	s.Outcomes = append(s.Outcomes, o)
}
