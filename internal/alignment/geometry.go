package alignment

import (
	"errors"
	"math"

	"golang.org/x/image/math/f64"

	"github.com/kozaktomas/face-lapse/internal/database"
)

// ErrEyesTooClose is returned when the detected eyes are too close to define a transform.
var ErrEyesTooClose = errors.New("eyes too close together")

// Similarity is a rotation, uniform scale and translation in the plane,
// written as the complex map z -> a*z + t with a = A + iB and t = TX + iTY.
type Similarity struct {
	A, B   float64
	TX, TY float64
}

// EyeTransform returns the similarity that maps the detected eyes exactly onto the targets.
func EyeTransform(left, right, targetLeft, targetRight database.Point, minEyeDistance float64) (Similarity, error) {
	dx, dy := right.X-left.X, right.Y-left.Y
	den := dx*dx + dy*dy
	if math.Sqrt(den) < minEyeDistance || den == 0 {
		return Similarity{}, ErrEyesTooClose
	}
	tx, ty := targetRight.X-targetLeft.X, targetRight.Y-targetLeft.Y

	// a = (TR - TL) / (R - L)
	a := (tx*dx + ty*dy) / den
	b := (ty*dx - tx*dy) / den

	return Similarity{
		A:  a,
		B:  b,
		TX: targetLeft.X - (a*left.X - b*left.Y),
		TY: targetLeft.Y - (b*left.X + a*left.Y),
	}, nil
}

// Apply maps a source point to the destination.
func (s Similarity) Apply(p database.Point) database.Point {
	return database.Point{
		X: s.A*p.X - s.B*p.Y + s.TX,
		Y: s.B*p.X + s.A*p.Y + s.TY,
	}
}

// Scale is the uniform scale factor |a|.
func (s Similarity) Scale() float64 {
	return math.Hypot(s.A, s.B)
}

// Rotation is the rotation angle in degrees.
func (s Similarity) Rotation() float64 {
	return math.Atan2(s.B, s.A) * 180 / math.Pi
}

// Aff3 is the source-to-destination matrix in the layout x/image/draw expects.
func (s Similarity) Aff3() f64.Aff3 {
	return f64.Aff3{
		s.A, -s.B, s.TX,
		s.B, s.A, s.TY,
	}
}

// scalePoint maps a point detected on a downscaled copy back to the original.
func scalePoint(p database.Point, factor float64) database.Point {
	return database.Point{X: p.X * factor, Y: p.Y * factor}
}
