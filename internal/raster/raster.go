// Package raster decodes, scales and encodes photos.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-lapse/internal/fingerprint"
)

// ErrUnsupportedFormat is returned for containers without a Go decoder.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Decode decodes an image and applies its EXIF orientation so the result is display-correct.
func Decode(data []byte) (image.Image, error) {
	if fingerprint.DetectMIMEType(data) == "image/heic" {
		return nil, fmt.Errorf("%w: HEIC", ErrUnsupportedFormat)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// FitLongEdge returns img scaled so that its long edge is at most maxDim,
// with the factor that maps scaled coordinates back to the source.
// Images already within bounds are returned unchanged with factor 1.
func FitLongEdge(img image.Image, maxDim int) (image.Image, float64) {
	b := img.Bounds()
	long := max(b.Dx(), b.Dy())
	if maxDim <= 0 || long <= maxDim {
		return img, 1
	}
	scaled := imaging.Fit(img, maxDim, maxDim, imaging.Box)
	return scaled, float64(long) / float64(max(scaled.Bounds().Dx(), scaled.Bounds().Dy()))
}

// EncodeJPEG writes img as baseline JPEG at the given quality.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return nil
}

// JPEGBytes encodes img into a byte slice.
func JPEGBytes(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, img, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeJPEG decodes JPEG bytes without orientation handling, for rasters this package produced.
func DecodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode jpeg: %w", err)
	}
	return img, nil
}
