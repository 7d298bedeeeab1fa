package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecode_PNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(40, 30, color.White)))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
}

func TestDecode_JPEGRoundTrip(t *testing.T) {
	data, err := JPEGBytes(solid(64, 48, color.RGBA{200, 100, 50, 255}), 95)
	require.NoError(t, err)

	img, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	again, err := DecodeJPEG(data)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), again.Bounds())
}

func TestDecode_Corrupt(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	assert.Error(t, err)
}

func TestDecode_HEICUnsupported(t *testing.T) {
	data := append([]byte{0, 0, 0, 0x18}, []byte("ftypheic\x00\x00\x00\x00")...)
	_, err := Decode(data)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFitLongEdge(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		maxDim     int
		wantW      int
		wantH      int
		wantFactor float64
	}{
		{"within bounds", 100, 80, 200, 100, 80, 1},
		{"landscape", 400, 200, 100, 100, 50, 4},
		{"portrait", 300, 600, 150, 75, 150, 4},
		{"disabled", 400, 200, 0, 400, 200, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, factor := FitLongEdge(solid(tt.w, tt.h, color.Black), tt.maxDim)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
			assert.InDelta(t, tt.wantFactor, factor, 1e-9)
		})
	}
}
