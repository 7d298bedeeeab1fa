package alignment

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Warp renders src through the similarity onto a black canvas of the given size
// using Catmull-Rom resampling. Canvas pixels that map outside src stay black.
func Warp(src image.Image, sim Similarity, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.CatmullRom.Transform(dst, sim.Aff3(), src, src.Bounds(), draw.Over, nil)
	return dst
}
