package video

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"github.com/kozaktomas/face-lapse/internal/config"
)

const (
	dateLayout     = "January 02, 2006"
	missingDate    = "No date"
	birthdayLayout = "2006-01-02"
)

var (
	fontOnce sync.Once
	fontErr  error
	regular  *truetype.Font
)

func loadFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		regular, fontErr = truetype.Parse(goregular.TTF)
	})
	return regular, fontErr
}

// Age returns the completed years between birthday and taken, false when the
// capture time is unknown or precedes the birthday.
func Age(taken, birthday *time.Time) (int, bool) {
	if taken == nil || birthday == nil {
		return 0, false
	}
	age := taken.Year() - birthday.Year()
	if taken.Month() < birthday.Month() || (taken.Month() == birthday.Month() && taken.Day() < birthday.Day()) {
		age--
	}
	if age < 0 {
		return 0, false
	}
	return age, true
}

// CaptionLines returns the overlay text of one frame.
func CaptionLines(taken, birthday *time.Time) []string {
	if taken == nil {
		return []string{missingDate}
	}
	lines := []string{taken.Format(dateLayout)}
	if age, ok := Age(taken, birthday); ok {
		lines = append(lines, fmt.Sprintf("Age %d", age))
	}
	return lines
}

// DrawCaption renders right-aligned white lines on a translucent black box in
// the bottom-right corner of dst.
func DrawCaption(dst draw.Image, lines []string, cfg config.CaptionConfig) error {
	if len(lines) == 0 {
		return nil
	}
	f, err := loadFont()
	if err != nil {
		return fmt.Errorf("failed to load caption font: %w", err)
	}
	face := truetype.NewFace(f, &truetype.Options{Size: cfg.FontSize, DPI: 72, Hinting: font.HintingFull})
	defer face.Close()

	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	ascent := metrics.Ascent.Ceil()

	widths := make([]int, len(lines))
	textW := 0
	for i, line := range lines {
		widths[i] = font.MeasureString(face, line).Ceil()
		textW = max(textW, widths[i])
	}
	textH := lineHeight * len(lines)

	b := dst.Bounds()
	x := b.Max.X - cfg.Margin - cfg.Padding - textW
	y := b.Max.Y - cfg.Margin - cfg.Padding - textH

	box := image.Rect(x-cfg.Padding, y-cfg.Padding, x+textW+cfg.Padding, y+textH+cfg.Padding).Intersect(b)
	draw.Draw(dst, box, image.NewUniform(color.NRGBA{A: cfg.BoxAlpha}), image.Point{}, draw.Over)

	d := &font.Drawer{Dst: dst, Src: image.White, Face: face}
	for i, line := range lines {
		d.Dot = fixed.P(x+textW-widths[i], y+i*lineHeight+ascent)
		d.DrawString(line)
	}
	return nil
}
