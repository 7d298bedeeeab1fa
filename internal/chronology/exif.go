// Package chronology resolves when each photo was taken.
package chronology

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/kozaktomas/face-lapse/internal/database"
)

const exifLayout = "2006:01:02 15:04:05"

// exifFields are tried in order; the first parseable value wins.
var exifFields = []exif.FieldName{exif.DateTimeOriginal, exif.DateTime, exif.DateTimeDigitized}

// ExifTime reads the capture time from EXIF metadata. Camera clocks carry no zone,
// so the wall time is returned as UTC.
func ExifTime(r io.Reader) (time.Time, bool) {
	x, err := exif.Decode(r)
	if err != nil {
		return time.Time{}, false
	}
	for _, field := range exifFields {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		value, err := tag.StringVal()
		if err != nil {
			continue
		}
		value = strings.TrimSpace(strings.TrimRight(value, "\x00"))
		t, err := time.ParseInLocation(exifLayout, value, time.UTC)
		if err == nil && !t.IsZero() {
			return t, true
		}
	}
	return time.Time{}, false
}

// Capture resolves a photo's time from its bytes, then from its client filename.
// The returned source is one of the database.TakenSource values.
func Capture(data []byte, filename string) (time.Time, string, bool) {
	if t, ok := ExifTime(bytes.NewReader(data)); ok {
		return t, database.TakenSourceExif, true
	}
	if t, ok := FilenameTime(filename); ok {
		return t, database.TakenSourceFilename, true
	}
	return time.Time{}, database.TakenSourceNone, false
}
