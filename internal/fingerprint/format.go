package fingerprint

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/face-lapse/internal/constants"
)

// allowedExtensions are kept from the client filename as-is.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".heic": true,
	".bmp":  true,
	".tiff": true,
}

var mimeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
}

// ExtensionFor picks the stored extension: the client's if whitelisted,
// otherwise one sniffed from the content, otherwise .jpg.
func ExtensionFor(filename string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if allowedExtensions[ext] {
		return ext
	}
	if ext, ok := mimeExtensions[DetectMIMEType(data)]; ok {
		return ext
	}
	return constants.DefaultExtension
}

// ContentType returns the MIME type for a stored extension.
func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".bmp":
		return "image/bmp"
	case ".tiff":
		return "image/tiff"
	}
	return "application/octet-stream"
}

// DetectMIMEType detects the MIME type from image magic bytes
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return "image/webp"
	}
	// BMP: 42 4D
	if data[0] == 'B' && data[1] == 'M' {
		return "image/bmp"
	}
	// TIFF: II*\0 or MM\0*
	if bytes.Equal(data[0:4], []byte{'I', 'I', 0x2A, 0x00}) || bytes.Equal(data[0:4], []byte{'M', 'M', 0x00, 0x2A}) {
		return "image/tiff"
	}
	// HEIC: ISO BMFF ftyp box with a HEIF brand
	if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
		switch string(data[8:12]) {
		case "heic", "heix", "hevc", "heim", "heis", "mif1", "msf1":
			return "image/heic"
		}
	}
	return "application/octet-stream"
}
