package stager

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SourceName cleans a client filename for storage: directory components are
// dropped, control characters removed and the result composed to NFC so that
// names from decomposing file systems compare equal to typed ones.
func SourceName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	t := transform.Chain(norm.NFC, runes.Remove(runes.In(unicode.Cc)))
	result, _, err := transform.String(t, name)
	if err != nil {
		return name
	}
	return strings.TrimSpace(result)
}
