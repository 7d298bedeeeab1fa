package ordering

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var firstNumber = regexp.MustCompile(`\d+`)

// FilenameKey sorts filenames as integers when possible.
type FilenameKey struct {
	Class  int // 0 numeric, 1 no digits
	Number int64
	Stem   string
}

// NumericFilenameKey returns (0, n, "") for an all-digit stem, (0, n, stem) for
// a stem containing a digit run, and (1, 0, stem) otherwise.
func NumericFilenameKey(name string) FilenameKey {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	if n, err := strconv.ParseInt(stem, 10, 64); err == nil {
		return FilenameKey{Class: 0, Number: n}
	}
	if m := firstNumber.FindString(stem); m != "" {
		if n, err := strconv.ParseInt(m, 10, 64); err == nil {
			return FilenameKey{Class: 0, Number: n, Stem: stem}
		}
	}
	return FilenameKey{Class: 1, Stem: stem}
}

func (k FilenameKey) Less(o FilenameKey) bool {
	if k.Class != o.Class {
		return k.Class < o.Class
	}
	if k.Number != o.Number {
		return k.Number < o.Number
	}
	return k.Stem < o.Stem
}
