package chronology

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// filenamePatterns are tried in order against the filename stem; the first
// match that forms a valid calendar date wins. Submatches are year, month, day
// and optionally hour, minute, second and an AM/PM marker.
var filenamePatterns = []struct {
	regex *regexp.Regexp
	desc  string
}{
	// 2024-01-15 14.30.22, 2024-01-15_143022
	{regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})[_\s\-.](\d{2})[._]?(\d{2})[._]?(\d{2})`), "ISO date with time"},

	// AirDrop: 2026-02-14 at 3.31.16 PM
	{regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})\s+at\s+(\d{1,2})\.(\d{2})\.(\d{2})(?:\s*([AaPp][Mm]))?`), "AirDrop transfer"},

	// 20240115_143022, 20240115-143022
	{regexp.MustCompile(`(\d{4})(\d{2})(\d{2})[_\-](\d{2})(\d{2})(\d{2})`), "compact timestamp"},

	// IMG_20240115_143022
	{regexp.MustCompile(`IMG[_\-](\d{4})(\d{2})(\d{2})[_\-](\d{2})(\d{2})(\d{2})`), "camera timestamp"},

	// 2024-01-15
	{regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`), "ISO date"},

	// 20240115 not adjacent to other digits
	{regexp.MustCompile(`(?:^|\D)(\d{4})(\d{2})(\d{2})(?:\D|$)`), "compact date"},
}

// FilenameTime extracts a capture time from a structured filename.
func FilenameTime(name string) (time.Time, bool) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	for _, p := range filenamePatterns {
		m := p.regex.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		if t, ok := dateFromParts(m[1:]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// dateFromParts builds a UTC time and rejects values time.Date would normalize.
func dateFromParts(parts []string) (time.Time, bool) {
	nums := make([]int, 6)
	meridiem := ""
	for i, part := range parts {
		if i == 6 {
			meridiem = strings.ToUpper(part)
			break
		}
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}

	year, month, day, hour, minute, second := nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]
	switch meridiem {
	case "AM":
		if hour < 1 || hour > 12 {
			return time.Time{}, false
		}
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour < 1 || hour > 12 {
			return time.Time{}, false
		}
		if hour != 12 {
			hour += 12
		}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != second {
		return time.Time{}, false
	}
	return t, true
}
