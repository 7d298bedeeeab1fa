package chronology

import "time"

const defaultInterval = 24 * time.Hour

// Item is one position of a sequence already in display order.
type Item struct {
	Known     *time.Time // resolved capture time, nil when missing
	CreatedAt time.Time  // upload time, zero when unknown
}

// Interpolate returns a fully populated timestamp for every position.
// Known values are copied unchanged. Gaps between two anchors are filled by
// linear interpolation over position distance; positions outside the anchors
// are extrapolated by the average per-position interval.
func Interpolate(items []Item, now time.Time) []time.Time {
	out := make([]time.Time, len(items))
	if len(items) == 0 {
		return out
	}

	var anchors []int
	for i, it := range items {
		if it.Known != nil {
			anchors = append(anchors, i)
		}
	}

	if len(anchors) == len(items) {
		for i, it := range items {
			out[i] = *it.Known
		}
		return out
	}

	if len(anchors) == 0 {
		last := len(items) - 1
		for i, it := range items {
			if !it.CreatedAt.IsZero() {
				out[i] = it.CreatedAt
			} else {
				out[i] = now.Add(-time.Duration(last-i) * defaultInterval)
			}
		}
		return out
	}

	interval := averageInterval(items, anchors)

	// next anchor position at or after i
	next := 0
	for i, it := range items {
		if it.Known != nil {
			out[i] = *it.Known
			continue
		}
		for next < len(anchors) && anchors[next] < i {
			next++
		}
		switch {
		case next > 0 && next < len(anchors):
			before, after := anchors[next-1], anchors[next]
			from, to := *items[before].Known, *items[after].Known
			out[i] = from.Add(scale(to.Sub(from), i-before, after-before))
		case next == len(anchors):
			before := anchors[len(anchors)-1]
			out[i] = items[before].Known.Add(time.Duration(i-before) * interval)
		default:
			after := anchors[0]
			out[i] = items[after].Known.Add(time.Duration(i-after) * interval)
		}
	}
	return out
}

// averageInterval is the mean per-position gap between consecutive anchors.
// With a single anchor it is the distance between its capture and upload time
// divided by its index, or one day when that is unavailable.
func averageInterval(items []Item, anchors []int) time.Duration {
	if len(anchors) == 1 {
		k := anchors[0]
		if k == 0 || items[k].CreatedAt.IsZero() {
			return defaultInterval
		}
		diff := items[k].CreatedAt.Sub(*items[k].Known)
		if diff < 0 {
			diff = -diff
		}
		return diff / time.Duration(k)
	}

	var total time.Duration
	for i := 1; i < len(anchors); i++ {
		prev, curr := anchors[i-1], anchors[i]
		total += items[curr].Known.Sub(*items[prev].Known) / time.Duration(curr-prev)
	}
	return total / time.Duration(len(anchors)-1)
}

// scale returns d*num/den without overflowing for multi-decade spans.
func scale(d time.Duration, num, den int) time.Duration {
	n, m := time.Duration(num), time.Duration(den)
	return d/m*n + d%m*n/m
}
