package persistence

import "time"

// Timestamps are stored as epoch seconds, matching the radio's own
// clock resolution.

func timeToEpoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromEpoch(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}
