package archive

import "time"

// TimestampLayout renders instants as ISO-8601 UTC at millisecond
// precision without a zone suffix. The fixed width keeps lexicographic
// ordering chronological in the store.
const TimestampLayout = "2006-01-02T15:04:05.000"

// Clock supplies the retrieval timestamps stamped on archived rows.
// Implemented by SystemClock (production) and testutil.FixedClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Timestamp renders t in the store's timestamp format.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// TimestampFromMillis converts a source-side millisecond epoch to the
// store's timestamp format: 1577836800000 renders as
// "2020-01-01T00:00:00.000".
func TimestampFromMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(TimestampLayout)
}
