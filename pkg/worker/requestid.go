package worker

import (
	"strconv"
	"time"
)

// Clock samples a high resolution monotonic clock as whole seconds and the
// nanosecond remainder.
type Clock func() (sec, nsec int64)

var epoch = time.Now()

// MonotonicClock reports the time elapsed since package initialisation.
func MonotonicClock() (sec, nsec int64) {
	d := time.Since(epoch)
	return int64(d / time.Second), int64(d % time.Second)
}

// FormatRequestID concatenates both clock components into one token:
// (20, 1) yields "201".
func FormatRequestID(sec, nsec int64) string {
	return strconv.FormatInt(sec, 10) + strconv.FormatInt(nsec, 10)
}

// uniqueID appends a "-N" suffix until base no longer collides with a
// pending request. Caller holds the lock guarding taken.
func uniqueID(base string, taken func(string) bool) string {
	id := base
	for n := 1; taken(id); n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	return id
}
