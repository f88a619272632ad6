package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

// Now returns the process-wide current time, overridable by tests via SetMockTime.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

// UTC returns Now() normalized to UTC.
func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime pins Now()/UTC() to a fixed value until ResetTime is called.
func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
}

// ResetTime restores Now()/UTC() to the real wall clock.
func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}
