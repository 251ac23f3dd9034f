// Package utils holds test helpers shared across toolmesh packages.
package utils

import (
	"runtime"
	"time"
)

// TB is the subset of testing.TB the leak detector reports through
type TB interface {
	Helper()
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// GoroutineLeakDetector fails a test when goroutines started during it
// outlive the component under test
type GoroutineLeakDetector struct {
	t             TB
	initialCount  int
	allowedGrowth int
	settle        time.Duration
	pollInterval  time.Duration
}

// NewGoroutineLeakDetector creates a detector and records the current
// goroutine count as the baseline
func NewGoroutineLeakDetector(t TB) *GoroutineLeakDetector {
	d := &GoroutineLeakDetector{
		t:            t,
		settle:       2 * time.Second,
		pollInterval: 20 * time.Millisecond,
	}
	d.initialCount = runtime.NumGoroutine()
	return d
}

// SetAllowedGrowth tolerates n extra goroutines (test servers, keep-alive
// connections) at Check time
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetSettle bounds how long Check waits for goroutines to exit
func (d *GoroutineLeakDetector) SetSettle(settle time.Duration) *GoroutineLeakDetector {
	d.settle = settle
	return d
}

// Check polls until the goroutine count drops back to the baseline plus the
// allowed growth, failing the test if it never does
func (d *GoroutineLeakDetector) Check() {
	d.t.Helper()

	limit := d.initialCount + d.allowedGrowth
	deadline := time.Now().Add(d.settle)
	count := runtime.NumGoroutine()
	for count > limit && time.Now().Before(deadline) {
		time.Sleep(d.pollInterval)
		count = runtime.NumGoroutine()
	}

	if count > limit {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		d.t.Errorf("goroutine leak: started with %d, ended with %d (allowed growth %d)\n%s",
			d.initialCount, count, d.allowedGrowth, buf[:n])
		return
	}
	d.t.Logf("no goroutine leak: started with %d, ended with %d", d.initialCount, count)
}
