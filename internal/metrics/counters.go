package metrics

import "sync/atomic"

// Counter is an atomic signed counter shared between the scheduler and
// status readers.
type Counter struct {
	value int64
}

// Add adds delta to the counter and returns the new value.
func (c *Counter) Add(delta int64) int64 {
	return atomic.AddInt64(&c.value, delta)
}

// Inc increments the counter by 1.
func (c *Counter) Inc() int64 {
	return atomic.AddInt64(&c.value, 1)
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset sets the counter to 0.
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// Dec decrements the counter by 1, saturating at 0. The in-flight count
// must never read negative, even if a decrement races a reset.
func (c *Counter) Dec() int64 {
	for {
		current := atomic.LoadInt64(&c.value)
		newVal := current - 1
		if newVal < 0 {
			newVal = 0
		}
		if atomic.CompareAndSwapInt64(&c.value, current, newVal) {
			return newVal
		}
		// CAS failed, retry with updated value
	}
}

// UCounter is an atomic unsigned counter for lifetime operation totals.
type UCounter struct {
	value uint64
}

// Inc increments by 1.
func (c *UCounter) Inc() uint64 {
	return atomic.AddUint64(&c.value, 1)
}

// Load returns the current value.
func (c *UCounter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

// Reset sets to 0.
func (c *UCounter) Reset() {
	atomic.StoreUint64(&c.value, 0)
}
