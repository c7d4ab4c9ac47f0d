package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks fail-fast buffer activity across every lane that
// materializes the same buffer.
type Statistics struct {
	// Atomic counters for thread-safe updates
	admitted   int64
	delivered  int64
	buffered   int64
	overloads  int64
	tellErrors int64

	// Protected by mutex
	mu        sync.RWMutex
	startTime time.Time
	highWater int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Admit records an element arriving from upstream.
func (s *Statistics) Admit() {
	atomic.AddInt64(&s.admitted, 1)
}

// Deliver records an element handed downstream.
func (s *Statistics) Deliver() {
	atomic.AddInt64(&s.delivered, 1)
}

// Overload records an overload notification sent to a reply handle.
func (s *Statistics) Overload() {
	atomic.AddInt64(&s.overloads, 1)
}

// TellError records an overload notification the reply handle refused.
func (s *Statistics) TellError() {
	atomic.AddInt64(&s.tellErrors, 1)
}

// Enqueue records an element parked in a queue and returns the new total.
func (s *Statistics) Enqueue() int64 {
	size := atomic.AddInt64(&s.buffered, 1)
	s.mu.Lock()
	if size > s.highWater {
		s.highWater = size
	}
	s.mu.Unlock()
	return size
}

// Dequeue records an element leaving a queue and returns the new total.
func (s *Statistics) Dequeue() int64 {
	return atomic.AddInt64(&s.buffered, -1)
}

// Admitted returns the total number of elements received from upstream.
func (s *Statistics) Admitted() int64 {
	return atomic.LoadInt64(&s.admitted)
}

// Delivered returns the total number of elements handed downstream.
func (s *Statistics) Delivered() int64 {
	return atomic.LoadInt64(&s.delivered)
}

// Overloads returns the total number of overload notifications sent.
func (s *Statistics) Overloads() int64 {
	return atomic.LoadInt64(&s.overloads)
}

// TellErrors returns the number of overload notifications that failed.
func (s *Statistics) TellErrors() int64 {
	return atomic.LoadInt64(&s.tellErrors)
}

// CurrentSize returns the number of elements currently parked in queues.
func (s *Statistics) CurrentSize() int64 {
	return atomic.LoadInt64(&s.buffered)
}

// HighWater returns the largest CurrentSize observed.
func (s *Statistics) HighWater() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highWater
}

// Throughput returns the average number of delivered elements per second.
func (s *Statistics) Throughput() float64 {
	elapsed := s.Uptime()
	if elapsed == 0 {
		return 0.0
	}
	return float64(s.Delivered()) / elapsed.Seconds()
}

// OverloadRate returns the fraction of admitted elements that triggered a
// notification (0.0 to 1.0).
func (s *Statistics) OverloadRate() float64 {
	admitted := s.Admitted()
	if admitted == 0 {
		return 0.0
	}
	return float64(s.Overloads()) / float64(admitted)
}

// Uptime returns how long the buffer has been running.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// StatsSummary is a point-in-time snapshot of Statistics.
type StatsSummary struct {
	Admitted     int64         `json:"admitted"`
	Delivered    int64         `json:"delivered"`
	Overloads    int64         `json:"overloads"`
	TellErrors   int64         `json:"tell_errors"`
	CurrentSize  int64         `json:"current_size"`
	HighWater    int64         `json:"high_water"`
	Throughput   float64       `json:"throughput"`
	OverloadRate float64       `json:"overload_rate"`
	Uptime       time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Admitted:     s.Admitted(),
		Delivered:    s.Delivered(),
		Overloads:    s.Overloads(),
		TellErrors:   s.TellErrors(),
		CurrentSize:  s.CurrentSize(),
		HighWater:    s.HighWater(),
		Throughput:   s.Throughput(),
		OverloadRate: s.OverloadRate(),
		Uptime:       s.Uptime(),
	}
}
