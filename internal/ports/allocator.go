// Package ports hands out TCP port numbers for spawned nodes.
//
// Sequential walks a fixed range and wraps around. HostAware wraps a
// Sequential and skips ports the host socket table reports as taken.
package ports

import "sync"

// Default port range used when none is configured.
const (
	DefaultMin = 30000
	DefaultMax = 40000
)

// Allocator hands out port numbers.
type Allocator interface {
	Next() int
}

// Sequential returns ports from [min, max) in order, wrapping to min after max-1.
type Sequential struct {
	mu     sync.Mutex
	min    int
	max    int
	cursor int
}

// NewSequential creates a sequential allocator over [minPort, maxPort).
// An empty or inverted range falls back to the default range.
func NewSequential(minPort, maxPort int) *Sequential {
	if minPort <= 0 || maxPort <= minPort {
		minPort, maxPort = DefaultMin, DefaultMax
	}
	return &Sequential{min: minPort, max: maxPort, cursor: minPort}
}

// Next returns the current cursor and advances it.
func (s *Sequential) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	port := s.cursor
	s.cursor++
	if s.cursor >= s.max {
		s.cursor = s.min
	}
	return port
}

// Size is the number of distinct ports in the range.
func (s *Sequential) Size() int {
	return s.max - s.min
}

// Range returns the configured bounds.
func (s *Sequential) Range() (int, int) {
	return s.min, s.max
}
