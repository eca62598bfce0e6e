// Package randomtest provides a scripted random.Source.
package randomtest

import (
	"sync"

	"github.com/open-builders/knock-backend/internal/utils/random"
)

// Source replays Floats and Ints in order, cycling when exhausted. Int
// values are reduced modulo the requested bound. Empty scripts yield 0.
type Source struct {
	mu     sync.Mutex
	Floats []float64
	Ints   []int64
	fi, ii int
}

func Floats(v ...float64) *Source { return &Source{Floats: v} }

func (s *Source) Float64() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Floats) == 0 {
		return 0, nil
	}
	v := s.Floats[s.fi%len(s.Floats)]
	s.fi++
	return v, nil
}

func (s *Source) Int64n(n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Ints) == 0 {
		return 0, nil
	}
	v := s.Ints[s.ii%len(s.Ints)]
	s.ii++
	return v % n, nil
}

var _ random.Source = (*Source)(nil)
