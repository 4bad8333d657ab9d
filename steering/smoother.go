package steering

import "gonum.org/v1/gonum/spatial/r2"

// Smoother averages the last N samples of a vector.
type Smoother struct {
	samples []r2.Vec
	next    int
	filled  int
}

// NewSmoother returns a smoother over n samples (at least one).
func NewSmoother(n int) *Smoother {
	if n < 1 {
		n = 1
	}
	return &Smoother{samples: make([]r2.Vec, n)}
}

// Update records v and returns the mean of the recorded samples.
func (s *Smoother) Update(v r2.Vec) r2.Vec {
	s.samples[s.next] = v
	s.next = (s.next + 1) % len(s.samples)
	if s.filled < len(s.samples) {
		s.filled++
	}

	var sum r2.Vec
	for i := 0; i < s.filled; i++ {
		sum = r2.Add(sum, s.samples[i])
	}
	return r2.Scale(1/float64(s.filled), sum)
}

// Len returns the number of samples currently averaged.
func (s *Smoother) Len() int {
	return s.filled
}

// Reset forgets all samples.
func (s *Smoother) Reset() {
	s.next = 0
	s.filled = 0
}
