package trust

import "math"

// Scorer maps a path length to a trust score in (0, 1]. Scores must be 1 at
// length 0 and strictly decrease with length.
type Scorer interface {
	Score(length int) float64
}

// InverseDecay scores 1/(1+length).
type InverseDecay struct{}

func (InverseDecay) Score(length int) float64 {
	if length < 0 {
		length = 0
	}
	return 1 / float64(1+length)
}

// ExponentialDecay scores Base^length. Base must lie in (0, 1); other
// values fall back to 0.5.
type ExponentialDecay struct {
	Base float64
}

func (e ExponentialDecay) Score(length int) float64 {
	base := e.Base
	if base <= 0 || base >= 1 {
		base = 0.5
	}
	if length < 0 {
		length = 0
	}
	return math.Pow(base, float64(length))
}
