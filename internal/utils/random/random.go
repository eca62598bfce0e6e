package random

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// ErrNoWeight is returned when every candidate has zero weight.
var ErrNoWeight = errors.New("random: total weight is zero")

// maxFloatDenominator keeps the numerator well inside float64 precision.
const maxFloatDenominator = 1 << 53

// Source produces uniformly distributed values.
type Source interface {
	// Float64 returns a value in [0, 1).
	Float64() (float64, error)
	// Int64n returns a value in [0, n). n must be > 0.
	Int64n(n int64) (int64, error)
}

// Crypto is a Source backed by crypto/rand.
type Crypto struct{}

func (Crypto) Float64() (float64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxFloatDenominator))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random number: %w", err)
	}
	return float64(n.Int64()) / maxFloatDenominator, nil
}

func (Crypto) Int64n(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("random: invalid bound %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random number: %w", err)
	}
	return v.Int64(), nil
}

// WeightedIndex picks an index with probability proportional to its weight.
// Negative weights count as zero; zero-weight entries are never selected.
func WeightedIndex(src Source, weights []int64) (int, error) {
	var total int64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return -1, ErrNoWeight
	}
	r, err := src.Int64n(total)
	if err != nil {
		return -1, err
	}
	var sum int64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		sum += w
		if sum > r {
			return i, nil
		}
	}
	// unreachable while r < total
	return -1, ErrNoWeight
}
