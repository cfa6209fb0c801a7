package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/exp/constraints"
)

type Strategy interface {
	// Delay returns how long to wait before retry number attempt (0-based)
	// and false once no more retries are allowed.
	Delay(attempt uint) (time.Duration, bool)
}

type never struct{}

func NewNever() Strategy {
	return never{}
}

func (never) Delay(uint) (time.Duration, bool) {
	return 0, false
}

// Entropy returns a value in [0, n). Full jitter is used when it is nil.
type Entropy func(n int64) int64

type ExponentialBackOff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries uint
	Entropy    Entropy
}

func NewExponentialBackOff(base time.Duration, max time.Duration, maxRetries uint) *ExponentialBackOff {
	return &ExponentialBackOff{
		Base:       base,
		Max:        max,
		MaxRetries: maxRetries,
	}
}

func (eb *ExponentialBackOff) Delay(attempt uint) (time.Duration, bool) {
	if attempt >= eb.MaxRetries {
		return 0, false
	}

	ceiling := int64(eb.Max)
	if attempt < 62 && int64(eb.Base) <= math.MaxInt64>>attempt {
		ceiling = clamp(int64(eb.Base)<<attempt, 0, int64(eb.Max))
	}
	if ceiling <= 0 {
		return 0, true
	}
	return time.Duration(eb.entropy()(ceiling)), true
}

func (eb *ExponentialBackOff) entropy() Entropy {
	if eb.Entropy == nil {
		return rand.Int64N
	}
	return eb.Entropy
}

func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
