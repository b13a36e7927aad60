package backoff

import (
	"math/rand"
	"time"
)

// Compute returns the delay before retry number attempt (0-based) under
// the given policy. base and max are normalized to sane values so callers
// can pass config fields straight through.
func Compute(policy string, base, max time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case "fixed":
		return minDur(base, max)
	case "linear":
		return minDur(base*time.Duration(maxInt(1, attempt)), max)
	case "exponential":
		return minDur(shift(base, attempt), max)
	case "exp_full_jitter":
		d := minDur(shift(base, attempt), max)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	default: // exp_equal_jitter
		d := minDur(shift(base, attempt), max)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	}
}

// shift doubles base attempt times, saturating instead of overflowing.
func shift(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		if d > time.Hour {
			return time.Hour
		}
		d *= 2
	}
	return d
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
