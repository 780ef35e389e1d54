package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// baseDelay computes the pre-jitter delay for a 1-based attempt number.
func (p *Policy) baseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d float64
	switch p.Strategy {
	case StrategyFixed:
		d = float64(p.BaseDelay)
	case StrategyLinear:
		d = float64(p.BaseDelay) + float64(attempt-1)*float64(p.LinearIncrement)
	case StrategyFibonacci:
		d = float64(p.BaseDelay) * float64(fibonacci(attempt))
	default: // StrategyExponential
		d = float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt-1))
	}

	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// delay computes the post-jitter delay before the retry following the given
// attempt. prev is the previous post-jitter delay, which only decorrelated
// jitter consumes.
//
// Jitter randomness uses math/rand: retry timing is not security-sensitive.
func (p *Policy) delay(attempt int, prev time.Duration) time.Duration {
	base := p.baseDelay(attempt)

	switch p.Jitter {
	case JitterFull:
		return time.Duration(rand.Float64() * float64(base))
	case JitterEqual:
		half := float64(base) / 2
		return time.Duration(half + rand.Float64()*half)
	case JitterDecorrelated:
		lo := float64(p.BaseDelay)
		hi := 3 * float64(prev)
		if prev <= 0 {
			hi = 3 * lo
		}
		if hi <= lo {
			hi = lo
		}
		d := lo + rand.Float64()*(hi-lo)
		if d > float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
		}
		return time.Duration(d)
	default:
		return base
	}
}

// attemptTimeout returns the timeout for a 1-based attempt, growing by
// TimeoutMultiplier per attempt and capped at 5x the base timeout. Zero
// means no attempt timeout.
func (p *Policy) attemptTimeout(attempt int) time.Duration {
	if p.Timeout <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	t := float64(p.Timeout) * math.Pow(p.TimeoutMultiplier, float64(attempt-1))
	limit := 5 * float64(p.Timeout)
	if t > limit {
		t = limit
	}
	return time.Duration(t)
}

// fibonacci returns the nth Fibonacci number, 1-based: 1, 1, 2, 3, 5, ...
func fibonacci(n int) int64 {
	if n <= 2 {
		return 1
	}
	a, b := int64(1), int64(1)
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}
