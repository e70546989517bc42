package thermo

import (
	"errors"
	"math"
)

// ErrNoBracket is returned when a root cannot be bracketed.
var ErrNoBracket = errors.New("root not bracketed")

// ErrNoConvergence is returned when a root search exhausts its iterations.
var ErrNoConvergence = errors.New("root search did not converge")

// FindRoot locates a root of f inside [lo, hi] starting from guess. The
// interval is searched outward from guess for a sign change first, then
// refined with a bisection-safeguarded secant (Illinois) iteration until
// |x1-x0| < xtol or |f| < ftol.
func FindRoot(f func(float64) (float64, error), lo, hi, guess, xtol, ftol float64) (float64, error) {
	if guess <= lo || guess >= hi {
		guess = 0.5 * (lo + hi)
	}
	a, b, fa, fb, err := bracket(f, lo, hi, guess)
	if err != nil {
		return math.NaN(), err
	}
	if fa == 0 {
		return a, nil
	}
	if fb == 0 {
		return b, nil
	}

	side := 0
	prev := math.Inf(1)
	for i := 0; i < 200; i++ {
		c := (a*fb - b*fa) / (fb - fa)
		if math.IsNaN(c) || c <= math.Min(a, b) || c >= math.Max(a, b) {
			c = 0.5 * (a + b)
		}
		fc, err := f(c)
		if err != nil {
			return math.NaN(), err
		}
		if math.Abs(fc) < ftol || math.Abs(b-a) < xtol || math.Abs(c-prev) < xtol {
			return c, nil
		}
		prev = c
		if fc*fb > 0 {
			b, fb = c, fc
			if side == -1 {
				fa /= 2
			}
			side = -1
		} else {
			a, fa = c, fc
			if side == 1 {
				fb /= 2
			}
			side = 1
		}
	}
	return math.NaN(), ErrNoConvergence
}

// bracket expands geometrically around guess until f changes sign.
func bracket(f func(float64) (float64, error), lo, hi, guess float64) (a, b, fa, fb float64, err error) {
	fg, err := f(guess)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if fg == 0 {
		return guess, guess, 0, 0, nil
	}
	step := 0.02 * (hi - lo)
	left, right := guess, guess
	fl, fr := fg, fg
	for i := 0; i < 60; i++ {
		if left > lo {
			nl := math.Max(lo, left-step)
			fnl, err := f(nl)
			if err == nil {
				if fnl*fl <= 0 {
					return nl, left, fnl, fl, nil
				}
				left, fl = nl, fnl
			} else {
				lo = left
			}
		}
		if right < hi {
			nr := math.Min(hi, right+step)
			fnr, err := f(nr)
			if err == nil {
				if fnr*fr <= 0 {
					return right, nr, fr, fnr, nil
				}
				right, fr = nr, fnr
			} else {
				hi = right
			}
		}
		if left <= lo && right >= hi {
			break
		}
		step *= 1.6
	}
	return 0, 0, 0, 0, ErrNoBracket
}
