// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fixed implements the 17.14 signed fixed-point arithmetic used by
// the MLFQS scheduler policy. The scale (2^14) and the fact that it is a
// dedicated integer type rather than a general decimal package are both
// correctness-relevant: MLFQS's formulas are defined in terms of this exact
// representation, not an arbitrary-precision one.
package fixed

// shift is the number of fractional bits: one unit of Fixed is 1/2^shift.
const shift = 14

// F is the scale factor, 2^14.
const F = 1 << shift

// Fixed is a signed 17.14 fixed-point number.
type Fixed int64

// FromInt converts an integer to Fixed.
func FromInt(n int) Fixed {
	return Fixed(n) * F
}

// Add returns f+g.
func (f Fixed) Add(g Fixed) Fixed {
	return f + g
}

// Sub returns f-g.
func (f Fixed) Sub(g Fixed) Fixed {
	return f - g
}

// AddInt returns f+n.
func (f Fixed) AddInt(n int) Fixed {
	return f + FromInt(n)
}

// SubInt returns f-n.
func (f Fixed) SubInt(n int) Fixed {
	return f - FromInt(n)
}

// MulInt returns f*n.
func (f Fixed) MulInt(n int) Fixed {
	return f * Fixed(n)
}

// DivInt returns f/n.
func (f Fixed) DivInt(n int) Fixed {
	return f / Fixed(n)
}

// Mul returns f*g, rescaling back to 17.14 via the standard 64-bit
// intermediate widening trick (pintos does this with a cast to int64_t;
// here Fixed already is int64, so the cast is implicit in the literal
// division precedence).
func (f Fixed) Mul(g Fixed) Fixed {
	return Fixed((int64(f) * int64(g)) / F)
}

// Div returns f/g, rescaling before dividing so the fraction isn't lost to
// integer truncation.
func (f Fixed) Div(g Fixed) Fixed {
	return Fixed((int64(f) * F) / int64(g))
}

// Trunc returns the integer part of f, rounding toward zero.
func (f Fixed) Trunc() int {
	return int(f / F)
}

// Round returns f rounded to the nearest integer, matching pintos'
// convention of adding/subtracting half a unit before truncating depending
// on sign.
func (f Fixed) Round() int {
	if f >= 0 {
		return int((f + F/2) / F)
	}
	return int((f - F/2) / F)
}
