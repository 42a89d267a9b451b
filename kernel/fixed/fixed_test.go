// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromIntRoundTrip(t *testing.T) {
	require.Equal(t, 5, FromInt(5).Trunc())
	require.Equal(t, -3, FromInt(-3).Trunc())
	require.Equal(t, 0, FromInt(0).Trunc())
}

func TestAddSub(t *testing.T) {
	a := FromInt(5)
	b := FromInt(2)
	require.Equal(t, FromInt(7), a.Add(b))
	require.Equal(t, FromInt(3), a.Sub(b))
	require.Equal(t, FromInt(6), a.AddInt(1))
	require.Equal(t, FromInt(4), a.SubInt(1))
}

func TestMulDiv(t *testing.T) {
	a := FromInt(6)
	b := FromInt(3)
	require.Equal(t, FromInt(18), a.Mul(b))
	require.Equal(t, FromInt(2), a.Div(b))
	require.Equal(t, FromInt(12), a.MulInt(2))
	require.Equal(t, FromInt(3), a.DivInt(2))
}

func TestRound(t *testing.T) {
	require.Equal(t, 1, Fixed(F/2).Round())
	require.Equal(t, 0, Fixed(F/2-1).Round())
	require.Equal(t, -1, Fixed(-F / 2).Round())
	require.Equal(t, 2, FromInt(2).Round())
}

// TestLoadAvgConvergesTowardReadyCount exercises the formula the MLFQS
// policy uses for load_avg, load_avg = (59/60)*load_avg + (1/60)*ready_count,
// confirming it is a contraction toward a constant ready_count.
func TestLoadAvgConvergesTowardReadyCount(t *testing.T) {
	fiftyNineSixtieths := FromInt(59).Div(FromInt(60))
	oneSixtieth := FromInt(1).Div(FromInt(60))

	avg := Fixed(0)
	for i := 0; i < 10000; i++ {
		avg = avg.Mul(fiftyNineSixtieths).Add(oneSixtieth.MulInt(1))
	}
	require.InDelta(t, 1.0, float64(avg)/float64(F), 0.01)
}
