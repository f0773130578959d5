// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tad

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tad/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	parent := shapes.Make(dtypes.Float32, 4, 1, 3, 1)

	// Already minimal: aliased.
	axes := []int{0, 2}
	got, err := Normalize(parent, axes)
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, got.Axes)
	require.False(t, got.Owned)
	require.Same(t, &axes[0], &got.Axes[0])

	// Trailing and leading axes of dimension 1 are stripped without copying.
	axes = []int{1, 2, 3}
	got, err = Normalize(parent, axes)
	require.NoError(t, err)
	require.Equal(t, []int{2}, got.Axes)
	require.False(t, got.Owned)
	require.Same(t, &axes[1], &got.Axes[0])

	// Inner axes of dimension 1, repeated and unsorted axes require a new list.
	got, err = Normalize(parent, []int{0, 1, 2})
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, got.Axes)
	require.True(t, got.Owned)

	got, err = Normalize(parent, []int{3, 1, 0, 2, 2})
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, got.Axes)

	got, err = Normalize(parent, []int{2, 1, 0, 1})
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, got.Axes)

	// Negative axes.
	got, err = Normalize(parent, []int{-4, -2})
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, got.Axes)
	require.True(t, got.Owned)

	// No-op.
	for _, axes := range [][]int{nil, {}, {1}, {3, 1}, {-1, 1, -3}, {NoOpAxis}} {
		got, err = Normalize(parent, axes)
		require.NoError(t, err)
		require.True(t, got.IsNoOp(), "axes=%v", axes)
		require.Equal(t, 0, got.Len())
		require.False(t, got.Contains(1))
	}

	// Invalid axes.
	for _, axes := range [][]int{{4}, {-5}, {0, NoOpAxis}} {
		_, err = Normalize(parent, axes)
		require.True(t, errors.Is(err, ErrInvalidAxis), "axes=%v", axes)
	}
	_, err = Normalize(shapes.Make(dtypes.Float32, 2), make([]int, shapes.MaxRank+1))
	require.True(t, errors.Is(err, ErrInvalidAxis))
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, parent := range testParents() {
		rank := parent.Rank()
		for mask := uint64(0); mask < 1<<rank; mask++ {
			axes := axesFromMask(mask, rank)
			// Reversed, with a repetition and a negative axis.
			messy := make([]int, 0, 2*len(axes))
			for ii := len(axes) - 1; ii >= 0; ii-- {
				messy = append(messy, axes[ii])
			}
			if len(axes) > 0 {
				messy = append(messy, axes[0]-rank)
			}
			for _, input := range [][]int{axes, messy} {
				once, err := Normalize(parent, input)
				require.NoError(t, err)
				twice, err := Normalize(parent, once.Axes)
				require.NoError(t, err)
				require.Equal(t, once.Axes, twice.Axes, "parent=%s, axes=%v", parent, input)
				require.False(t, twice.Owned)
				require.Same(t, &once.Axes[0], &twice.Axes[0])
				if !once.IsNoOp() {
					require.True(t, isMinimal(parent.Dimensions, once.Axes))
				}
			}
		}
	}
}

func TestAxisSet(t *testing.T) {
	set := AxisSet{Axes: []int{0, 3}}
	require.False(t, set.IsNoOp())
	require.Equal(t, 2, set.Len())
	require.True(t, set.Contains(3))
	require.False(t, set.Contains(1))
	require.Equal(t, uint64(0b1001), set.mask())
	require.Equal(t, uint64(0), NoOp().mask())
}

func TestCollapseAxesUnsorted(t *testing.T) {
	dims := []int{2, 3, 1, 4, 5}
	lane := NewLanePool(1, 1).Lane(0)
	resolved := AxisSet{Axes: []int{4, 1, 2, 4, 0}}
	set, buf := collapseAxes(dims, resolved, lane)
	require.Equal(t, []int{0, 1, 4}, set.Axes)
	require.True(t, set.Owned)
	require.Equal(t, []int{4, 1, 2, 4, 0}, resolved.Axes)
	lane.Put(buf)

	allocs := testing.AllocsPerRun(100, func() {
		_, buf := collapseAxes(dims, resolved, lane)
		lane.Put(buf)
	})
	require.Zero(t, allocs)
	require.Equal(t, 0, lane.Outstanding())
}
