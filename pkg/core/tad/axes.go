// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tad

import (
	"math"
	"slices"

	"github.com/gomlx/tad/pkg/core/shapes"
	"github.com/pkg/errors"
)

// NoOpAxis is the sentinel value of a normalized axis list that reduces over nothing: the
// whole array is a single TAD. It is never a valid axis, nor a valid negative axis.
const NoOpAxis = math.MinInt32

// ErrInvalidAxis is returned when an axis is out of range for the rank of the parent shape.
var ErrInvalidAxis = errors.New("invalid axis")

// noOpAxes is the shared, read-only no-op axis list.
var noOpAxes = [1]int{NoOpAxis}

// AxisSet is a list of axes.
//
// Owned reports whether Axes was allocated while normalizing (or resolving) the list, as opposed
// to aliasing the caller's slice. In either case it must be treated as read-only.
type AxisSet struct {
	Axes  []int
	Owned bool
}

// NoOp returns the canonical no-op AxisSet.
func NoOp() AxisSet { return AxisSet{Axes: noOpAxes[:]} }

// IsNoOp returns whether the set is the no-op sentinel.
func (a AxisSet) IsNoOp() bool { return len(a.Axes) == 1 && a.Axes[0] == NoOpAxis }

// Len returns the number of axes in the set, 0 for the no-op sentinel.
func (a AxisSet) Len() int {
	if a.IsNoOp() {
		return 0
	}
	return len(a.Axes)
}

// Contains returns whether axis is in the set. The no-op set contains no axes.
func (a AxisSet) Contains(axis int) bool {
	if a.IsNoOp() {
		return false
	}
	for _, listed := range a.Axes {
		if listed == axis {
			return true
		}
	}
	return false
}

// mask returns the set of axes as a bit mask.
func (a AxisSet) mask() (m uint64) {
	if a.IsNoOp() {
		return 0
	}
	for _, axis := range a.Axes {
		m |= 1 << axis
	}
	return
}

// Normalize resolves and collapses the axes list for the parent shape:
//
//   - Negative axes count from the end: -1 is the last axis.
//   - Axes of dimension 1 are dropped, as well as repeated axes.
//   - The result is sorted in increasing order.
//   - If nothing is left (or axes is empty), the result is the no-op sentinel [NoOpAxis].
//
// If axes was already normalized, it is returned unchanged, aliased (Owned=false).
// The parent shape itself is never changed: the surviving axes index its original axes.
func Normalize(parent shapes.Shape, axes []int) (AxisSet, error) {
	resolved, err := resolveAxes(parent.Rank(), axes, allocScratch{})
	if err != nil {
		return AxisSet{}, err
	}
	normalized, _ := collapseAxes(parent.Dimensions, resolved, allocScratch{})
	return normalized, nil
}

// allocScratch allocates buffers that are left to the garbage collector: used by the public
// Normalize, which hands the buffers to the caller.
type allocScratch struct{}

func (allocScratch) Get(n int) []int { return make([]int, n) }
func (allocScratch) Put([]int)       {}

// resolveAxes converts negative axes to their positive equivalents. The caller's list is aliased
// unless it holds negative axes, in which case a resolved copy is drawn from scratch.
func resolveAxes(rank int, axes []int, scratch Scratch) (AxisSet, error) {
	if len(axes) == 1 && axes[0] == NoOpAxis {
		return AxisSet{Axes: axes}, nil
	}
	if len(axes) > shapes.MaxRank {
		return AxisSet{}, errors.Wrapf(ErrInvalidAxis, "%d axes given, at most %d are supported", len(axes), shapes.MaxRank)
	}
	hasNegative := false
	for _, axis := range axes {
		if axis < -rank || axis >= rank {
			return AxisSet{}, errors.Wrapf(ErrInvalidAxis, "axis %d out of range for rank %d (axes=%v)", axis, rank, axes)
		}
		if axis < 0 {
			hasNegative = true
		}
	}
	if !hasNegative {
		return AxisSet{Axes: axes}, nil
	}
	resolved := scratch.Get(len(axes))
	for ii, axis := range axes {
		if axis < 0 {
			axis += rank
		}
		resolved[ii] = axis
	}
	return AxisSet{Axes: resolved, Owned: true}, nil
}

// collapseAxes removes the axes of dimension 1, and repeated axes, from a resolved axes list.
//
// The trailing and then the leading axes of dimension 1 are first stripped by re-slicing. If what
// is left is already minimal (sorted, no repetitions nor axes of dimension 1) it is returned as is.
// Otherwise the list is copied to a scratch buffer, sorted, and the offending axes are removed
// one at a time: each pass removes exactly one of the pending axes, so the loop runs exactly
// pending times.
//
// If a buffer was drawn from scratch for the result, it is also returned as buf: the caller owns it.
func collapseAxes(dims []int, resolved AxisSet, scratch Scratch) (set AxisSet, buf []int) {
	if resolved.IsNoOp() {
		return resolved, nil
	}
	list := resolved.Axes
	for len(list) > 0 && dims[list[len(list)-1]] == 1 {
		list = list[:len(list)-1]
	}
	for len(list) > 0 && dims[list[0]] == 1 {
		list = list[1:]
	}
	if len(list) == 0 {
		return NoOp(), nil
	}
	if isMinimal(dims, list) {
		return AxisSet{Axes: list, Owned: resolved.Owned}, nil
	}

	out := scratch.Get(len(list))
	copy(out, list)
	slices.Sort(out)
	offending := func(ii int) bool {
		return dims[out[ii]] == 1 || (ii > 0 && out[ii] == out[ii-1])
	}
	pending := 0
	for ii := range out {
		if offending(ii) {
			pending++
		}
	}
	n := len(out)
	for ; pending > 0; pending-- {
		for ii := n - 1; ii >= 0; ii-- {
			if offending(ii) {
				copy(out[ii:n-1], out[ii+1:n])
				n--
				break
			}
		}
	}
	if n == 0 {
		scratch.Put(out)
		return NoOp(), nil
	}
	return AxisSet{Axes: out[:n], Owned: true}, out
}

// isMinimal returns whether axes is strictly increasing and has no axes of dimension 1.
func isMinimal(dims, axes []int) bool {
	for ii, axis := range axes {
		if dims[axis] == 1 || (ii > 0 && axis <= axes[ii-1]) {
			return false
		}
	}
	return true
}
