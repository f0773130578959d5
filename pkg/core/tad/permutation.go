// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tad

// PlanPermutation returns the axes order that moves the outer axes (those not in axes) to the
// front, in increasing order, followed by the axes in reversed order.
//
// The result is appended to dst[:0], so a dst with capacity rank avoids allocations.
//
// Example: for rank 4 and axes {1, 2}, it returns {0, 3, 2, 1}.
func PlanPermutation(rank int, axes AxisSet, dst []int) []int {
	dst = OuterAxes(rank, axes, dst)
	if axes.IsNoOp() {
		return dst
	}
	for ii := len(axes.Axes) - 1; ii >= 0; ii-- {
		dst = append(dst, axes.Axes[ii])
	}
	return dst
}

// OuterAxes returns the axes not in the given set, in increasing order, appended to dst[:0].
// For the no-op set every axis is an outer axis.
func OuterAxes(rank int, axes AxisSet, dst []int) []int {
	dst = dst[:0]
	reduced := axes.mask()
	for axis := range rank {
		if reduced&(1<<axis) == 0 {
			dst = append(dst, axis)
		}
	}
	return dst
}
