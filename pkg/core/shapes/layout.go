// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "fmt"

// Order of the elements in memory.
type Order byte

const (
	// RowMajor (or "C" order): the last axis varies fastest.
	RowMajor Order = 'c'

	// ColMajor (or "F" order): the first axis varies fastest.
	ColMajor Order = 'f'
)

// IsValid returns whether order is one of RowMajor or ColMajor.
func (order Order) IsValid() bool { return order == RowMajor || order == ColMajor }

// Other returns the opposite order.
func (order Order) Other() Order {
	if order == ColMajor {
		return RowMajor
	}
	return ColMajor
}

// String implements fmt.Stringer.
func (order Order) String() string {
	if order.IsValid() {
		return string(order)
	}
	return fmt.Sprintf("Order(%d)", byte(order))
}

// RowMajorStrides returns the strides of a contiguous array with the given dimensions where the
// last axis varies fastest.
//
// Notice the strides are **not in bytes**, but in indices.
func RowMajorStrides(dimensions []int) (strides []int) {
	rank := len(dimensions)
	strides = make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= dimensions[axis]
	}
	return
}

// ColMajorStrides returns the strides of a contiguous array with the given dimensions where the
// first axis varies fastest.
func ColMajorStrides(dimensions []int) (strides []int) {
	strides = make([]int, len(dimensions))
	currentStride := 1
	for axis, dim := range dimensions {
		strides[axis] = currentStride
		currentStride *= dim
	}
	return
}

// ComputeElementWiseStride returns the stride with which all elements can be visited as one run,
// in the given order, or NoElementWiseStride if there is no such stride.
//
// Axes of dimension 1 are ignored, since their stride is never used.
func ComputeElementWiseStride(dimensions, strides []int, order Order) int {
	rank := len(dimensions)
	ews := NoElementWiseStride
	expected := 0
	visit := func(axis int) bool {
		dim := dimensions[axis]
		if dim == 1 {
			return true
		}
		if ews == NoElementWiseStride {
			ews = strides[axis]
			if ews == 0 {
				return false
			}
			expected = ews
		}
		if strides[axis] != expected {
			return false
		}
		expected *= dim
		return true
	}
	if order == ColMajor {
		for axis := 0; axis < rank; axis++ {
			if !visit(axis) {
				return NoElementWiseStride
			}
		}
	} else {
		for axis := rank - 1; axis >= 0; axis-- {
			if !visit(axis) {
				return NoElementWiseStride
			}
		}
	}
	if ews == NoElementWiseStride {
		// Only axes of dimension 1: a single element.
		return 1
	}
	return ews
}

// InferOrder returns preferred if the strides are consistent with it, the other order if only that
// one is consistent, and preferred otherwise.
func InferOrder(dimensions, strides []int, preferred Order) Order {
	if !preferred.IsValid() {
		preferred = RowMajor
	}
	if ComputeElementWiseStride(dimensions, strides, preferred) != NoElementWiseStride {
		return preferred
	}
	if ComputeElementWiseStride(dimensions, strides, preferred.Other()) != NoElementWiseStride {
		return preferred.Other()
	}
	return preferred
}
