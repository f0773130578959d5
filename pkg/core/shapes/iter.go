// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"iter"
)

// Iter iterates sequentially, in row-major order, over all possible indices of the given shape.
//
// It yields the flat index (counter) and a slice of indices for each axis.
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		rank := s.Rank()
		indices := make([]int, rank)
		if rank == 0 {
			// Valid scalar: yield one empty index slice.
			_ = yield(0, indices)
			return
		}
		flatIdx := 0
	yielder:
		for {
			if !yield(flatIdx, indices) {
				return // Consumer requested to stop iteration.
			}
			flatIdx++

			// Increment indices to the next set of coordinates
			// (row-major order: the last index changes fastest).
			for axis := rank - 1; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					continue yielder
				}
				// The current axis overflowed; reset it to 0 and carry over.
				indices[axis] = 0
			}
			break
		}
	}
}

// Offsets iterates over all elements of the shape, in row-major order of their indices, and yields
// the flat index and the position of the element in the underlying buffer (including s.Offset).
func (s Shape) Offsets() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		plan, ok := PlanIteration(s)
		if !ok {
			// Generic path: compute each offset from its indices.
			for flatIdx, indices := range s.Iter() {
				offset := s.Offset
				for axis, idx := range indices {
					offset += idx * s.Strides[axis]
				}
				if !yield(flatIdx, offset) {
					return
				}
			}
			return
		}
		flatIdx := 0
		for offset := range plan.Offsets() {
			if !yield(flatIdx, offset) {
				return
			}
			flatIdx++
		}
	}
}

// IterPlan is a simplified description of a strided array, equivalent for the purpose of visiting its
// elements in row-major order: axes of dimension 1 are dropped, and consecutive axes that form one
// run are merged.
type IterPlan struct {
	Rank       int
	Dimensions [MaxRank]int
	Strides    [MaxRank]int
	Offset     int
}

// PlanIteration prepares an IterPlan for the shape.
//
// It returns false if no plan could be prepared (an invalid dimension, or an inconsistent rank),
// in which case the caller should fall back to a generic iteration.
func PlanIteration(s Shape) (plan IterPlan, ok bool) {
	rank := s.Rank()
	if rank > MaxRank || len(s.Strides) != rank {
		return
	}
	plan.Offset = s.Offset
	for axis := range rank {
		dim := s.Dimensions[axis]
		if dim <= 0 {
			return plan, false
		}
		if dim == 1 {
			continue
		}
		stride := s.Strides[axis]
		if plan.Rank > 0 && plan.Strides[plan.Rank-1] == stride*dim {
			// Merge with the previous axis.
			plan.Dimensions[plan.Rank-1] *= dim
			plan.Strides[plan.Rank-1] = stride
			continue
		}
		plan.Dimensions[plan.Rank] = dim
		plan.Strides[plan.Rank] = stride
		plan.Rank++
	}
	return plan, true
}

// Size returns the number of elements visited by the plan.
func (plan IterPlan) Size() int {
	size := 1
	for _, dim := range plan.Dimensions[:plan.Rank] {
		size *= dim
	}
	return size
}

// Offsets yields the buffer offset of every element, in row-major order.
func (plan IterPlan) Offsets() iter.Seq[int] {
	return func(yield func(int) bool) {
		if plan.Rank == 0 {
			_ = yield(plan.Offset)
			return
		}
		var indices [MaxRank]int
		rank := plan.Rank
		last := rank - 1
		offset := plan.Offset
		innerDim, innerStride := plan.Dimensions[last], plan.Strides[last]
		for {
			// Innermost run.
			for range innerDim {
				if !yield(offset) {
					return
				}
				offset += innerStride
			}
			offset -= innerDim * innerStride

			// Carry over to the outer axes.
			axis := last - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				offset += plan.Strides[axis]
				if indices[axis] < plan.Dimensions[axis] {
					break
				}
				offset -= indices[axis] * plan.Strides[axis]
				indices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}
