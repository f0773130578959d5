// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tad

import (
	"iter"

	"github.com/gomlx/tad/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OutOfRange is the offset returned by OffsetOf for an invalid TAD index.
const OutOfRange = -1

// CoordinateOf returns the coordinates, in the parent shape, of the first element of TAD tadIndex:
// the outer axes take the mixed-radix decomposition of tadIndex over their dimensions (the last
// outer axis varying fastest), and the reduced axes are 0.
//
// The coordinates are written to coords if it has enough capacity, otherwise a new slice is allocated.
// It returns false if tadIndex is out of range.
func (t *TAD) CoordinateOf(tadIndex int, coords []int) ([]int, bool) {
	rank := t.parent.Rank()
	if cap(coords) < rank {
		coords = make([]int, rank)
	}
	coords = coords[:rank]
	clear(coords)
	if tadIndex < 0 || tadIndex >= t.numTads {
		return coords, false
	}
	remaining := tadIndex
	for ii := len(t.outerAxes) - 1; ii >= 0; ii-- {
		axis := t.outerAxes[ii]
		dim := t.parent.Dimensions[axis]
		coords[axis] = remaining % dim
		remaining /= dim
	}
	return coords, remaining == 0
}

// OffsetOf returns the offset of the first element of TAD tadIndex, relative to the offset of the
// parent shape. So the position in the buffer is Parent().Offset + OffsetOf(tadIndex).
//
// It returns OutOfRange if tadIndex is not in [0, NumTads()). It doesn't allocate.
func (t *TAD) OffsetOf(tadIndex int) int {
	if tadIndex < 0 || tadIndex >= t.numTads {
		return OutOfRange
	}
	if t.wholeArray {
		return tadIndex
	}
	offset := 0
	remaining := tadIndex
	for ii := len(t.outerAxes) - 1; ii >= 0; ii-- {
		axis := t.outerAxes[ii]
		dim := t.parent.Dimensions[axis]
		offset += (remaining % dim) * t.parent.Strides[axis]
		remaining /= dim
	}
	if remaining != 0 {
		return OutOfRange
	}
	return offset
}

// Offsets returns the offsets of all TADs, as given by OffsetOf.
//
// The table is built on the first call, in parallel if there are enough TADs, and cached: the
// returned slice is shared and must not be modified.
func (t *TAD) Offsets() []int {
	t.offsetsOnce.Do(func() {
		pool, minPerWorker := t.pool, t.minPerWorker
		if pool == nil {
			pool, minPerWorker = defaultWorkers()
		}
		offsets := make([]int, t.numTads)
		pool.ParallelRange(t.numTads, minPerWorker, func(start, end int) {
			for tadIdx := start; tadIdx < end; tadIdx++ {
				offsets[tadIdx] = t.OffsetOf(tadIdx)
			}
		})
		klog.V(3).Infof("tad: built offsets table with %d entries, parallelism %d", len(offsets), pool.MaxParallelism())
		t.offsets = offsets
	})
	return t.offsets
}

// TadShapeAt returns the shape of TAD tadIndex: the TAD shape with the Offset of the given TAD.
func (t *TAD) TadShapeAt(tadIndex int) (shapes.Shape, error) {
	offset := t.OffsetOf(tadIndex)
	if offset == OutOfRange {
		return shapes.Shape{}, errors.Wrapf(shapes.ErrOutOfRange, "TadShapeAt(%d): there are %d TADs", tadIndex, t.numTads)
	}
	s := t.tadShape.Clone()
	s.Offset = t.parent.Offset + offset
	return s, nil
}

// ElementOffsets yields the position in the buffer (including the parent's offset) of every
// element of TAD tadIndex, in row-major order of the TAD shape.
//
// It yields nothing if tadIndex is out of range.
func (t *TAD) ElementOffsets(tadIndex int) iter.Seq[int] {
	return func(yield func(int) bool) {
		offset := t.OffsetOf(tadIndex)
		if offset == OutOfRange {
			return
		}
		s := t.tadShape
		s.Offset = t.parent.Offset + offset
		for _, elementOffset := range s.Offsets() {
			if !yield(elementOffset) {
				return
			}
		}
	}
}
