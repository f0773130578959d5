// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tad

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tad/pkg/core/shapes"
	"github.com/gomlx/tad/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// countingScratch keeps track of the buffers not yet returned.
type countingScratch struct {
	base        Scratch
	outstanding int
}

func (c *countingScratch) Get(n int) []int {
	c.outstanding++
	return c.base.Get(n)
}

func (c *countingScratch) Put(buf []int) {
	c.outstanding--
	c.base.Put(buf)
}

// testParents returns a variety of parent shapes: contiguous in either order, with axes of
// dimension 1, vectors and non-contiguous views (including a negative stride).
func testParents() []shapes.Shape {
	strided := must.M1(shapes.MakeStrided(dtypes.Float32, shapes.RowMajor, []int{3, 4}, []int{10, 2}))
	strided.Offset = 7
	reversed := must.M1(shapes.MakeStrided(dtypes.Float32, shapes.RowMajor, []int{4, 3}, []int{-3, 1}))
	reversed.Offset = 9
	return []shapes.Shape{
		shapes.Make(dtypes.Float32, 4, 3, 2),
		shapes.Make(dtypes.Float32, 2, 3, 4, 5),
		shapes.Make(dtypes.Float32, 5, 1, 3),
		shapes.Make(dtypes.Float32, 2, 1, 3, 1),
		shapes.Make(dtypes.Float32, 1, 5),
		shapes.Make(dtypes.Float32, 5, 1),
		shapes.Make(dtypes.Float32, 6),
		shapes.Make(dtypes.Float32, 1),
		shapes.MakeWithOrder(dtypes.Float32, shapes.ColMajor, 4, 3, 2),
		strided,
		reversed,
	}
}

// axesFromMask returns the axes set in mask, in increasing order.
func axesFromMask(mask uint64, rank int) []int {
	axes := make([]int, 0, rank)
	for axis := range rank {
		if mask&(1<<axis) != 0 {
			axes = append(axes, axis)
		}
	}
	return axes
}

func TestRoundTrip(t *testing.T) {
	parent := shapes.Make(dtypes.Float32, 4, 3, 2)
	tad := MustNew(parent, 1)
	defer tad.Release()
	require.Equal(t, 8, tad.NumTads())
	require.Equal(t, []int{3}, tad.TadDims())
	require.Equal(t, []int{2}, tad.TadStrides())
	require.Equal(t, 2, tad.TadShape().ElementWiseStride)
	require.False(t, tad.IsWholeArray())
	require.Equal(t, []int{0, 2}, tad.OuterAxes())
	require.Equal(t, []int{0, 1, 6, 7, 12, 13, 18, 19}, tad.Offsets())

	// Along the last axis, TADs are consecutive runs.
	tad = MustNew(shapes.Make(dtypes.Float32, 4, 2, 3), 2)
	defer tad.Release()
	require.Equal(t, 8, tad.NumTads())
	require.Equal(t, []int{3}, tad.TadDims())
	require.Equal(t, []int{1}, tad.TadStrides())
	require.Equal(t, []int{0, 3, 6, 9, 12, 15, 18, 21}, tad.Offsets())

	// Column-major parent.
	tad = MustNew(shapes.MakeWithOrder(dtypes.Float32, shapes.ColMajor, 4, 3, 2), 1)
	defer tad.Release()
	require.Equal(t, []int{3}, tad.TadDims())
	require.Equal(t, []int{4}, tad.TadStrides())
	require.Equal(t, []int{0, 12, 1, 13, 2, 14, 3, 15}, tad.Offsets())

	// Two reduced axes: the TAD keeps them in their original order.
	tad = MustNew(shapes.Make(dtypes.Float32, 2, 3, 4, 5), 1, 3)
	defer tad.Release()
	require.Equal(t, 8, tad.NumTads())
	require.Equal(t, []int{3, 5}, tad.TadDims())
	require.Equal(t, []int{20, 1}, tad.TadStrides())
	require.Equal(t, []int{0, 5, 10, 15, 60, 65, 70, 75}, tad.Offsets())
}

func TestScalar(t *testing.T) {
	parent := shapes.Make(dtypes.Float32, 1)
	tad := MustNew(parent, 0)
	defer tad.Release()
	require.True(t, tad.IsWholeArray())
	require.Equal(t, 1, tad.NumTads())
	require.Equal(t, 0, tad.OffsetOf(0))
	require.Equal(t, OutOfRange, tad.OffsetOf(1))
	require.True(t, tad.TadShapeAliasesParent())
	require.True(t, tad.TadShape().Equal(parent))

	// Rank-0 scalar without axes.
	tad = MustNew(shapes.Scalar(dtypes.Int32))
	defer tad.Release()
	require.True(t, tad.IsWholeArray())
	require.Equal(t, []int{0}, tad.Offsets())

	// An axis of dimension 1 yields one scalar TAD per element.
	parent = shapes.Make(dtypes.Float32, 5, 1, 3)
	tad = must.M1(Build(parent, 1).WithTadIndex(7).Done())
	defer tad.Release()
	require.Equal(t, 15, tad.NumTads())
	require.Equal(t, 0, tad.TadShape().Rank())
	require.Equal(t, 7, tad.TadShape().Offset)
	require.False(t, tad.IsWholeArray())
	require.Equal(t, xslices.Iota(0, 15), tad.Offsets())
}

func TestDegenerateAxes(t *testing.T) {
	parent := shapes.Make(dtypes.Float32, 5, 1, 3)
	collapsed := MustNew(parent, 0, 1)
	defer collapsed.Release()
	direct := MustNew(parent, 0)
	defer direct.Release()
	require.Equal(t, []int{0}, collapsed.Axes().Axes)
	require.Equal(t, []int{0, 1}, collapsed.OriginalAxes().Axes)
	require.True(t, collapsed.TadShape().Equal(direct.TadShape()))
	require.Equal(t, direct.NumTads(), collapsed.NumTads())
	require.Equal(t, 3, collapsed.NumTads())
	require.Equal(t, []int{5}, collapsed.TadDims())
	require.Equal(t, []int{3}, collapsed.TadStrides())
	require.Equal(t, []int{0, 1, 2}, collapsed.Offsets())
	require.Equal(t, direct.Offsets(), collapsed.Offsets())

	// Only axes of dimension 1, more than one: no-op, the whole array is one TAD.
	tad := MustNew(shapes.Make(dtypes.Float32, 1, 5, 1), 0, 2)
	defer tad.Release()
	require.True(t, tad.Axes().IsNoOp())
	require.True(t, tad.IsWholeArray())
	require.Equal(t, 1, tad.NumTads())
	require.Equal(t, []int{1, 5, 1}, tad.TadDims())
	require.False(t, tad.TadShapeAliasesParent())
}

func TestVectors(t *testing.T) {
	// Column vector along its only real axis is presented as a row vector.
	tad := MustNew(shapes.Make(dtypes.Float32, 5, 1), 0)
	defer tad.Release()
	require.Equal(t, []int{1, 5}, tad.TadDims())
	require.Equal(t, []int{1, 1}, tad.TadStrides())
	require.Equal(t, 1, tad.NumTads())
	require.True(t, tad.IsWholeArray())

	tad = MustNew(shapes.Make(dtypes.Float32, 1, 5), 1)
	defer tad.Release()
	require.Equal(t, []int{1, 5}, tad.TadDims())
	require.Equal(t, 1, tad.NumTads())

	tad = MustNew(shapes.Make(dtypes.Float32, 1, 5), 0)
	defer tad.Release()
	require.Equal(t, 0, tad.TadShape().Rank())
	require.Equal(t, 5, tad.NumTads())
	require.Equal(t, []int{0, 1, 2, 3, 4}, tad.Offsets())

	tad = MustNew(shapes.Make(dtypes.Float32, 6), -1)
	defer tad.Release()
	require.Equal(t, []int{6}, tad.TadDims())
	require.Equal(t, 1, tad.NumTads())
}

func TestNegativeAxes(t *testing.T) {
	for _, parent := range testParents() {
		rank := parent.Rank()
		for mask := uint64(1); mask < 1<<rank; mask++ {
			axes := axesFromMask(mask, rank)
			negAxes := slices.Clone(axes)
			for ii := range negAxes {
				negAxes[ii] -= rank
			}
			name := fmt.Sprintf("%s/%v", parent, axes)
			positive := MustNew(parent, axes...)
			negative := MustNew(parent, negAxes...)
			require.Truef(t, positive.TadShape().Equal(negative.TadShape()), "%s: %s != %s", name, positive.TadShape(), negative.TadShape())
			require.Equal(t, positive.NumTads(), negative.NumTads(), name)
			require.Equal(t, positive.IsWholeArray(), negative.IsWholeArray(), name)
			require.Equal(t, positive.Axes().Axes, negative.Axes().Axes, name)
			require.Equal(t, positive.Offsets(), negative.Offsets(), name)
			require.True(t, negative.OriginalAxes().Owned, name)
			positive.Release()
			negative.Release()
		}
	}
}

func TestProperties(t *testing.T) {
	for _, parent := range testParents() {
		rank := parent.Rank()
		for mask := uint64(0); mask < 1<<rank; mask++ {
			axes := axesFromMask(mask, rank)
			t.Run(fmt.Sprintf("%s/%v", parent, axes), func(t *testing.T) {
				tad := MustNew(parent, axes...)
				defer tad.Release()
				numTads := tad.NumTads()
				tadLen := tad.TadShape().Size()

				// TADs partition the parent.
				require.Equal(t, parent.Size(), numTads*tadLen)
				length, err := Length(parent, axes...)
				require.NoError(t, err)
				require.Equal(t, tadLen, length)
				count, err := Count(parent, axes...)
				require.NoError(t, err)
				require.Equal(t, numTads, count)

				// Whole array flag.
				wantWhole := numTads == 1 || parent.IsScalar() ||
					(bits.OnesCount64(mask) == rank && parent.ElementWiseStride == 1)
				require.Equal(t, wantWhole, tad.IsWholeArray())

				// Offsets table is deterministic, and agrees with OffsetOf.
				offsets := tad.Offsets()
				require.Len(t, offsets, numTads)
				require.Equal(t, offsets, tad.Offsets())
				for ii, offset := range offsets {
					require.Equal(t, offset, tad.OffsetOf(ii))
				}
				require.Equal(t, OutOfRange, tad.OffsetOf(numTads))
				require.Equal(t, OutOfRange, tad.OffsetOf(-1))

				// The elements of all TADs are exactly the elements of the parent.
				want := make(map[int]int)
				for _, offset := range parent.Offsets() {
					want[offset]++
				}
				got := make(map[int]int)
				for ii := range numTads {
					n := 0
					for offset := range tad.ElementOffsets(ii) {
						got[offset]++
						n++
					}
					require.Equal(t, tadLen, n)
				}
				require.Equal(t, want, got)

				// The TAD shape built at any index is positioned at that TAD.
				for _, tadIdx := range []int{0, numTads / 2, numTads - 1} {
					positioned := must.M1(Build(parent, axes...).WithTadIndex(tadIdx).Done())
					require.Equal(t, parent.Offset+tad.OffsetOf(tadIdx), positioned.TadShape().Offset)
					require.Equal(t, tad.TadDims(), positioned.TadDims())
					require.Equal(t, tad.TadStrides(), positioned.TadStrides())
					at, err := tad.TadShapeAt(tadIdx)
					require.NoError(t, err)
					require.True(t, at.Equal(positioned.TadShape()))
					positioned.Release()
				}
			})
		}
	}
}

func TestBuildErrors(t *testing.T) {
	parent := shapes.Make(dtypes.Float32, 4, 3, 2)
	_, err := New(parent, 3)
	require.True(t, errors.Is(err, ErrInvalidAxis))
	_, err = New(parent, -4)
	require.True(t, errors.Is(err, ErrInvalidAxis))
	require.Panics(t, func() { _ = MustNew(parent, 5) })

	_, err = Build(parent, 1).WithTadIndex(8).Done()
	require.True(t, errors.Is(err, shapes.ErrOutOfRange))
	_, err = Build(parent, 1).WithTadIndex(-1).Done()
	require.True(t, errors.Is(err, shapes.ErrOutOfRange))

	_, err = New(shapes.Shape{Dimensions: []int{2, 2}, Strides: []int{1}}, 0)
	require.Error(t, err)

	// Failed builds return their buffers.
	scratch := &countingScratch{base: HeapScratch{}}
	_, err = Build(parent, -1).WithTadIndex(100).WithScratch(scratch).Done()
	require.Error(t, err)
	require.Equal(t, 0, scratch.outstanding)
}

func TestFromExisting(t *testing.T) {
	parent := shapes.Make(dtypes.Float32, 4, 3, 2)
	tadShape := must.M1(shapes.MakeStrided(dtypes.Float32, shapes.RowMajor, []int{3}, []int{2}))
	tad := must.M1(FromExisting(parent, tadShape, 1))
	defer tad.Release()
	require.Equal(t, 8, tad.NumTads())
	require.Equal(t, []int{3}, tad.TadDims())
	require.Equal(t, []int{0, 1, 6, 7, 12, 13, 18, 19}, tad.Offsets())
	require.False(t, tad.TadShapeAliasesParent())

	_, err := FromExisting(parent, shapes.Make(dtypes.Float32, 4), 1)
	require.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestNewFromAxes(t *testing.T) {
	parent := shapes.Make(dtypes.Float32, 4, 3, 2)
	want := MustNew(parent, 0, 2)
	defer want.Release()
	for _, got := range []*TAD{
		must.M1(NewFromAxes(parent, []int32{0, 2})),
		must.M1(NewFromAxes(parent, []int64{0, -1})),
		must.M1(NewFromAxes(parent, []uint8{2, 0})),
	} {
		require.True(t, want.TadShape().Equal(got.TadShape()))
		require.Equal(t, want.Offsets(), got.Offsets())
		got.Release()
	}

	// Values that don't fit an int must not wrap around to negative axes.
	_, err := NewFromAxes(parent, []uint64{math.MaxUint64})
	require.ErrorIs(t, err, ErrInvalidAxis)
	_, err = NewFromAxes(parent, []uint32{math.MaxUint32})
	require.ErrorIs(t, err, ErrInvalidAxis)
	_, err = NewFromAxes(parent, []int64{1<<32 + 1})
	require.ErrorIs(t, err, ErrInvalidAxis)
	_, err = NewFromAxes(parent, []uint8{3})
	require.ErrorIs(t, err, ErrInvalidAxis)
}

func TestOwnership(t *testing.T) {
	parent := shapes.Make(dtypes.Float32, 2, 3, 4, 5)
	scratch := &countingScratch{base: HeapScratch{}}

	// Aliased caller axes: outer axes, TAD dimensions and strides are owned.
	axes := []int{1, 3}
	tad := must.M1(Build(parent, axes...).WithScratch(scratch).Done())
	require.False(t, tad.OriginalAxes().Owned)
	require.False(t, tad.Axes().Owned)
	require.Same(t, &axes[0], &tad.Axes().Axes[0])
	require.Equal(t, 3, tad.NumOwnedBuffers())
	require.Equal(t, 3, scratch.outstanding)
	tad.Release()
	require.Equal(t, 0, scratch.outstanding)
	tad.Release()
	require.Equal(t, 0, scratch.outstanding)

	// Negative axes are resolved into an owned buffer, and unsorted axes are normalized into another.
	tad = must.M1(Build(parent, 3, -3).WithScratch(scratch).Done())
	require.True(t, tad.OriginalAxes().Owned)
	require.True(t, tad.Axes().Owned)
	require.Equal(t, []int{1, 3}, tad.Axes().Axes)
	require.Equal(t, 5, tad.NumOwnedBuffers())
	require.Equal(t, 5, scratch.outstanding)
	tad.Release()
	require.Equal(t, 0, scratch.outstanding)

	// Scalar parent: the TAD shape is the parent itself.
	tad = must.M1(Build(shapes.Make(dtypes.Float32, 1, 1), 0).WithScratch(scratch).Done())
	require.True(t, tad.TadShapeAliasesParent())
	require.Equal(t, 1, tad.NumOwnedBuffers())
	tad.Release()
	require.Equal(t, 0, scratch.outstanding)

	// Sweep: every build returns everything on release.
	for _, parent := range testParents() {
		rank := parent.Rank()
		for mask := uint64(0); mask < 1<<rank; mask++ {
			tad := must.M1(Build(parent, axesFromMask(mask, rank)...).WithScratch(scratch).Done())
			require.Equal(t, tad.NumOwnedBuffers(), scratch.outstanding)
			tad.Release()
			require.Equal(t, 0, scratch.outstanding)
		}
	}
}

func TestLanes(t *testing.T) {
	pool := NewLanePool(2, BuffersPerBuild)
	require.Equal(t, 2, pool.NumLanes())
	parent := shapes.Make(dtypes.Float32, 2, 3, 4, 5)
	lane := pool.Lane(1)
	require.Equal(t, 1, lane.ID())
	tad := must.M1(Build(parent, -1, 1).WithScratch(lane).Done())
	require.Equal(t, tad.NumOwnedBuffers(), lane.Outstanding())
	require.Equal(t, 0, pool.Lane(0).Outstanding())
	require.Equal(t, []int{3, 5}, tad.TadDims())
	tad.Release()
	require.Equal(t, 0, lane.Outstanding())

	// A lane too small for the build panics instead of allocating.
	small := NewLanePool(1, 2).Lane(0)
	require.Panics(t, func() { _, _ = Build(parent, 1, 3).WithScratch(small).Done() })
	require.Panics(t, func() { pool.Lane(2) })
}
