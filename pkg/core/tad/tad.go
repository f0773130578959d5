// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tad computes the metadata to decompose a dense strided array into
// tensors-along-dimensions (TADs).
//
// A TAD is the sub-array obtained by letting a chosen set of axes (the reduced, or inner, axes)
// vary while the remaining axes (the outer axes) are fixed. There is one TAD per combination of
// the outer axes' indices, and each TAD is a view into the parent's buffer: reduction and
// axis-wise kernels use the TAD shape (dimensions and strides of one TAD), the number of TADs
// and the offset of each TAD in the parent's buffer.
//
// Example: a row-major array of shape `[4, 3, 2]` along axis 1 has 8 TADs of shape `[3]` and
// stride 2, starting at offsets `0, 1, 6, 7, 12, 13, 18, 19`.
//
// To build a TAD use New, or Build for more options:
//
//	t, err := tad.Build(parent, 1).WithTadIndex(0).Done()
//	if err != nil { ... }
//	defer t.Release()
//	for i, offset := range t.Offsets() { ... }
package tad

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/gomlx/tad/internal/workerspool"
	"github.com/gomlx/tad/pkg/core/shapes"
	"github.com/gomlx/tad/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// ErrShapeMismatch is returned when the length of one TAD doesn't divide the length of the parent.
var ErrShapeMismatch = errors.New("shape mismatch")

// TAD holds the metadata of the decomposition of a parent shape into tensors along the given axes.
//
// It is immutable after construction, except for the offsets table, which is built on first
// request and cached. A TAD can be used concurrently, except for Release.
type TAD struct {
	parent       shapes.Shape
	originalAxes AxisSet
	axes         AxisSet
	outerAxes    []int
	tadIndex     int

	tadShape        shapes.Shape
	tadShapeAliased bool
	numTads         int
	wholeArray      bool

	// Buffers drawn from scratch and owned by the TAD, returned by Release.
	scratch  Scratch
	owned    [BuffersPerBuild][]int
	numOwned int
	released bool

	pool         *workerspool.Pool
	minPerWorker int
	offsetsOnce  sync.Once
	offsets      []int
}

// Builder configures the construction of a TAD. Create it with Build, and finish with Done.
type Builder struct {
	parent   shapes.Shape
	axes     []int
	tadIndex int
	scratch  Scratch
	config   *Config
	tadShape *shapes.Shape

	// pool, if set, is shared with other TADs and takes precedence over config.
	pool         *workerspool.Pool
	minPerWorker int
}

// Build starts the construction of a TAD of the parent shape along the given axes.
// Negative axes count from the end.
//
// The parent shape is never modified, and axes may be aliased by the TAD: the caller must not
// change them while the TAD is in use.
func Build(parent shapes.Shape, axes ...int) *Builder {
	return &Builder{parent: parent, axes: axes, scratch: DefaultScratch}
}

// WithTadIndex sets which TAD the shape returned by TAD.TadShape is positioned at: its Offset
// will be the one of TAD tadIndex. Default is 0.
func (b *Builder) WithTadIndex(tadIndex int) *Builder {
	b.tadIndex = tadIndex
	return b
}

// WithScratch sets the allocator of the temporary and owned buffers. Default is DefaultScratch.
//
// Use a Lane from a LanePool for contexts that must not allocate.
func (b *Builder) WithScratch(scratch Scratch) *Builder {
	b.scratch = scratch
	return b
}

// WithConfig sets the parallelism configuration used to build the offsets table.
// Default is DefaultConfig.
func (b *Builder) WithConfig(config Config) *Builder {
	b.config = &config
	return b
}

// WithTadShape adopts an externally built shape for one TAD instead of deriving it from
// the parent. See FromExisting.
func (b *Builder) WithTadShape(tadShape shapes.Shape) *Builder {
	b.tadShape = &tadShape
	return b
}

// New builds the TAD of the parent shape along the given axes, with the default options.
// See Build for more options.
func New(parent shapes.Shape, axes ...int) (*TAD, error) {
	return Build(parent, axes...).Done()
}

// MustNew is like New, but panics on error.
func MustNew(parent shapes.Shape, axes ...int) *TAD {
	return must.M1(New(parent, axes...))
}

// NewFromAxes is like New, but accepts axes of any integer type.
func NewFromAxes[T constraints.Integer](parent shapes.Shape, axes []T) (*TAD, error) {
	var intAxes [shapes.MaxRank]int
	if len(axes) > shapes.MaxRank {
		return nil, errors.Wrapf(ErrInvalidAxis, "%d axes given, at most %d are supported", len(axes), shapes.MaxRank)
	}
	for ii, axis := range axes {
		// Checked as uint64 so unsigned values that don't fit an int can't wrap to negative axes.
		if axis > 0 && uint64(axis) > uint64(shapes.MaxRank) {
			return nil, errors.Wrapf(ErrInvalidAxis, "axis %d out of range for rank %d (axes=%v)", axis, parent.Rank(), axes)
		}
		intAxes[ii] = int(axis)
	}
	return Build(parent, intAxes[:len(axes)]...).Done()
}

// FromExisting creates a TAD from an externally built shape of one TAD, positioned at TAD 0.
//
// The tadShape is copied, and must have as many elements as the axes select from the parent,
// otherwise it returns an error wrapping ErrShapeMismatch.
func FromExisting(parent, tadShape shapes.Shape, axes ...int) (*TAD, error) {
	return Build(parent, axes...).WithTadShape(tadShape).Done()
}

// Done builds the TAD.
//
// It returns an error if the parent shape is invalid, if an axis is out of range (ErrInvalidAxis),
// if the TAD index is out of range (shapes.ErrOutOfRange) or if the length of one TAD doesn't
// divide the length of the parent (ErrShapeMismatch).
func (b *Builder) Done() (t *TAD, err error) {
	scratch := b.scratch
	if scratch == nil {
		scratch = DefaultScratch
	}
	t = &TAD{
		parent:   b.parent,
		tadIndex: b.tadIndex,
		scratch:  scratch,
	}
	if b.pool != nil {
		t.pool, t.minPerWorker = b.pool, max(b.minPerWorker, 1)
	} else if b.config != nil {
		t.pool = workerspool.New(b.config.Parallelism)
		t.minPerWorker = max(b.config.MinTadsPerWorker, 1)
	}
	defer func() {
		if err != nil {
			t.Release()
			t = nil
		}
	}()
	if err = t.parent.CheckValid(); err != nil {
		return t, errors.WithMessage(err, "tad.Build()")
	}
	if t.tadIndex < 0 {
		return t, errors.Wrapf(shapes.ErrOutOfRange, "tad.Build(%s, %v): negative TAD index %d", t.parent, b.axes, t.tadIndex)
	}
	if err = t.normalize(b.axes); err != nil {
		return t, errors.WithMessagef(err, "tad.Build(%s, %v)", t.parent, b.axes)
	}

	// Scalar and external TAD shapes are positioned at the TAD index once the offsets are known.
	reposition := false
	switch {
	case b.tadShape != nil:
		klog.V(2).Infof("tad.Build(%s, %v): adopting external TAD shape %s", t.parent, b.axes, b.tadShape)
		err = t.adoptTadShape(*b.tadShape)
		reposition = true
	case t.parent.IsScalar():
		klog.V(2).Infof("tad.Build(%s, %v): scalar parent", t.parent, b.axes)
		t.tadShape = t.parent
		t.tadShapeAliased = true
	case t.isScalarTadRequest():
		klog.V(2).Infof("tad.Build(%s, %v): axis of dimension 1, scalar TADs", t.parent, b.axes)
		t.tadShape = shapes.Scalar(t.parent.DType)
		reposition = true
	case t.axes.IsNoOp():
		klog.V(2).Infof("tad.Build(%s, %v): no-op axes, whole array", t.parent, b.axes)
		t.copyParent()
	case t.axes.Len() == 1 && t.parent.IsVector():
		klog.V(2).Infof("tad.Build(%s, %v): vector along axis %d", t.parent, b.axes, t.axes.Axes[0])
		err = t.buildVector()
	default:
		err = t.buildGeneral()
	}
	if err != nil {
		return t, errors.WithMessagef(err, "tad.Build(%s, %v)", t.parent, b.axes)
	}

	tadLen := t.tadShape.Size()
	if t.parent.Size()%tadLen != 0 {
		return t, errors.Wrapf(ErrShapeMismatch, "tad.Build(%s, %v): TAD shape %s has %d elements, which doesn't divide the %d elements of the parent",
			t.parent, b.axes, t.tadShape, tadLen, t.parent.Size())
	}
	t.numTads = t.parent.Size() / tadLen
	if t.tadIndex >= t.numTads {
		return t, errors.Wrapf(shapes.ErrOutOfRange, "tad.Build(%s, %v): TAD index %d, but there are only %d TADs",
			t.parent, b.axes, t.tadIndex, t.numTads)
	}
	t.wholeArray = t.numTads == 1 || t.parent.IsScalar() ||
		(bits.OnesCount64(t.originalAxes.mask()) == t.parent.Rank() && t.parent.ElementWiseStride == 1)
	if reposition {
		t.tadShape.Offset = t.parent.Offset + t.OffsetOf(t.tadIndex)
	}
	klog.V(2).Infof("tad.Build(%s, %v): axes=%v, TAD shape %s, %d TADs, whole array=%v",
		t.parent, b.axes, t.axes.Axes, t.tadShape, t.numTads, t.wholeArray)
	return t, nil
}

// draw a buffer from scratch, owned by the TAD.
func (t *TAD) draw(n int) []int {
	buf := t.scratch.Get(n)
	t.own(buf)
	return buf
}

func (t *TAD) own(buf []int) {
	t.owned[t.numOwned] = buf
	t.numOwned++
}

// normalize resolves and collapses the caller's axes, and lists the outer axes.
func (t *TAD) normalize(axes []int) error {
	var err error
	t.originalAxes, err = resolveAxes(t.parent.Rank(), axes, t.scratch)
	if err != nil {
		return err
	}
	if t.originalAxes.Owned {
		t.own(t.originalAxes.Axes)
	}
	var buf []int
	t.axes, buf = collapseAxes(t.parent.Dimensions, t.originalAxes, t.scratch)
	if buf != nil {
		t.own(buf)
	}
	t.outerAxes = OuterAxes(t.parent.Rank(), t.axes, t.draw(t.parent.Rank()))
	return nil
}

// isScalarTadRequest returns whether the caller asked for exactly one axis, and it has dimension 1.
func (t *TAD) isScalarTadRequest() bool {
	return len(t.originalAxes.Axes) == 1 && !t.originalAxes.IsNoOp() &&
		t.parent.Dimensions[t.originalAxes.Axes[0]] == 1
}

// workShape returns an empty shape with dimensions and strides buffers owned by the TAD.
func (t *TAD) workShape() shapes.Shape {
	rank := t.parent.Rank()
	return shapes.Shape{Dimensions: t.draw(rank)[:0], Strides: t.draw(rank)[:0]}
}

// copyParent sets the TAD shape to a copy of the parent.
func (t *TAD) copyParent() {
	dims, strides := t.draw(t.parent.Rank()), t.draw(t.parent.Rank())
	copy(dims, t.parent.Dimensions)
	copy(strides, t.parent.Strides)
	t.tadShape = t.parent
	t.tadShape.Dimensions, t.tadShape.Strides = dims, strides
}

// buildVector handles a vector parent along its only non-trivial axis: the TAD is the whole
// vector, and a column vector `[n, 1]` is presented as a row vector `[1, n]`.
func (t *TAD) buildVector() error {
	if t.parent.IsColumnVector() && t.axes.Axes[0] == 0 {
		t.tadShape = t.workShape()
		return shapes.PermuteInto(&t.tadShape, t.parent, []int{1, 0})
	}
	t.copyParent()
	return nil
}

// buildGeneral derives the TAD shape from the parent permuted with the outer axes first: the outer
// axes are sliced away, one at a time, at the indices of TAD t.tadIndex.
func (t *TAD) buildGeneral() error {
	rank := t.parent.Rank()
	perm := t.scratch.Get(rank)
	perm = PlanPermutation(rank, t.axes, perm)
	work := t.workShape()
	err := shapes.PermuteInto(&work, t.parent, perm)
	if err == nil {
		klog.V(3).Infof("tad: permutation %v, permuted parent %s", perm, work)
	}
	t.scratch.Put(perm)
	if err != nil {
		return err
	}

	numAxes := t.axes.Len()
	numOuter := rank - numAxes
	tensorLen := xslices.Product(work.Dimensions[numOuter:])
	var outerDims [shapes.MaxRank]int
	copy(outerDims[:numOuter], work.Dimensions[:numOuter])
	for sliced := 0; (work.Size() > tensorLen || work.Rank() > numAxes) && sliced < numOuter; sliced++ {
		divisor := xslices.Product(outerDims[sliced+1 : numOuter])
		sliceIdx := (t.tadIndex / divisor) % work.Slices()
		if err = shapes.SliceAtInto(&work, work, sliceIdx); err != nil {
			return err
		}
	}

	// Reduced axes were appended in reverse order: reverse them back, except for row vectors.
	if !(work.Rank() == 2 && work.Dimensions[0] == 1) {
		var reversed [shapes.MaxRank]int
		workRank := work.Rank()
		for axis := range workRank {
			reversed[axis] = workRank - 1 - axis
		}
		if err = shapes.PermuteInto(&work, work, reversed[:workRank]); err != nil {
			return err
		}
	}
	t.tadShape = work
	return nil
}

// adoptTadShape copies an externally built TAD shape, and checks it has the expected length.
func (t *TAD) adoptTadShape(tadShape shapes.Shape) error {
	if err := tadShape.CheckValid(); err != nil {
		return err
	}
	if want := tadLength(t.parent, t.originalAxes, t.axes); tadShape.Size() != want {
		return errors.Wrapf(ErrShapeMismatch, "external TAD shape %s has %d elements, the axes select %d",
			tadShape, tadShape.Size(), want)
	}
	rank := tadShape.Rank()
	dims, strides := t.draw(rank), t.draw(rank)
	copy(dims, tadShape.Dimensions)
	copy(strides, tadShape.Strides)
	t.tadShape = tadShape
	t.tadShape.Dimensions, t.tadShape.Strides = dims, strides
	if rank == 0 {
		t.tadShape.Dimensions, t.tadShape.Strides = nil, nil
	}
	return nil
}

// tadLength returns the number of elements of one TAD, given the resolved and the normalized axes.
func tadLength(parent shapes.Shape, original, normalized AxisSet) int {
	if parent.IsScalar() {
		return 1
	}
	if len(original.Axes) == 1 && !original.IsNoOp() && parent.Dimensions[original.Axes[0]] == 1 {
		return 1
	}
	if normalized.IsNoOp() {
		return parent.Size()
	}
	var dims [shapes.MaxRank]int
	for ii, axis := range normalized.Axes {
		dims[ii] = parent.Dimensions[axis]
	}
	return xslices.Product(dims[:len(normalized.Axes)])
}

// Length returns the number of elements of each TAD of the parent shape along the given axes.
func Length(parent shapes.Shape, axes ...int) (int, error) {
	original, err := resolveAxes(parent.Rank(), axes, allocScratch{})
	if err != nil {
		return 0, errors.WithMessagef(err, "tad.Length(%s, %v)", parent, axes)
	}
	normalized, _ := collapseAxes(parent.Dimensions, original, allocScratch{})
	return tadLength(parent, original, normalized), nil
}

// Count returns the number of TADs of the parent shape along the given axes.
func Count(parent shapes.Shape, axes ...int) (int, error) {
	length, err := Length(parent, axes...)
	if err != nil {
		return 0, err
	}
	return parent.Size() / length, nil
}

// Release returns the buffers owned by the TAD to its Scratch. It is safe to call it more than
// once, but the TAD (and the shapes and axes returned by it) must not be used after it.
func (t *TAD) Release() {
	if t == nil || t.released {
		return
	}
	t.released = true
	klog.V(3).Infof("tad: releasing %d scratch buffers", t.numOwned)
	for ii := range t.numOwned {
		t.scratch.Put(t.owned[ii])
		t.owned[ii] = nil
	}
	t.numOwned = 0
}

// NumOwnedBuffers returns the number of scratch buffers owned by the TAD, to be returned on Release.
func (t *TAD) NumOwnedBuffers() int { return t.numOwned }

// Parent returns the parent shape.
func (t *TAD) Parent() shapes.Shape { return t.parent }

// Axes returns the normalized axes.
func (t *TAD) Axes() AxisSet { return t.axes }

// OriginalAxes returns the axes given by the caller, with negative axes resolved.
func (t *TAD) OriginalAxes() AxisSet { return t.originalAxes }

// OuterAxes returns the axes that are not reduced, in increasing order.
func (t *TAD) OuterAxes() []int { return t.outerAxes }

// TadIndex returns the index of the TAD at which TadShape is positioned.
func (t *TAD) TadIndex() int { return t.tadIndex }

// TadShape returns the shape of one TAD, positioned at TAD TadIndex: its Offset is
// Parent().Offset + OffsetOf(TadIndex()).
//
// The returned shape shares its buffers with the TAD: don't modify it.
func (t *TAD) TadShape() shapes.Shape { return t.tadShape }

// TadDims returns the dimensions of one TAD.
func (t *TAD) TadDims() []int { return t.tadShape.Dimensions }

// TadStrides returns the strides of one TAD.
func (t *TAD) TadStrides() []int { return t.tadShape.Strides }

// TadShapeAliasesParent returns whether the TAD shape is the parent shape itself, as opposed
// to a copy owned by the TAD.
func (t *TAD) TadShapeAliasesParent() bool { return t.tadShapeAliased }

// NumTads returns the number of TADs.
func (t *TAD) NumTads() int { return t.numTads }

// IsWholeArray returns whether the parent is a single TAD, in which case offsets are the identity.
func (t *TAD) IsWholeArray() bool { return t.wholeArray }

// String implements fmt.Stringer.
func (t *TAD) String() string {
	return fmt.Sprintf("TAD(%s, axes=%v): %d x %s", t.parent, t.axes.Axes, t.numTads, t.tadShape)
}
