// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the descriptor of a dense strided array, and the tools to
// derive new descriptors (permutations, slices) from it.
//
// A Shape describes how the elements of an N-dimensional array are laid out in a flat buffer:
// the dimension (extent) of each axis, the stride (in elements, not bytes) to move one unit
// along each axis, the memory order the strides were derived from and the offset of the
// array's first element in the buffer.
//
// ## Glossary
//
//   - Rank: number of axes of the array.
//   - Axis: the index of a dimension. Negative axes count from the end: -1 is the last axis.
//   - Dimension: the size of the array along one axis.
//   - Stride: number of buffer elements to skip to advance one unit along an axis.
//   - Element-wise stride: the single stride that visits all elements of the array, in its
//     declared order, as one run. NoElementWiseStride if there is no such stride.
//   - Scalar: a shape with exactly one element. Scalar() creates the canonical rank-0 one.
//
// Example: a row-major `[4, 3, 2]` array has strides `[6, 2, 1]` and element-wise stride 1.
// Its transposition `[2, 3, 4]` has strides `[1, 2, 6]`, which is a column-major layout, so it
// also has element-wise stride 1 but Order ColMajor.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// MaxRank is the largest rank supported. Hot paths use fixed-size `[MaxRank]int` arrays
// to avoid allocations.
const MaxRank = 32

// NoElementWiseStride is the value of Shape.ElementWiseStride when the array cannot be
// traversed as a single run with a constant stride.
const NoElementWiseStride = 0

// Shape describes a dense strided array. Once constructed it should be treated as immutable:
// functions that derive new shapes always return fresh copies.
//
// Use Make, MakeWithOrder or MakeStrided to create a new shape.
type Shape struct {
	// DType is optional, it is only used to account for memory.
	DType dtypes.DType

	Dimensions []int
	Strides    []int
	Order      Order

	// ElementWiseStride is derived from Dimensions, Strides and Order on construction.
	ElementWiseStride int

	// Offset is the position of the first element of the array in the underlying buffer.
	Offset int
}

// Make returns a contiguous row-major Shape with the given dimensions.
//
// It panics if any dimension is <= 0 or if the rank is larger than MaxRank.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	return MakeWithOrder(dtype, RowMajor, dimensions...)
}

// MakeWithOrder returns a contiguous Shape with the strides laid out in the given order.
//
// It panics if any dimension is <= 0, if the rank is larger than MaxRank or if the order is invalid.
func MakeWithOrder(dtype dtypes.DType, order Order, dimensions ...int) Shape {
	if err := checkDimensions(dimensions); err != nil {
		exceptions.Panicf("shapes.MakeWithOrder(%s, %s, %v): %v", dtype, order, dimensions, err)
	}
	var strides []int
	switch order {
	case RowMajor:
		strides = RowMajorStrides(dimensions)
	case ColMajor:
		strides = ColMajorStrides(dimensions)
	default:
		exceptions.Panicf("shapes.MakeWithOrder(%s, %s, %v): invalid order", dtype, order, dimensions)
	}
	s := Shape{
		DType:      dtype,
		Dimensions: slices.Clone(dimensions),
		Strides:    strides,
		Order:      order,
	}
	s.ElementWiseStride = 1
	if s.Rank() == 0 {
		s.Strides = nil
	}
	return s
}

// MakeStrided returns a Shape with externally supplied strides, which may be arbitrary
// (negative, overlapping, non-contiguous). The order is used as the declared layout when
// computing the element-wise stride; if the strides are not consistent with it but are
// consistent with the other order, the other order is used.
func MakeStrided(dtype dtypes.DType, order Order, dimensions, strides []int) (Shape, error) {
	if err := checkDimensions(dimensions); err != nil {
		return Shape{}, err
	}
	if len(strides) != len(dimensions) {
		return Shape{}, errors.Errorf("shapes.MakeStrided: got %d strides for %d dimensions", len(strides), len(dimensions))
	}
	if !order.IsValid() {
		return Shape{}, errors.Errorf("shapes.MakeStrided: invalid order %s", order)
	}
	s := Shape{
		DType:      dtype,
		Dimensions: slices.Clone(dimensions),
		Strides:    slices.Clone(strides),
	}
	s.deriveLayout(order)
	return s, nil
}

// Scalar returns a rank-0 shape with one element.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype, Order: RowMajor, ElementWiseStride: 1}
}

// ErrInvalidDimensions is returned when the rank is larger than MaxRank or a dimension is not positive.
var ErrInvalidDimensions = errors.New("invalid dimensions")

func checkDimensions(dimensions []int) error {
	if len(dimensions) > MaxRank {
		return errors.Wrapf(ErrInvalidDimensions, "rank %d is larger than MaxRank=%d", len(dimensions), MaxRank)
	}
	for axis, dim := range dimensions {
		if dim <= 0 {
			return errors.Wrapf(ErrInvalidDimensions, "axis %d has dimension %d, it must be > 0", axis, dim)
		}
	}
	return nil
}

// deriveLayout sets Order and ElementWiseStride from Dimensions and Strides, preferring the given order.
func (s *Shape) deriveLayout(preferred Order) {
	s.Order = InferOrder(s.Dimensions, s.Strides, preferred)
	s.ElementWiseStride = ComputeElementWiseStride(s.Dimensions, s.Strides, s.Order)
}

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Size returns the number of elements of the array: the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	return s.Dimensions[s.adjustAxis("Dim", axis)]
}

// Stride returns the stride of the given axis. Negative axes count from the end.
// It panics for an out-of-bound axis.
func (s Shape) Stride(axis int) int {
	return s.Strides[s.adjustAxis("Stride", axis)]
}

func (s Shape) adjustAxis(method string, axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.%s(%d) out-of-bounds for rank %d (shape=%s)", method, axis, s.Rank(), s)
	}
	return adjustedAxis
}

// IsScalar returns whether the shape holds exactly one element, regardless of its rank.
func (s Shape) IsScalar() bool { return s.Size() == 1 }

// IsVector returns whether the shape is rank 1, or rank 2 with one of its dimensions equal to 1.
func (s Shape) IsVector() bool {
	switch s.Rank() {
	case 1:
		return true
	case 2:
		return s.Dimensions[0] == 1 || s.Dimensions[1] == 1
	}
	return false
}

// IsRowVector returns whether the shape is rank 1, or a rank-2 shape of the form `[1, n]`.
func (s Shape) IsRowVector() bool {
	return s.Rank() == 1 || (s.Rank() == 2 && s.Dimensions[0] == 1)
}

// IsColumnVector returns whether the shape is of the form `[n, 1]`.
func (s Shape) IsColumnVector() bool {
	return s.Rank() == 2 && s.Dimensions[1] == 1
}

// IsContiguous returns whether all elements can be visited with a step of 1 in the declared order.
func (s Shape) IsContiguous() bool { return s.ElementWiseStride == 1 }

// Slices returns the dimension of the leading axis: the number of slices SliceAt can take.
// For a scalar it returns 0.
func (s Shape) Slices() int {
	if s.Rank() == 0 {
		return 0
	}
	return s.Dimensions[0]
}

// LengthPerSlice returns the number of elements in each slice along the leading axis.
func (s Shape) LengthPerSlice() int {
	if s.Rank() == 0 {
		return 1
	}
	return s.Size() / s.Dimensions[0]
}

// Memory returns the number of bytes spanned by the elements of the shape, assuming a dense layout.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	s2 := s
	s2.Dimensions = slices.Clone(s.Dimensions)
	s2.Strides = slices.Clone(s.Strides)
	return s2
}

// Equal compares two shapes: dtype, dimensions, strides, order and offset.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && s.Order == s2.Order && s.Offset == s2.Offset &&
		s.ElementWiseStride == s2.ElementWiseStride &&
		slices.Equal(s.Dimensions, s2.Dimensions) && slices.Equal(s.Strides, s2.Strides)
}

// EqualDimensions compares only the dimensions of the two shapes.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// String implements fmt.Stringer, pretty-prints the shape.
// E.g.: `(Float32)[4 3 2]{6 2 1}c` or `(Float32)[3]{2}c@4` if the offset is not 0.
func (s Shape) String() string {
	str := fmt.Sprintf("(%s)%v{%s}%s", s.DType, s.Dimensions, joinInts(s.Strides), s.Order)
	if s.Offset != 0 {
		str = fmt.Sprintf("%s@%d", str, s.Offset)
	}
	return str
}

func joinInts(values []int) string {
	var str string
	for ii, v := range values {
		if ii > 0 {
			str += " "
		}
		str += fmt.Sprint(v)
	}
	return str
}
