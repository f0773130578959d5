// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidPermutation is returned when an axis order is not a permutation of 0..rank-1.
	ErrInvalidPermutation = errors.New("invalid permutation")

	// ErrOutOfRange is returned when an index falls outside the dimension it indexes.
	ErrOutOfRange = errors.New("index out of range")
)

// CheckPermutation returns an error wrapping ErrInvalidPermutation if axisOrder is not a
// bijection over 0..rank-1.
func CheckPermutation(rank int, axisOrder []int) error {
	if len(axisOrder) != rank {
		return errors.Wrapf(ErrInvalidPermutation, "got %d axes for rank %d (%v)", len(axisOrder), rank, axisOrder)
	}
	var seen uint64
	for _, axis := range axisOrder {
		if axis < 0 || axis >= rank {
			return errors.Wrapf(ErrInvalidPermutation, "axis %d out of range for rank %d (%v)", axis, rank, axisOrder)
		}
		if seen&(1<<axis) != 0 {
			return errors.Wrapf(ErrInvalidPermutation, "axis %d repeated in %v", axis, axisOrder)
		}
		seen |= 1 << axis
	}
	return nil
}

// Permute returns a new shape with the axes reordered: the output axis `i` is the input axis
// `axisOrder[i]`. The offset is preserved, the order and element-wise stride are re-derived from
// the new strides.
func Permute(s Shape, axisOrder []int) (Shape, error) {
	var out Shape
	if err := PermuteInto(&out, s, axisOrder); err != nil {
		return Shape{}, err
	}
	return out, nil
}

// PermuteInto writes the permutation of src into dst, reusing the dimensions and strides slices
// of dst if they have enough capacity. dst and src may be the same shape.
func PermuteInto(dst *Shape, src Shape, axisOrder []int) error {
	rank := src.Rank()
	if err := CheckPermutation(rank, axisOrder); err != nil {
		return errors.WithMessagef(err, "Permute(%s)", src)
	}
	var dims, strides [MaxRank]int
	for axis, srcAxis := range axisOrder {
		dims[axis] = src.Dimensions[srcAxis]
		strides[axis] = src.Strides[srcAxis]
	}
	dtype, order, offset := src.DType, src.Order, src.Offset
	dst.DType = dtype
	dst.Offset = offset
	dst.Dimensions = append(dst.Dimensions[:0], dims[:rank]...)
	dst.Strides = append(dst.Strides[:0], strides[:rank]...)
	if rank == 0 {
		dst.Dimensions, dst.Strides = nil, nil
	}
	dst.deriveLayout(order)
	return nil
}

// Transpose reverses the order of all axes.
func Transpose(s Shape) Shape {
	rank := s.Rank()
	var axisOrder [MaxRank]int
	for axis := range rank {
		axisOrder[axis] = rank - 1 - axis
	}
	out, err := Permute(s, axisOrder[:rank])
	if err != nil {
		// A reversed range is always a valid permutation.
		panic(err)
	}
	return out
}

// SliceAt returns the shape of the sub-array obtained by fixing the leading axis at index:
// the rank is reduced by one, the remaining dimensions and strides are unchanged and the
// offset is advanced by index times the leading stride.
func SliceAt(s Shape, index int) (Shape, error) {
	var out Shape
	if err := SliceAtInto(&out, s, index); err != nil {
		return Shape{}, err
	}
	return out, nil
}

// SliceAtInto writes the result of SliceAt into dst, reusing its dimensions and strides slices
// if they have enough capacity. dst and src may be the same shape.
func SliceAtInto(dst *Shape, src Shape, index int) error {
	rank := src.Rank()
	if rank == 0 {
		return errors.Errorf("SliceAt(%s, %d): cannot slice a rank-0 shape", src, index)
	}
	if index < 0 || index >= src.Dimensions[0] {
		return errors.Wrapf(ErrOutOfRange, "SliceAt(%s, %d): leading dimension is %d", src, index, src.Dimensions[0])
	}
	var dims, strides [MaxRank]int
	copy(dims[:], src.Dimensions[1:])
	copy(strides[:], src.Strides[1:])
	dtype, order := src.DType, src.Order
	offset := src.Offset + index*src.Strides[0]
	dst.DType = dtype
	dst.Offset = offset
	if rank == 1 {
		dst.Dimensions, dst.Strides = nil, nil
	} else {
		dst.Dimensions = append(dst.Dimensions[:0], dims[:rank-1]...)
		dst.Strides = append(dst.Strides[:0], strides[:rank-1]...)
	}
	dst.deriveLayout(order)
	return nil
}
