// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/pkg/errors"
)

// ErrMalformedShapeInfo is returned by Decode when the flat buffer doesn't hold a valid shape.
var ErrMalformedShapeInfo = errors.New("malformed shape info")

// malformedShapeInfoError is an ErrMalformedShapeInfo that keeps the error that caused it.
type malformedShapeInfoError struct {
	cause error
}

func (e malformedShapeInfoError) Error() string {
	return ErrMalformedShapeInfo.Error() + ": " + e.cause.Error()
}

// Is reports the error as ErrMalformedShapeInfo, the cause is reached through Unwrap.
func (e malformedShapeInfoError) Is(target error) bool { return target == ErrMalformedShapeInfo }

func (e malformedShapeInfoError) Unwrap() error { return e.cause }

// InfoLength returns the length of the flat shape-info buffer for the given rank.
//
// The layout is: `[rank, dimensions..., strides..., offset, elementWiseStride, order]`.
func InfoLength(rank int) int { return 2*rank + 4 }

// Encode the shape into the flat shape-info layout described in InfoLength.
// The DType is not encoded.
func Encode(s Shape) []int {
	return EncodeInto(make([]int, 0, InfoLength(s.Rank())), s)
}

// EncodeInto appends the encoded shape to buf and returns it.
func EncodeInto(buf []int, s Shape) []int {
	buf = append(buf, s.Rank())
	buf = append(buf, s.Dimensions...)
	buf = append(buf, s.Strides...)
	return append(buf, s.Offset, s.ElementWiseStride, int(s.Order))
}

// Decode a flat shape-info buffer. The element-wise stride stored in the buffer is kept as a cache,
// but it must agree with the one derived from the strides.
func Decode(buf []int) (Shape, error) {
	if len(buf) < 1 {
		return Shape{}, errors.Wrap(ErrMalformedShapeInfo, "empty buffer")
	}
	rank := buf[0]
	if rank < 0 || rank > MaxRank {
		return Shape{}, errors.Wrapf(ErrMalformedShapeInfo, "rank %d not in [0, %d]", rank, MaxRank)
	}
	if len(buf) != InfoLength(rank) {
		return Shape{}, errors.Wrapf(ErrMalformedShapeInfo, "buffer of length %d for rank %d, wanted length %d",
			len(buf), rank, InfoLength(rank))
	}
	order := Order(buf[2*rank+3])
	if !order.IsValid() {
		return Shape{}, errors.Wrapf(ErrMalformedShapeInfo, "invalid order %d", buf[2*rank+3])
	}
	s, err := MakeStrided(0, order, buf[1:1+rank], buf[1+rank:1+2*rank])
	if err != nil {
		return Shape{}, errors.WithStack(malformedShapeInfoError{cause: err})
	}
	s.Offset = buf[2*rank+1]
	if rank == 0 {
		s.Dimensions, s.Strides = nil, nil
	}
	if ews := buf[2*rank+2]; ews != s.ElementWiseStride {
		return Shape{}, errors.Wrapf(ErrMalformedShapeInfo, "element-wise stride %d doesn't match strides %v (expected %d)",
			ews, s.Strides, s.ElementWiseStride)
	}
	return s, nil
}
