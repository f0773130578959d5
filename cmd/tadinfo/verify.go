// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/gomlx/tad/pkg/core/tad"
	"github.com/pkg/errors"
)

// coverage is the result of checking that the TADs visit every element of the parent exactly once.
type coverage struct {
	// Elements of the parent, and how many of those were visited exactly once.
	numElements, numCovered int

	// Buffer offsets visited more than once, or never visited, or visited but not part of the parent.
	duplicated, missing, foreign []int
}

// OK returns whether every element was visited exactly once.
func (c coverage) OK() bool {
	return c.numCovered == c.numElements && len(c.duplicated) == 0 && len(c.missing) == 0 && len(c.foreign) == 0
}

// maxReported limits the number of offsets listed in each category of coverage.
const maxReported = 16

// verifyCoverage walks the elements of every TAD, calling onTad after each one.
//
// It returns an error if the parent itself has overlapping elements (e.g. a stride 0), in which
// case coverage is not well-defined.
func verifyCoverage(t *tad.TAD, onTad func()) (coverage, error) {
	parent := t.Parent()
	counts := make(map[int]int, parent.Size())
	for _, offset := range parent.Offsets() {
		if _, found := counts[offset]; found {
			return coverage{}, errors.Errorf("parent %s has overlapping elements at offset %d", parent, offset)
		}
		counts[offset] = 0
	}
	c := coverage{numElements: parent.Size()}
	for tadIdx := range t.NumTads() {
		for offset := range t.ElementOffsets(tadIdx) {
			count, found := counts[offset]
			if !found {
				if len(c.foreign) < maxReported {
					c.foreign = append(c.foreign, offset)
				}
				continue
			}
			counts[offset] = count + 1
		}
		if onTad != nil {
			onTad()
		}
	}
	for _, offset := range parent.Offsets() {
		switch counts[offset] {
		case 0:
			if len(c.missing) < maxReported {
				c.missing = append(c.missing, offset)
			}
		case 1:
			c.numCovered++
		default:
			if len(c.duplicated) < maxReported {
				c.duplicated = append(c.duplicated, offset)
			}
		}
	}
	return c, nil
}
