// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tad

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tad/pkg/core/shapes"
)

// Scratch provides the small integer buffers (axis lists, permutations, dimensions and strides)
// used while building a TAD. Buffers are never larger than shapes.MaxRank.
//
// Buffers returned by Get are either handed back with Put before the builder returns, or
// become owned by the TAD and are handed back by TAD.Release.
type Scratch interface {
	// Get returns a buffer of length n, with capacity of at least shapes.MaxRank.
	Get(n int) []int

	// Put returns a buffer obtained with Get.
	Put(buf []int)
}

// HeapScratch is the default Scratch: buffers come from a sync.Pool, and are allocated
// on demand.
type HeapScratch struct{}

var heapScratchPool = sync.Pool{
	New: func() any { return new([shapes.MaxRank]int) },
}

// DefaultScratch is the Scratch used when none is given.
var DefaultScratch Scratch = HeapScratch{}

// Get implements Scratch.
func (HeapScratch) Get(n int) []int {
	if n < 0 || n > shapes.MaxRank {
		exceptions.Panicf("tad.HeapScratch.Get(%d): size must be in [0, %d]", n, shapes.MaxRank)
	}
	buf := heapScratchPool.Get().(*[shapes.MaxRank]int)
	return buf[:n]
}

// Put implements Scratch. Buffers not obtained from Get are ignored.
func (HeapScratch) Put(buf []int) {
	if cap(buf) != shapes.MaxRank {
		return
	}
	heapScratchPool.Put((*[shapes.MaxRank]int)(buf[:shapes.MaxRank]))
}

// BuffersPerBuild is the largest number of scratch buffers a TAD build holds at the same time.
// Use it to size LanePool lanes.
const BuffersPerBuild = 6

// LanePool holds preallocated scratch buffers for a fixed number of lanes (workers), for
// execution contexts that must not allocate: each lane only ever hands out its own buffers,
// and panics when they are exhausted.
//
// Each Lane must be used by one goroutine at a time.
type LanePool struct {
	storage []int
	lanes   []Lane
}

// Lane is the Scratch of one LanePool lane.
type Lane struct {
	id   int
	free [][]int
	size int
}

// NewLanePool preallocates numLanes lanes, each with buffersPerLane buffers of shapes.MaxRank ints.
func NewLanePool(numLanes, buffersPerLane int) *LanePool {
	if numLanes <= 0 || buffersPerLane <= 0 {
		exceptions.Panicf("tad.NewLanePool(%d, %d): number of lanes and buffers must be > 0", numLanes, buffersPerLane)
	}
	p := &LanePool{
		storage: make([]int, numLanes*buffersPerLane*shapes.MaxRank),
		lanes:   make([]Lane, numLanes),
	}
	for laneIdx := range p.lanes {
		lane := &p.lanes[laneIdx]
		lane.id = laneIdx
		lane.size = buffersPerLane
		lane.free = make([][]int, buffersPerLane)
		for ii := range buffersPerLane {
			start := (laneIdx*buffersPerLane + ii) * shapes.MaxRank
			lane.free[ii] = p.storage[start : start+shapes.MaxRank : start+shapes.MaxRank]
		}
	}
	return p
}

// NumLanes returns the number of lanes in the pool.
func (p *LanePool) NumLanes() int { return len(p.lanes) }

// Lane returns the Scratch of the given lane id.
func (p *LanePool) Lane(id int) *Lane {
	if id < 0 || id >= len(p.lanes) {
		exceptions.Panicf("tad.LanePool.Lane(%d): pool has %d lanes", id, len(p.lanes))
	}
	return &p.lanes[id]
}

// ID of the lane in its pool.
func (l *Lane) ID() int { return l.id }

// Outstanding returns the number of buffers handed out by Get and not yet returned.
func (l *Lane) Outstanding() int { return l.size - len(l.free) }

// Get implements Scratch. It panics if the lane has no free buffers left.
func (l *Lane) Get(n int) []int {
	if n < 0 || n > shapes.MaxRank {
		exceptions.Panicf("tad.Lane(%d).Get(%d): size must be in [0, %d]", l.id, n, shapes.MaxRank)
	}
	if len(l.free) == 0 {
		exceptions.Panicf("tad.Lane(%d).Get(%d): all %d buffers of the lane are in use", l.id, n, l.size)
	}
	last := len(l.free) - 1
	buf := l.free[last]
	l.free = l.free[:last]
	return buf[:n]
}

// Put implements Scratch. It panics if more buffers are returned than were handed out.
func (l *Lane) Put(buf []int) {
	if len(l.free) == l.size {
		exceptions.Panicf("tad.Lane(%d).Put(): buffer returned to a lane with no outstanding buffers", l.id)
	}
	l.free = append(l.free, buf[:0])
}
