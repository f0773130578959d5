// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// tadinfo prints the TAD (tensors-along-dimensions) metadata of a strided array along the given axes.
//
// Example:
//
//	tadinfo -shape=4,3,2 -axes=1 -offsets -elements -index=3
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tad/pkg/core/shapes"
	"github.com/gomlx/tad/pkg/core/tad"
	"github.com/gomlx/tad/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagShape   = xslices.IntFlag("shape", nil, "Comma-separated dimensions of the parent array, e.g.: -shape=4,3,2.")
	flagStrides = xslices.IntFlag("strides", nil, "Comma-separated strides (in elements) of the parent. "+
		"If not given, the parent is contiguous in the order given by -order.")
	flagOrder  = flag.String("order", "c", `Order of the parent: "c" for row-major or "f" for column-major.`)
	flagOffset = flag.Int("offset", 0, "Offset of the parent's first element in the buffer.")
	flagAxes   = xslices.IntFlag("axes", nil, "Comma-separated axes along which to take the TADs. "+
		"Negative axes count from the end.")
	flagIndex    = flag.Int("index", 0, "TAD index at which the TAD shape is positioned, and whose elements -elements lists.")
	flagDType    = flag.String("dtype", "Float32", "DType of the elements, used to report the memory used.")
	flagOffsets  = flag.Bool("offsets", false, "List the offset of each TAD.")
	flagElements = flag.Bool("elements", false, "List the buffer offsets of the elements of TAD -index.")
	flagVerify   = flag.Bool("verify", false, "Check that the TADs visit every element of the parent exactly once.")
	flagMaxRows  = flag.Int("max_rows", 32, "Maximum number of rows listed by -offsets and -elements. Set to 0 for no limit.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(*flagShape) == 0 {
		klog.Errorf("Missing -shape. See 'tadinfo -help'.")
		os.Exit(1)
	}
	output := termenv.NewOutput(os.Stdout)
	lipgloss.SetColorProfile(output.ColorProfile())

	parent, err := parseParent(*flagDType, *flagOrder, *flagShape, *flagStrides, *flagOffset)
	if err != nil {
		klog.Exitf("Invalid parent: %+v", err)
	}
	t, err := tad.Build(parent, *flagAxes...).WithTadIndex(*flagIndex).Done()
	if err != nil {
		klog.Exitf("Failed to build TAD: %+v", err)
	}
	defer t.Release()

	reportSummary(t)
	if *flagOffsets {
		reportOffsets(t)
	}
	if *flagElements {
		reportElements(t, *flagIndex)
	}
	if *flagVerify {
		reportVerify(output, t)
	}
}

// parseParent creates the parent shape from the command-line values.
func parseParent(dtypeName, orderName string, dims, strides []int, offset int) (shapes.Shape, error) {
	dtype, found := dtypes.MapOfNames[dtypeName]
	if !found {
		return shapes.Shape{}, errors.Errorf("unknown dtype %q", dtypeName)
	}
	order, err := parseOrder(orderName)
	if err != nil {
		return shapes.Shape{}, err
	}
	if len(strides) == 0 {
		switch order {
		case shapes.ColMajor:
			strides = shapes.ColMajorStrides(dims)
		default:
			strides = shapes.RowMajorStrides(dims)
		}
	}
	parent, err := shapes.MakeStrided(dtype, order, dims, strides)
	if err != nil {
		return shapes.Shape{}, err
	}
	parent.Offset = offset
	return parent, nil
}

func parseOrder(name string) (shapes.Order, error) {
	switch strings.ToLower(name) {
	case "c", "row", "rowmajor":
		return shapes.RowMajor, nil
	case "f", "col", "colmajor":
		return shapes.ColMajor, nil
	}
	return 0, errors.Errorf("unknown order %q, valid values are \"c\" and \"f\"", name)
}

func reportSummary(t *tad.TAD) {
	parent := t.Parent()
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(nil, lipgloss.Right, lipgloss.Left)
	table.Row(false, "parent", parent.String())
	table.Row(false, "rank", fmt.Sprint(parent.Rank()))
	table.Row(false, "# elements", humanize.Comma(int64(parent.Size())))
	table.Row(false, "# bytes", humanize.Bytes(uint64(parent.Memory())))
	table.Row(false, "order", parent.Order.String())
	table.Row(parent.ElementWiseStride == shapes.NoElementWiseStride,
		"element-wise stride", fmt.Sprint(parent.ElementWiseStride))
	table.Row(false, "axes", fmt.Sprint(*flagAxes))
	table.Row(false, "normalized axes", formatAxes(t.Axes()))
	table.Row(false, "outer axes", fmt.Sprint(t.OuterAxes()))
	table.Row(false, "# TADs", humanize.Comma(int64(t.NumTads())))
	table.Row(false, "TAD shape", t.TadShape().String())
	table.Row(false, "TAD length", humanize.Comma(int64(t.TadShape().Size())))
	table.Row(false, "whole array", fmt.Sprint(t.IsWholeArray()))
	fmt.Println(table.Render())
}

func formatAxes(axes tad.AxisSet) string {
	if axes.IsNoOp() {
		return "no-op"
	}
	return fmt.Sprint(axes.Axes)
}

// rowsToList returns how many of n rows to list, given -max_rows.
func rowsToList(n int) int {
	if *flagMaxRows > 0 {
		return min(n, *flagMaxRows)
	}
	return n
}

func reportOffsets(t *tad.TAD) {
	fmt.Println(titleStyle.Render("Offsets"))
	table := newPlainTable([]string{"TAD", "coordinates", "offset"}, lipgloss.Right, lipgloss.Left, lipgloss.Right)
	offsets := t.Offsets()
	coords := make([]int, t.Parent().Rank())
	numRows := rowsToList(len(offsets))
	for tadIdx, offset := range offsets[:numRows] {
		coords, _ = t.CoordinateOf(tadIdx, coords)
		table.Row(tadIdx == *flagIndex, humanize.Comma(int64(tadIdx)), fmt.Sprint(coords), humanize.Comma(int64(offset)))
	}
	fmt.Println(table.Render())
	if numRows < len(offsets) {
		fmt.Printf("... %s more TADs not listed\n", humanize.Comma(int64(len(offsets)-numRows)))
	}
}

func reportElements(t *tad.TAD, tadIdx int) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Elements of TAD #%d", tadIdx)))
	table := newPlainTable([]string{"#", "indices", "buffer offset"}, lipgloss.Right, lipgloss.Left, lipgloss.Right)
	tadShape := must.M1(t.TadShapeAt(tadIdx))
	maxRows := rowsToList(tadShape.Size())
	next := 0
	for elementIdx, indices := range tadShape.Iter() {
		if elementIdx >= maxRows {
			break
		}
		offset := tadShape.Offset
		for axis, idx := range indices {
			offset += idx * tadShape.Strides[axis]
		}
		table.Row(false, fmt.Sprint(elementIdx), fmt.Sprint(indices), humanize.Comma(int64(offset)))
		next++
	}
	fmt.Println(table.Render())
	if next < tadShape.Size() {
		fmt.Printf("... %s more elements not listed\n", humanize.Comma(int64(tadShape.Size()-next)))
	}
}

func reportVerify(output *termenv.Output, t *tad.TAD) {
	fmt.Println(titleStyle.Render("Verify"))
	bar := progressbar.NewOptions(t.NumTads(),
		progressbar.OptionSetDescription("TADs"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	c, err := verifyCoverage(t, func() { _ = bar.Add(1) })
	_ = bar.Finish()
	if err != nil {
		fmt.Println(output.String("SKIPPED").Foreground(output.Color("3")).String(), err)
		return
	}
	table := newPlainTable(nil, lipgloss.Right, lipgloss.Left)
	table.Row(false, "# elements", humanize.Comma(int64(c.numElements)))
	table.Row(c.numCovered != c.numElements, "# visited once", humanize.Comma(int64(c.numCovered)))
	table.Row(len(c.duplicated) > 0, "visited more than once", fmt.Sprint(c.duplicated))
	table.Row(len(c.missing) > 0, "never visited", fmt.Sprint(c.missing))
	table.Row(len(c.foreign) > 0, "outside of parent", fmt.Sprint(c.foreign))
	fmt.Println(table.Render())
	if c.OK() {
		fmt.Println(output.String("OK").Foreground(output.Color("2")).Bold().String())
	} else {
		fmt.Println(output.String("FAILED").Foreground(output.Color("1")).Bold().String())
		os.Exit(1)
	}
}
