// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

package imagemanip

import (
	"strconv"
	"strings"
)

// Operation is a single step of a transform spec, such as "resize,200,100".
type Operation struct {
	Name string
	Args []string
}

func (o Operation) String() string {
	return strings.Join(append([]string{o.Name}, o.Args...), ",")
}

// arg returns the i-th argument of o, or the empty string.
func (o Operation) arg(i int) string {
	if i < len(o.Args) {
		return strings.TrimSpace(o.Args[i])
	}
	return ""
}

// ParseTransform splits a transform spec into its operations.  Operations
// are separated by "|" and arguments by ",".  Empty operations are dropped;
// unknown ones are kept and ignored when the transform is applied.
func ParseTransform(spec string) []Operation {
	var ops []Operation
	for _, s := range strings.Split(spec, "|") {
		parts := strings.Split(s, ",")
		name := strings.TrimSpace(parts[0])
		if name == "" {
			continue
		}
		ops = append(ops, Operation{Name: name, Args: parts[1:]})
	}
	return ops
}

// outputOptions returns the format and quality requested by ops.  The last
// operation of each kind wins.
func outputOptions(ops []Operation) (format string, quality int) {
	for _, op := range ops {
		switch op.Name {
		case "format":
			format = normalizeFormat(op.arg(0))
		case "quality":
			if q, err := strconv.Atoi(op.arg(0)); err == nil && q > 0 && q <= 100 {
				quality = q
			}
		}
	}
	return format, quality
}

func normalizeFormat(f string) string {
	f = strings.ToLower(f)
	switch f {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	}
	return f
}

// parseSize parses a dimension given in pixels or as a percentage ("50%")
// of ref.  Invalid and negative values return 0.
func parseSize(s string, ref int) int {
	if s == "" {
		return 0
	}
	if p, ok := strings.CutSuffix(s, "%"); ok {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || f < 0 {
			return 0
		}
		return int(float64(ref)*f/100 + 0.5)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(f + 0.5)
}

// parsePosition returns the offset of a span of length n inside a span of
// length total.  pos is a keyword (left, center, right, top, middle,
// bottom), a percentage of the free space, or an absolute offset.  The
// result is clamped to [0, total-n].
func parsePosition(pos string, total, n int) int {
	free := total - n
	if free <= 0 {
		return 0
	}

	var off int
	switch strings.ToLower(pos) {
	case "", "center", "middle":
		off = free / 2
	case "left", "top":
		off = 0
	case "right", "bottom":
		off = free
	default:
		if p, ok := strings.CutSuffix(pos, "%"); ok {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return free / 2
			}
			off = int(float64(free) * f / 100)
		} else {
			v, err := strconv.Atoi(pos)
			if err != nil {
				return free / 2
			}
			off = v
		}
	}

	if off < 0 {
		off = 0
	}
	if off > free {
		off = free
	}
	return off
}
