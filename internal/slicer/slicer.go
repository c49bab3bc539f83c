// Package slicer implements the Slicer and KSlicer (C3): ordered
// traversal of flat offsets over a region of interest, with configurable
// fastest-to-slowest axis order and optional kernel neighborhoods.
package slicer

import "github.com/npl-go/npcore/internal/coreerr"

// Slicer holds a shape, strides, an inclusive ROI [lo,hi] per axis, an
// explicit traversal order (fastest axis first), a current N-D position,
// and the derived flat offset.
type Slicer struct {
	shape  []int
	stride []int
	lo, hi []int // inclusive ROI bounds per axis
	order  []int // order[0] is the fastest-varying axis
	pos    []int
	offset int
	end    bool
}

// New constructs a Slicer over shape/stride with the ROI defaulted to
// the full array and order defaulted to [0,1,...,N-1] (axis 0 fastest).
func New(shape, stride []int) (*Slicer, error) {
	if len(shape) != len(stride) {
		return nil, &coreerr.InvalidArgument{Op: "slicer.New", Reason: "shape/stride rank mismatch"}
	}
	n := len(shape)
	s := &Slicer{
		shape:  append([]int(nil), shape...),
		stride: append([]int(nil), stride...),
		lo:     make([]int, n),
		hi:     make([]int, n),
		order:  make([]int, n),
		pos:    make([]int, n),
	}
	for i := 0; i < n; i++ {
		s.hi[i] = shape[i] - 1
		s.order[i] = i
	}
	s.GoBegin()
	return s, nil
}

// SetROI sets the inclusive region of interest [lo,hi] per axis.
func (s *Slicer) SetROI(lo, hi []int) error {
	if len(lo) != len(s.shape) || len(hi) != len(s.shape) {
		return &coreerr.InvalidArgument{Op: "slicer.SetROI", Reason: "ROI arity must match rank"}
	}
	for i := range lo {
		if lo[i] < 0 || hi[i] >= s.shape[i] || lo[i] > hi[i] {
			return &coreerr.InvalidArgument{Op: "slicer.SetROI", Reason: "ROI out of range"}
		}
	}
	copy(s.lo, lo)
	copy(s.hi, hi)
	s.GoBegin()
	return nil
}

// SetOrder accepts a partial list of axes (fastest named first); axes
// not named become the slowest dimensions, in increasing order unless
// reverse is set, in which case they appear in decreasing order.
func (s *Slicer) SetOrder(named []int, reverse bool) error {
	n := len(s.shape)
	seen := make(map[int]bool, n)
	for _, ax := range named {
		if ax < 0 || ax >= n || seen[ax] {
			return &coreerr.InvalidArgument{Op: "slicer.SetOrder", Reason: "invalid or duplicate axis"}
		}
		seen[ax] = true
	}
	var rest []int
	if reverse {
		for ax := n - 1; ax >= 0; ax-- {
			if !seen[ax] {
				rest = append(rest, ax)
			}
		}
	} else {
		for ax := 0; ax < n; ax++ {
			if !seen[ax] {
				rest = append(rest, ax)
			}
		}
	}
	order := append(append([]int(nil), named...), rest...)
	s.order = order
	s.GoBegin()
	return nil
}

func (s *Slicer) computeOffset() int {
	off := 0
	for i, p := range s.pos {
		off += p * s.stride[i]
	}
	return off
}

// GoBegin resets position to the ROI's first element in traversal order.
func (s *Slicer) GoBegin() {
	copy(s.pos, s.lo)
	s.offset = s.computeOffset()
	s.end = false
}

// GoEnd moves the Slicer to the past-the-end sentinel.
func (s *Slicer) GoEnd() {
	copy(s.pos, s.lo)
	if len(s.order) > 0 {
		slowest := s.order[len(s.order)-1]
		s.pos[slowest] = s.hi[slowest] + 1
	}
	s.offset = s.computeOffset()
	s.end = true
}

// GoIndex moves the Slicer directly to an N-D position within the ROI.
func (s *Slicer) GoIndex(idx []int) error {
	if len(idx) != len(s.shape) {
		return &coreerr.InvalidArgument{Op: "slicer.GoIndex", Reason: "index arity must match rank"}
	}
	for i, v := range idx {
		if v < s.lo[i] || v > s.hi[i] {
			return &coreerr.InvalidArgument{Op: "slicer.GoIndex", Reason: "index outside ROI"}
		}
	}
	copy(s.pos, idx)
	s.offset = s.computeOffset()
	s.end = false
	return nil
}

// Pos returns the current N-D position.
func (s *Slicer) Pos() []int { return append([]int(nil), s.pos...) }

// Offset returns the current flat offset.
func (s *Slicer) Offset() int { return s.offset }

// End reports whether the Slicer has advanced past the last ROI element.
func (s *Slicer) End() bool { return s.end }

// Next advances to the next position in traversal order (prefix/postfix
// ++). Returns false once the sentinel past-the-end position is reached.
func (s *Slicer) Next() bool {
	if s.end {
		return false
	}
	for _, axis := range s.order {
		if s.pos[axis] < s.hi[axis] {
			s.pos[axis]++
			s.offset = s.computeOffset()
			return true
		}
		s.pos[axis] = s.lo[axis]
	}
	// Carried out of the slowest axis: past-the-end.
	s.GoEnd()
	return false
}

// Prev steps to the previous position in traversal order (prefix/postfix
// --). Returns false if already at the ROI's first element.
func (s *Slicer) Prev() bool {
	if s.end {
		// Stepping back from the sentinel lands on the last legal element.
		for _, axis := range s.order {
			s.pos[axis] = s.hi[axis]
		}
		s.offset = s.computeOffset()
		s.end = false
		return true
	}
	for _, axis := range s.order {
		if s.pos[axis] > s.lo[axis] {
			s.pos[axis]--
			s.offset = s.computeOffset()
			return true
		}
		s.pos[axis] = s.hi[axis]
	}
	return false
}

// Step moves dist steps along axis dim. The returned bool is true if the
// move stayed inside the ROI; if it left the ROI, pos/offset are clamped
// back to the boundary and the bool is false.
func (s *Slicer) Step(dim, dist int) (bool, error) {
	if dim < 0 || dim >= len(s.shape) {
		return false, &coreerr.InvalidArgument{Op: "slicer.Step", Reason: "axis out of range"}
	}
	next := s.pos[dim] + dist
	if next < s.lo[dim] || next > s.hi[dim] {
		if next < s.lo[dim] {
			s.pos[dim] = s.lo[dim]
		} else {
			s.pos[dim] = s.hi[dim]
		}
		s.offset = s.computeOffset()
		return false, nil
	}
	s.pos[dim] = next
	s.offset = s.computeOffset()
	return true, nil
}

// Offsets returns the flat offset reached by adding deltas (one per
// axis) to the current position, and whether that point stayed inside
// the ROI. The Slicer's own position is not modified.
func (s *Slicer) Offsets(deltas []int) (int, bool, error) {
	if len(deltas) != len(s.shape) {
		return 0, false, &coreerr.InvalidArgument{Op: "slicer.Offsets", Reason: "deltas arity must match rank"}
	}
	off := 0
	inside := true
	for i, d := range deltas {
		p := s.pos[i] + d
		if p < s.lo[i] || p > s.hi[i] {
			inside = false
		}
		off += p * s.stride[i]
	}
	return off, inside, nil
}
