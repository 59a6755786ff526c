// Package detect defines the immutable per-frame detection record shared
// by the vision loop, the visual tracker, and the social FSM (spec.md §3).
package detect

// Box is an axis-aligned bounding box in pipeline-space pixel coordinates,
// with an optional confidence score.
type Box struct {
	X, Y, W, H float64
	Score      float64
}

// Point is a 2D pixel coordinate.
type Point struct {
	X, Y float64
}

// Size is a frame's (width, height) in pipeline-space pixels.
type Size struct {
	W, H float64
}

// Detection is the immutable record published by the vision loop once per
// processed frame. Ancillary carries pipeline-specific extras (e.g. a
// named face list) that don't fit the common Targets shape.
type Detection struct {
	OK         bool
	Timestamp  float64 // monotonic seconds
	FrameSpace Size
	BBox       *Box
	Center     *Point
	Score      *float64
	Targets    []Box
	Ancillary  map[string]any
}

// Valid reports whether the detection satisfies the spec.md §3 invariant:
// OK implies at least one of BBox/Targets is populated and every box's
// coordinates fit inside FrameSpace.
func (d Detection) Valid() bool {
	if !d.OK {
		return true
	}
	if d.BBox == nil && len(d.Targets) == 0 {
		return false
	}
	if d.BBox != nil && !d.boxFits(*d.BBox) {
		return false
	}
	for _, b := range d.Targets {
		if !d.boxFits(b) {
			return false
		}
	}
	return true
}

func (d Detection) boxFits(b Box) bool {
	if b.X < 0 || b.Y < 0 {
		return false
	}
	if b.X+b.W > d.FrameSpace.W || b.Y+b.H > d.FrameSpace.H {
		return false
	}
	return true
}

// LargestTarget returns the target with the greatest W*H area, mirroring
// original_source/Server/app/controllers/tracker.py's _select_largest_box.
func (d Detection) LargestTarget() (Box, bool) {
	if len(d.Targets) == 0 {
		return Box{}, false
	}
	best := d.Targets[0]
	for _, b := range d.Targets[1:] {
		if b.W*b.H > best.W*best.H {
			best = b
		}
	}
	return best, true
}
