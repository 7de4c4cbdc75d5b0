// Package geometry holds the pure rectangle math used by the selection
// engine: screen/document conversion, overlap and hit testing, and resize
// handle arithmetic. Nothing here has side effects.
package geometry

import (
	"math"

	"pdf-region-tagger/internal/domain"

	"github.com/golang/geo/r2"
)

// DefaultResizeFloor is the smallest width or height a resize can produce.
const DefaultResizeFloor = 10.0

// DefaultHandleSize is the edge length of a resize grip's hit square.
const DefaultHandleSize = 10.0

// ToDocRect converts a screen rectangle captured at scale into document
// units, rounding each component to the nearest integer. A non-positive
// scale yields the zero rectangle.
func ToDocRect(r domain.ScreenRect, scale float64) domain.DocRect {
	if scale <= 0 {
		return domain.DocRect{}
	}
	return domain.DocRect{
		X: int(math.Round(r.X / scale)),
		Y: int(math.Round(r.Y / scale)),
		W: int(math.Round(r.W / scale)),
		H: int(math.Round(r.H / scale)),
	}
}

// ToScreenRect renders a document rectangle at scale.
func ToScreenRect(r domain.DocRect, scale float64) domain.ScreenRect {
	return domain.ScreenRect{
		X: float64(r.X) * scale,
		Y: float64(r.Y) * scale,
		W: float64(r.W) * scale,
		H: float64(r.H) * scale,
	}
}

// ProjectRect rescales a screen rectangle measured at scale from so it lines
// up with a viewport rendered at scale to. Non-positive scales leave r as is.
func ProjectRect(r domain.ScreenRect, from, to float64) domain.ScreenRect {
	if from <= 0 || to <= 0 || from == to {
		return r
	}
	f := to / from
	return domain.ScreenRect{X: r.X * f, Y: r.Y * f, W: r.W * f, H: r.H * f}
}

// AtScale returns copies of sels whose RectScreen is projected to scale and
// whose CaptureScale is scale. The inputs are not modified.
func AtScale(sels []*domain.Selection, scale float64) []*domain.Selection {
	out := make([]*domain.Selection, 0, len(sels))
	for _, s := range sels {
		c := s.Clone()
		if scale > 0 {
			c.RectScreen = ProjectRect(s.RectScreen, s.CaptureScale, scale)
			c.CaptureScale = scale
		}
		out = append(out, c)
	}
	return out
}

// RectsOverlap reports whether a and b share interior area. Rectangles that
// only touch along an edge do not overlap.
func RectsOverlap(a, b domain.ScreenRect) bool {
	return a.X < b.Right() &&
		b.X < a.Right() &&
		a.Y < b.Bottom() &&
		b.Y < a.Bottom()
}

// OverlapsAny reports whether r overlaps any selection in others except the
// one whose id is skipID.
func OverlapsAny(r domain.ScreenRect, others []*domain.Selection, skipID string) bool {
	for _, s := range others {
		if s.ID == skipID {
			continue
		}
		if RectsOverlap(r, s.RectScreen) {
			return true
		}
	}
	return false
}

// Contains reports whether p lies inside r; the boundary counts as inside.
func Contains(r domain.ScreenRect, p domain.Point) bool {
	return toR2(r).ContainsPoint(r2.Point{X: p.X, Y: p.Y})
}

// HitTest returns the first selection, in the given order, containing p.
func HitTest(p domain.Point, onPage []*domain.Selection) *domain.Selection {
	for _, s := range onPage {
		if Contains(s.RectScreen, p) {
			return s
		}
	}
	return nil
}

// NormalizeRect returns the bounding box of the drag anchor and the current
// pointer, so dragging in any direction gives non-negative width and height.
func NormalizeRect(anchor, current domain.Point) domain.ScreenRect {
	box := r2.RectFromPoints(
		r2.Point{X: anchor.X, Y: anchor.Y},
		r2.Point{X: current.X, Y: current.Y},
	)
	return fromR2(box)
}

// ApplyResize moves the edges named by handle by (dx, dy) from start.
// West and north handles shift the origin as well as the size. Width and
// height are then floored at floor; the rectangle never flips, it only stops
// shrinking, while a dragged west or north edge keeps moving its origin.
func ApplyResize(start domain.ScreenRect, handle domain.Handle, dx, dy, floor float64) domain.ScreenRect {
	r := start
	if handle.West() {
		r.X += dx
		r.W -= dx
	}
	if handle.East() {
		r.W += dx
	}
	if handle.North() {
		r.Y += dy
		r.H -= dy
	}
	if handle.South() {
		r.H += dy
	}
	r.W = math.Max(floor, r.W)
	r.H = math.Max(floor, r.H)
	return r
}

// HandleCenter returns the position of a grip on r.
func HandleCenter(r domain.ScreenRect, h domain.Handle) domain.Point {
	p := domain.Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
	if h.West() {
		p.X = r.X
	} else if h.East() {
		p.X = r.Right()
	}
	if h.North() {
		p.Y = r.Y
	} else if h.South() {
		p.Y = r.Bottom()
	}
	return p
}

// HandleAt finds the grip of r under p. Each grip is a size x size square
// centred on its HandleCenter, tested in domain.Handles order.
func HandleAt(r domain.ScreenRect, p domain.Point, size float64) (domain.Handle, bool) {
	half := size / 2
	for _, h := range domain.Handles {
		c := HandleCenter(r, h)
		grip := domain.ScreenRect{X: c.X - half, Y: c.Y - half, W: size, H: size}
		if Contains(grip, p) {
			return h, true
		}
	}
	return "", false
}

func toR2(r domain.ScreenRect) r2.Rect {
	return r2.RectFromPoints(
		r2.Point{X: r.X, Y: r.Y},
		r2.Point{X: r.Right(), Y: r.Bottom()},
	)
}

func fromR2(r r2.Rect) domain.ScreenRect {
	lo, size := r.Lo(), r.Size()
	return domain.ScreenRect{X: lo.X, Y: lo.Y, W: size.X, H: size.Y}
}
