package domain

// ScreenRect is a rectangle in pixels relative to one rendered page canvas.
type ScreenRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Right returns the x coordinate of the right edge.
func (r ScreenRect) Right() float64 { return r.X + r.W }

// Bottom returns the y coordinate of the bottom edge.
func (r ScreenRect) Bottom() float64 { return r.Y + r.H }

// DocRect is a rectangle in the page's native PDF units, rounded to integers.
// It does not depend on zoom.
type DocRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Point is a page-local pointer position in screen pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport describes one rendered page: the document-unit to pixel factor and
// the canvas size in pixels.
type Viewport struct {
	Scale  float64 `json:"scale"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Handle names one of the eight resize grips of a selection.
type Handle string

const (
	HandleN  Handle = "n"
	HandleS  Handle = "s"
	HandleE  Handle = "e"
	HandleW  Handle = "w"
	HandleNE Handle = "ne"
	HandleNW Handle = "nw"
	HandleSE Handle = "se"
	HandleSW Handle = "sw"
)

// Handles lists the grips in drawing order, clockwise from the top-left corner.
var Handles = []Handle{HandleNW, HandleN, HandleNE, HandleE, HandleSE, HandleS, HandleSW, HandleW}

// ParseHandle validates a handle name.
func ParseHandle(s string) (Handle, bool) {
	for _, h := range Handles {
		if string(h) == s {
			return h, true
		}
	}
	return "", false
}

func (h Handle) has(c byte) bool {
	for i := 0; i < len(h); i++ {
		if h[i] == c {
			return true
		}
	}
	return false
}

// North reports whether the handle moves the top edge.
func (h Handle) North() bool { return h.has('n') }

// South reports whether the handle moves the bottom edge.
func (h Handle) South() bool { return h.has('s') }

// East reports whether the handle moves the right edge.
func (h Handle) East() bool { return h.has('e') }

// West reports whether the handle moves the left edge.
func (h Handle) West() bool { return h.has('w') }
