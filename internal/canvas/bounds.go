package canvas

import (
	"encoding/json"
	"math"
)

// Box is an axis-aligned rectangle in page coordinates.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (b Box) MaxX() float64 { return b.X + b.W }
func (b Box) MaxY() float64 { return b.Y + b.H }

// Contains reports whether o lies entirely inside b.
func (b Box) Contains(o Box) bool {
	return o.X >= b.X && o.Y >= b.Y && o.MaxX() <= b.MaxX() && o.MaxY() <= b.MaxY()
}

// Union returns the smallest box containing both.
func (b Box) Union(o Box) Box {
	minX := math.Min(b.X, o.X)
	minY := math.Min(b.Y, o.Y)
	return Box{
		X: minX,
		Y: minY,
		W: math.Max(b.MaxX(), o.MaxX()) - minX,
		H: math.Max(b.MaxY(), o.MaxY()) - minY,
	}
}

// Expand grows the box by pad on every side.
func (b Box) Expand(pad float64) Box {
	return Box{X: b.X - pad, Y: b.Y - pad, W: b.W + 2*pad, H: b.H + 2*pad}
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type segment struct {
	Points []point `json:"points"`
}

// ShapeBounds computes the page-space bounds of a shape. Rotation is ignored;
// handwriting strokes are drawn unrotated.
func ShapeBounds(s Shape) Box {
	if w, ok := s.number("w"); ok {
		h, _ := s.number("h")
		return Box{X: s.X, Y: s.Y, W: w, H: h}
	}

	if raw, ok := s.Props["segments"]; ok {
		// Round-trip through JSON to get typed points out of the generic props map.
		buf, err := json.Marshal(raw)
		if err == nil {
			var segs []segment
			if err := json.Unmarshal(buf, &segs); err == nil {
				if b, ok := pointsBounds(segs); ok {
					b.X += s.X
					b.Y += s.Y
					return b
				}
			}
		}
	}

	return Box{X: s.X, Y: s.Y}
}

func pointsBounds(segs []segment) (Box, bool) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	found := false
	for _, seg := range segs {
		for _, p := range seg.Points {
			found = true
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
	}
	if !found {
		return Box{}, false
	}
	return Box{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, true
}

// FrameBounds returns the box enclosing every shape plus padding on all sides.
func FrameBounds(shapes []Shape, padding float64) (Box, error) {
	if len(shapes) == 0 {
		return Box{}, ErrNoShapes
	}
	if padding < 0 {
		padding = 0
	}
	b := ShapeBounds(shapes[0])
	for _, s := range shapes[1:] {
		b = b.Union(ShapeBounds(s))
	}
	return b.Expand(padding), nil
}
