// Package anno is the in-memory annotation model for video anonymization:
// bounding boxes on frames, grouped into tracks, with undo/redo, linear
// interpolation, and track merge suggestions.
package anno

import "github.com/videoanon/defacer/pkg/gen"

// BoundingBox is an axis-aligned rectangle in pixel coordinates.
// There is no stored guarantee that X1 <= X2 or Y1 <= Y2. Interactive
// editing produces inverted boxes all the time, so callers that depend on
// ordering must call Normalize() first.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BoundingBox) Width() int {
	return b.X2 - b.X1
}

func (b BoundingBox) Height() int {
	return b.Y2 - b.Y1
}

func (b BoundingBox) Area() int {
	return b.Width() * b.Height()
}

// Center returns the integer center of the box.
func (b BoundingBox) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// ContainsPoint returns true if (x,y) is inside the box expanded by margin
// pixels on every side.
func (b BoundingBox) ContainsPoint(x, y, margin int) bool {
	return b.X1-margin <= x && x <= b.X2+margin &&
		b.Y1-margin <= y && y <= b.Y2+margin
}

// Normalize returns a copy with X1 <= X2 and Y1 <= Y2.
func (b BoundingBox) Normalize() BoundingBox {
	return BoundingBox{
		X1: min(b.X1, b.X2),
		Y1: min(b.Y1, b.Y2),
		X2: max(b.X1, b.X2),
		Y2: max(b.Y1, b.Y2),
	}
}

// Clamp bounds the box to an image of the given size. X1/Y1 are clamped to
// [0, dim-1] and X2/Y2 to [0, dim].
func (b BoundingBox) Clamp(width, height int) BoundingBox {
	return BoundingBox{
		X1: gen.Clamp(b.X1, 0, width-1),
		Y1: gen.Clamp(b.Y1, 0, height-1),
		X2: gen.Clamp(b.X2, 0, width),
		Y2: gen.Clamp(b.Y2, 0, height),
	}
}

func (b BoundingBox) Intersection(o BoundingBox) BoundingBox {
	x1 := max(b.X1, o.X1)
	y1 := max(b.Y1, o.Y1)
	x2 := min(b.X2, o.X2)
	y2 := min(b.Y2, o.Y2)
	return BoundingBox{
		X1: x1,
		Y1: y1,
		X2: max(x1, x2),
		Y2: max(y1, y2),
	}
}

// Intersection over Union
func (b BoundingBox) IOU(o BoundingBox) float64 {
	inter := b.Intersection(o).Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// InterpolateBox linearly blends each corner of a towards b independently.
// Coordinates are truncated (not rounded) to integers.
func InterpolateBox(a, b BoundingBox, t float64) BoundingBox {
	return BoundingBox{
		X1: int(float64(a.X1) + float64(b.X1-a.X1)*t),
		Y1: int(float64(a.Y1) + float64(b.Y1-a.Y1)*t),
		X2: int(float64(a.X2) + float64(b.X2-a.X2)*t),
		Y2: int(float64(a.Y2) + float64(b.Y2-a.Y2)*t),
	}
}
