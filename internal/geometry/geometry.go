// Package geometry holds the 2D helpers used by interest management:
// containment, overlap and the bounding box of a placed content.
package geometry

import (
	"fmt"
	"math"
)

// Vec2 is a point or extent in room coordinates.
type Vec2 [2]float64

// Pose is a position plus an orientation in degrees.
type Pose struct {
	Position    Vec2
	Orientation float64
}

// Rect is an axis-aligned rectangle. The wire form is [x, y, w, h].
type Rect struct {
	X, Y, W, H float64
}

// Circle is the wire form [cx, cy, r].
type Circle struct {
	X, Y, R float64
}

// RectFromSlice builds a Rect from its wire form.
func RectFromSlice(v []float64) (Rect, error) {
	if len(v) < 4 {
		return Rect{}, fmt.Errorf("rect needs 4 numbers, got %d", len(v))
	}
	return Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}

// CircleFromSlice builds a Circle from its wire form.
func CircleFromSlice(v []float64) (Circle, error) {
	if len(v) < 3 {
		return Circle{}, fmt.Errorf("circle needs 3 numbers, got %d", len(v))
	}
	return Circle{X: v[0], Y: v[1], R: v[2]}, nil
}

// Contains reports x <= px <= x+w and y <= py <= y+h.
func (r Rect) Contains(p Vec2) bool {
	return r.X <= p[0] && p[0] <= r.X+r.W && r.Y <= p[1] && p[1] <= r.Y+r.H
}

// Overlaps reports whether two rectangles intersect. Touching edges count.
func (r Rect) Overlaps(o Rect) bool {
	return r.X <= o.X+o.W && o.X <= r.X+r.W && r.Y <= o.Y+o.H && o.Y <= r.Y+r.H
}

// Contains reports whether p is within distance R of the center.
func (c Circle) Contains(p Vec2) bool {
	dx := p[0] - c.X
	dy := p[1] - c.Y
	return dx*dx+dy*dy <= c.R*c.R
}

// OverlapsRect reports whether the circle intersects the rectangle, using the
// closest point of the rectangle to the center.
func (c Circle) OverlapsRect(r Rect) bool {
	closestX := clamp(c.X, r.X, r.X+r.W)
	closestY := clamp(c.Y, r.Y, r.Y+r.H)
	dx := c.X - closestX
	dy := c.Y - closestY
	return dx*dx+dy*dy <= c.R*c.R
}

// InRange reports whether p is in the visible rect or the audible circle.
func InRange(p Vec2, visible Rect, audible Circle) bool {
	return visible.Contains(p) || audible.Contains(p)
}

// RectInRange is InRange for an area.
func RectInRange(r Rect, visible Rect, audible Circle) bool {
	return visible.Overlaps(r) || audible.OverlapsRect(r)
}

// BoundingRect returns the axis-aligned box of a content of the given size
// placed with its top-left corner at pose.Position and rotated about its
// center by pose.Orientation.
func BoundingRect(pose Pose, size Vec2) Rect {
	w, h := size[0], size[1]
	r := math.Mod(pose.Orientation, 360)
	if r == 0 {
		return Rect{X: pose.Position[0], Y: pose.Position[1], W: w, H: h}
	}

	rad := r * math.Pi / 180
	cos := math.Abs(math.Cos(rad))
	sin := math.Abs(math.Sin(rad))
	bw := w*cos + h*sin
	bh := w*sin + h*cos
	cx := pose.Position[0] + w/2
	cy := pose.Position[1] + h/2
	return Rect{X: cx - bw/2, Y: cy - bh/2, W: bw, H: bh}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
