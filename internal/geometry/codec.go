package geometry

import (
	"fmt"
	"strconv"
	"strings"
)

// Mouse is a pointer position plus whether the owner shows it to others.
type Mouse struct {
	Position Vec2
	Show     bool
}

// ParsePose decodes "x,y,orientation". The orientation is optional.
func ParsePose(s string) (Pose, error) {
	nums, err := parseNumbers(s, 2)
	if err != nil {
		return Pose{}, fmt.Errorf("parse pose %q: %w", s, err)
	}
	p := Pose{Position: Vec2{nums[0], nums[1]}}
	if len(nums) > 2 {
		p.Orientation = nums[2]
	}
	return p, nil
}

// FormatPose is the inverse of ParsePose.
func FormatPose(p Pose) string {
	return formatNumbers(p.Position[0], p.Position[1], p.Orientation)
}

// ParseMouse decodes "x,y,show" where show is 0/1 or false/true. A missing
// show field means the pointer is shown.
func ParseMouse(s string) (Mouse, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return Mouse{}, fmt.Errorf("parse mouse %q: need at least 2 fields", s)
	}
	nums, err := parseNumbers(strings.Join(parts[:2], ","), 2)
	if err != nil {
		return Mouse{}, fmt.Errorf("parse mouse %q: %w", s, err)
	}
	m := Mouse{Position: Vec2{nums[0], nums[1]}, Show: true}
	if len(parts) > 2 {
		show := strings.TrimSpace(parts[2])
		if b, err := strconv.ParseBool(show); err == nil {
			m.Show = b
		} else if f, err := strconv.ParseFloat(show, 64); err == nil {
			m.Show = f != 0
		} else {
			return Mouse{}, fmt.Errorf("parse mouse %q: bad show flag %q", s, show)
		}
	}
	return m, nil
}

// FormatMouse is the inverse of ParseMouse.
func FormatMouse(m Mouse) string {
	show := 0.0
	if m.Show {
		show = 1
	}
	return formatNumbers(m.Position[0], m.Position[1], show)
}

func parseNumbers(s string, min int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) < min {
		return nil, fmt.Errorf("need at least %d numbers, got %d", min, len(parts))
	}
	nums := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		nums = append(nums, f)
	}
	return nums, nil
}

func formatNumbers(nums ...float64) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
