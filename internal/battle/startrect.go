package battle

import (
	"fmt"
	"strconv"
)

// StartRect is an allyteam start area in 0..200 map units.
type StartRect struct {
	Left, Top, Right, Bottom int
}

// MaxCoord is the engine's start-rect coordinate space.
const MaxCoord = 200

// ExpandStartRects expands a shorthand (shape letter + edge size) into
// mirrored start rectangles of 2*size thickness:
//
//	h  — top and bottom bands
//	v  — left and right bands
//	c1 — north-west and south-east corners
//	c2 — north-east and south-west corners
//	c  — all four corners
//	s  — four side bands
func ExpandStartRects(shape string, size int) ([]StartRect, error) {
	if size < 1 || size > 50 {
		return nil, fmt.Errorf("start rect size %d out of range 1..50", size)
	}
	t := 2 * size // band thickness
	switch shape {
	case "h":
		return []StartRect{
			{0, 0, MaxCoord, t},
			{0, MaxCoord - t, MaxCoord, MaxCoord},
		}, nil
	case "v":
		return []StartRect{
			{0, 0, t, MaxCoord},
			{MaxCoord - t, 0, MaxCoord, MaxCoord},
		}, nil
	case "c1":
		return []StartRect{
			{0, 0, t, t},
			{MaxCoord - t, MaxCoord - t, MaxCoord, MaxCoord},
		}, nil
	case "c2":
		return []StartRect{
			{MaxCoord - t, 0, MaxCoord, t},
			{0, MaxCoord - t, t, MaxCoord},
		}, nil
	case "c":
		return []StartRect{
			{0, 0, t, t},
			{MaxCoord - t, MaxCoord - t, MaxCoord, MaxCoord},
			{MaxCoord - t, 0, MaxCoord, t},
			{0, MaxCoord - t, t, MaxCoord},
		}, nil
	case "s":
		mid := (MaxCoord - t) / 2
		return []StartRect{
			{mid, 0, mid + t, t},
			{mid, MaxCoord - t, mid + t, MaxCoord},
			{0, mid, t, mid + t},
			{MaxCoord - t, mid, MaxCoord, mid + t},
		}, nil
	default:
		return nil, fmt.Errorf("unknown start rect shape %q", shape)
	}
}

// ParseStartRect validates an explicit four-coordinate form.
func ParseStartRect(args []string) (StartRect, error) {
	if len(args) != 4 {
		return StartRect{}, fmt.Errorf("start rect wants 4 coordinates, got %d", len(args))
	}
	vals := make([]int, 4)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return StartRect{}, fmt.Errorf("start rect coordinate %q: %w", a, err)
		}
		if v < 0 || v > MaxCoord {
			return StartRect{}, fmt.Errorf("start rect coordinate %d out of range 0..%d", v, MaxCoord)
		}
		vals[i] = v
	}
	r := StartRect{Left: vals[0], Top: vals[1], Right: vals[2], Bottom: vals[3]}
	if r.Left > r.Right || r.Top > r.Bottom {
		return StartRect{}, fmt.Errorf("degenerate start rect %v", r)
	}
	return r, nil
}
