package geometry

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Direction is the axis along which a crop rectangle is free to move
type Direction int

const (
	// X means the crop spans the full image height and slides horizontally
	X Direction = iota
	// Y means the crop spans the full image width and slides vertically
	Y
)

func (d Direction) String() string {
	if d == X {
		return "X"
	}
	return "Y"
}

// Geometry is an axis aligned rectangle in image pixel space
// and serializes as "<w>x<h>+<x>+<y>".
type Geometry struct {
	X, Y, W, H int
}

// ParseGeometry parses "<w>x<h>+<x>+<y>"
func ParseGeometry(s string) (Geometry, error) {
	s = strings.TrimSpace(s)
	size, offset, ok := strings.Cut(s, "+")
	if !ok {
		return Geometry{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	wStr, hStr, ok := strings.Cut(size, "x")
	if !ok {
		return Geometry{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	xStr, yStr, ok := strings.Cut(offset, "+")
	if !ok {
		return Geometry{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}

	var vals [4]int
	for i, field := range []string{wStr, hStr, xStr, yStr} {
		v, err := strconv.Atoi(field)
		if err != nil || v < 0 {
			return Geometry{}, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
		}
		vals[i] = v
	}

	return Geometry{W: vals[0], H: vals[1], X: vals[2], Y: vals[3]}, nil
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", g.W, g.H, g.X, g.Y)
}

// XMax returns the exclusive right edge
func (g Geometry) XMax() int { return g.X + g.W }

// YMax returns the exclusive bottom edge
func (g Geometry) YMax() int { return g.Y + g.H }

// Area returns w*h
func (g Geometry) Area() int { return g.W * g.H }

// Rect converts the geometry to an image.Rectangle
func (g Geometry) Rect() image.Rectangle {
	return image.Rect(g.X, g.Y, g.XMax(), g.YMax())
}

// Bounds returns the (start, end) extent along the given axis
func (g Geometry) Bounds(dir Direction) (int, int) {
	if dir == X {
		return g.X, g.XMax()
	}
	return g.Y, g.YMax()
}

// Offset returns the position along the given axis
func (g Geometry) Offset(dir Direction) int {
	if dir == X {
		return g.X
	}
	return g.Y
}

// Direction returns the free axis of g inside an image of the given size.
// A crop spanning the full image height slides along X.
func (g Geometry) Direction(imgW, imgH int) Direction {
	if g.H == imgH {
		return X
	}
	return Y
}

// Fits reports whether g lies entirely within an image of the given size
func (g Geometry) Fits(imgW, imgH int) bool {
	return g.X >= 0 && g.Y >= 0 && g.W >= 0 && g.H >= 0 &&
		g.XMax() <= imgW && g.YMax() <= imgH
}

// AlignStart moves the crop to the origin
func (g Geometry) AlignStart(imgW, imgH int) Geometry {
	g.X, g.Y = 0, 0
	return g
}

// AlignCenter centers the crop along its free axis
func (g Geometry) AlignCenter(imgW, imgH int) Geometry {
	if g.Direction(imgW, imgH) == X {
		g.X, g.Y = (imgW-g.W)/2, 0
	} else {
		g.X, g.Y = 0, (imgH-g.H)/2
	}
	return g
}

// AlignEnd moves the crop to the far end of its free axis
func (g Geometry) AlignEnd(imgW, imgH int) Geometry {
	if g.Direction(imgW, imgH) == X {
		g.X, g.Y = imgW-g.W, 0
	} else {
		g.X, g.Y = 0, imgH-g.H
	}
	return g
}

// MarshalText implements encoding.TextMarshaler
func (g Geometry) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (g *Geometry) UnmarshalText(text []byte) error {
	parsed, err := ParseGeometry(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
