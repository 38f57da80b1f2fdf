// Package geometry holds the value types shared by the cropper and its
// collaborators: aspect ratios, crop rectangles and face bounding boxes.
package geometry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidAspectRatio is returned when a "<w>x<h>" string cannot be parsed
	ErrInvalidAspectRatio = errors.New("invalid aspect ratio")
	// ErrInvalidCoordinate is returned when a "<w>x<h>+<x>+<y>" string cannot be parsed
	ErrInvalidCoordinate = errors.New("invalid geometry coordinates")
	// ErrInvalidFace is returned for degenerate or out of bounds face boxes
	ErrInvalidFace = errors.New("invalid face bounding box")
)

// gcd is Euclid's algorithm; gcd(0, x) == x
func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// AspectRatio is a width:height pair kept in lowest terms
type AspectRatio struct {
	W int
	H int
}

// NewAspectRatio creates a reduced aspect ratio. It panics when both terms are zero.
func NewAspectRatio(w, h int) AspectRatio {
	d := gcd(w, h)
	if d == 0 {
		panic("geometry: aspect ratio 0x0")
	}
	if d < 0 {
		d = -d
	}
	return AspectRatio{W: w / d, H: h / d}
}

// ParseAspectRatio parses a ratio in the form "<w>x<h>"
func ParseAspectRatio(s string) (AspectRatio, error) {
	parts := strings.Split(strings.TrimSpace(s), "x")
	if len(parts) != 2 {
		return AspectRatio{}, fmt.Errorf("%w: %q", ErrInvalidAspectRatio, s)
	}

	var terms [2]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v <= 0 {
			return AspectRatio{}, fmt.Errorf("%w: %q", ErrInvalidAspectRatio, s)
		}
		terms[i] = v
	}

	return NewAspectRatio(terms[0], terms[1]), nil
}

// MustParseAspectRatio is like ParseAspectRatio but panics on error
func MustParseAspectRatio(s string) AspectRatio {
	r, err := ParseAspectRatio(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Valid reports whether both terms are positive
func (r AspectRatio) Valid() bool {
	return r.W > 0 && r.H > 0
}

// Float returns w/h
func (r AspectRatio) Float() float64 {
	return float64(r.W) / float64(r.H)
}

func (r AspectRatio) String() string {
	return fmt.Sprintf("%dx%d", r.W, r.H)
}

// Compare orders ratios by their floating point quotient
func (r AspectRatio) Compare(o AspectRatio) int {
	a, b := r.Float(), o.Float()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether r is narrower than o
func (r AspectRatio) Less(o AspectRatio) bool {
	return r.Compare(o) < 0
}

// MarshalText implements encoding.TextMarshaler
func (r AspectRatio) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *AspectRatio) UnmarshalText(text []byte) error {
	parsed, err := ParseAspectRatio(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
