package geometry

import (
	"encoding/json"
	"fmt"
)

// Face is a detected bounding box in image pixel space, in the
// detector's {xmin,xmax,ymin,ymax} layout.
type Face struct {
	XMin int `json:"xmin"`
	XMax int `json:"xmax"`
	YMin int `json:"ymin"`
	YMax int `json:"ymax"`
}

// FaceFromGeometry converts a rectangle to a face box
func FaceFromGeometry(g Geometry) Face {
	return Face{XMin: g.X, XMax: g.XMax(), YMin: g.Y, YMax: g.YMax()}
}

// Width returns xmax-xmin
func (f Face) Width() int { return f.XMax - f.XMin }

// Height returns ymax-ymin
func (f Face) Height() int { return f.YMax - f.YMin }

// Area returns the box area in pixels
func (f Face) Area() int { return f.Width() * f.Height() }

// Bounds returns the (min, max) extent along the given axis
func (f Face) Bounds(dir Direction) (int, int) {
	if dir == X {
		return f.XMin, f.XMax
	}
	return f.YMin, f.YMax
}

// CrossExtent returns the face size perpendicular to dir
func (f Face) CrossExtent(dir Direction) int {
	if dir == X {
		return f.Height()
	}
	return f.Width()
}

// Geometry converts the face box to a rectangle
func (f Face) Geometry() Geometry {
	return Geometry{X: f.XMin, Y: f.YMin, W: f.Width(), H: f.Height()}
}

// Valid reports whether the box is non-negative and non-empty
func (f Face) Valid() bool {
	return f.XMin >= 0 && f.YMin >= 0 && f.XMin < f.XMax && f.YMin < f.YMax
}

// Inside reports whether the box lies within an image of the given size
func (f Face) Inside(imgW, imgH int) bool {
	return f.Valid() && f.XMax <= imgW && f.YMax <= imgH
}

// Clip intersects the box with the image bounds. The second return value
// is false when nothing of the box remains.
func (f Face) Clip(imgW, imgH int) (Face, bool) {
	f.XMin = max(f.XMin, 0)
	f.YMin = max(f.YMin, 0)
	f.XMax = min(f.XMax, imgW)
	f.YMax = min(f.YMax, imgH)
	return f, f.Valid()
}

func (f Face) String() string {
	return f.Geometry().String()
}

// ParseFaces decodes a JSON array of face boxes
func ParseFaces(data []byte) ([]Face, error) {
	var faces []Face
	if err := json.Unmarshal(data, &faces); err != nil {
		return nil, fmt.Errorf("decoding faces: %w", err)
	}
	if faces == nil {
		faces = []Face{}
	}
	return faces, nil
}
