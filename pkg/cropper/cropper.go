package cropper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/menta2k/wallcrop/pkg/geometry"
)

var (
	// ErrInvalidDimensions is returned for images with a non-positive width or height
	ErrInvalidDimensions = errors.New("invalid image dimensions")
	// ErrDegenerateCrop is returned when the image is too thin to hold a
	// crop of the requested ratio
	ErrDegenerateCrop = errors.New("crop rectangle has zero size")
)

// epsilon is the float32 machine epsilon used when comparing face weights
const epsilon float32 = 0x1p-23

// Common target resolutions
var (
	HD        = geometry.Resolution{Name: "HD", Ratio: geometry.MustParseAspectRatio("1920x1080")}
	Ultrawide = geometry.Resolution{Name: "Ultrawide", Ratio: geometry.MustParseAspectRatio("3440x1440")}
	Vertical  = geometry.Resolution{Name: "Vertical", Ratio: geometry.MustParseAspectRatio("1440x2560")}
	Framework = geometry.Resolution{Name: "Framework", Ratio: geometry.MustParseAspectRatio("2256x1504")}
	Square    = geometry.Resolution{Name: "Square", Ratio: geometry.MustParseAspectRatio("1x1")}
)

// CommonResolutions returns a list of commonly used wallpaper resolutions
func CommonResolutions() []geometry.Resolution {
	return []geometry.Resolution{HD, Ultrawide, Vertical, Framework, Square}
}

// Cropper computes face aware crop rectangles for a single image.
// It holds no mutable state and is safe for concurrent use.
type Cropper struct {
	width  int
	height int
	faces  []geometry.Face
}

// New creates a Cropper for an image of the given size and its detected faces
func New(width, height int, faces []geometry.Face) (*Cropper, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}

	for i, f := range faces {
		if !f.Inside(width, height) {
			return nil, fmt.Errorf("%w: face %d (%s) in %dx%d image", geometry.ErrInvalidFace, i, f, width, height)
		}
	}

	owned := make([]geometry.Face, len(faces))
	copy(owned, faces)

	return &Cropper{width: width, height: height, faces: owned}, nil
}

// Width returns the image width
func (c *Cropper) Width() int { return c.width }

// Height returns the image height
func (c *Cropper) Height() int { return c.height }

// Faces returns a copy of the face list
func (c *Cropper) Faces() []geometry.Face {
	out := make([]geometry.Face, len(c.faces))
	copy(out, c.faces)
	return out
}

// extent returns the image size along an axis
func (c *Cropper) extent(dir geometry.Direction) int {
	if dir == geometry.X {
		return c.width
	}
	return c.height
}

// Check reports whether a crop of the given ratio can be computed for this
// image. Crop, CropCandidates and CropRect panic when it returns an error.
func (c *Cropper) Check(ratio geometry.AspectRatio) error {
	if !ratio.Valid() {
		return fmt.Errorf("%w: %s", geometry.ErrInvalidAspectRatio, ratio)
	}
	if w, h, _ := c.rect(ratio); w == 0 || h == 0 {
		return fmt.Errorf("%w: %s in %dx%d image", ErrDegenerateCrop, ratio, c.width, c.height)
	}
	return nil
}

// CropRect returns the largest rectangle of the given ratio that fits the
// image, and the axis along which it is free to move.
func (c *Cropper) CropRect(ratio geometry.AspectRatio) (int, int, geometry.Direction) {
	if err := c.Check(ratio); err != nil {
		panic("cropper: " + err.Error())
	}
	return c.rect(ratio)
}

func (c *Cropper) rect(ratio geometry.AspectRatio) (int, int, geometry.Direction) {
	tw, th := ratio.W, ratio.H
	cropW := min(c.width, c.height*tw/th)
	cropH := min(c.height, c.width*th/tw)

	if cropW*th <= cropH*tw {
		cropW = cropH * tw / th
	}

	if cropW == c.width {
		return cropW, cropH, geometry.Y
	}
	return cropW, cropH, geometry.X
}

// Clamp builds a crop rectangle at the given offset along dir. The offset is
// truncated and kept inside the image; the fixed axis is pinned to zero.
func (c *Cropper) Clamp(val float64, dir geometry.Direction, tw, th int) geometry.Geometry {
	offset := int(val)
	if dir == geometry.X {
		return geometry.Geometry{X: clampInt(offset, 0, c.width-tw), Y: 0, W: tw, H: th}
	}
	return geometry.Geometry{X: 0, Y: clampInt(offset, 0, c.height-th), W: tw, H: th}
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return max(lo, min(v, hi))
}

// Crop returns the best crop rectangle for the given ratio
func (c *Cropper) Crop(ratio geometry.AspectRatio) geometry.Geometry {
	return c.crop(ratio, c.narrowRange)
}

// CropAll computes the crop for every resolution, keyed by resolution name
func (c *Cropper) CropAll(resolutions []geometry.Resolution) (map[string]geometry.Geometry, error) {
	for _, res := range resolutions {
		if err := c.Check(res.Ratio); err != nil {
			return nil, fmt.Errorf("%s: %w", res.Name, err)
		}
	}

	out := make(map[string]geometry.Geometry, len(resolutions))
	for _, res := range resolutions {
		out[res.Name] = c.Crop(res.Ratio)
	}
	return out, nil
}

// trivial resolves the cases that need no window search
func (c *Cropper) trivial(dir geometry.Direction, tw, th int) (geometry.Geometry, bool) {
	if tw == c.width && th == c.height {
		return geometry.Geometry{X: 0, Y: 0, W: c.width, H: c.height}, true
	}

	switch len(c.faces) {
	case 0:
		return c.centered(dir, tw, th), true
	case 1:
		lo, hi := c.faces[0].Bounds(dir)
		target := tw
		if dir == geometry.Y {
			target = th
		}
		return c.Clamp(float64(lo+hi-target)/2.0, dir, tw, th), true
	}

	return geometry.Geometry{}, false
}

func (c *Cropper) centered(dir geometry.Direction, tw, th int) geometry.Geometry {
	if dir == geometry.X {
		return geometry.Geometry{X: (c.width - tw) / 2, Y: 0, W: tw, H: th}
	}
	return geometry.Geometry{X: 0, Y: (c.height - th) / 2, W: tw, H: th}
}

// sortedFaces returns the faces ordered by leading edge along dir
func (c *Cropper) sortedFaces(dir geometry.Direction) []geometry.Face {
	faces := c.Faces()
	sort.SliceStable(faces, func(i, j int) bool {
		a, _ := faces[i].Bounds(dir)
		b, _ := faces[j].Bounds(dir)
		return a < b
	})
	return faces
}

// scanRange yields the inclusive range of window starts to evaluate
type scanRange func(faces []geometry.Face, dir geometry.Direction, target int) (int, int)

// fullRange scans every possible window start
func (c *Cropper) fullRange(_ []geometry.Face, dir geometry.Direction, target int) (int, int) {
	return 0, c.extent(dir) - target
}

// narrowRange skips window starts that cannot touch any face. A window
// ending before the first leading edge or starting after the last trailing
// edge scores zero and is never recorded.
func (c *Cropper) narrowRange(faces []geometry.Face, dir geometry.Direction, target int) (int, int) {
	first, _ := faces[0].Bounds(dir)
	trailing := 0
	for _, f := range faces {
		_, hi := f.Bounds(dir)
		trailing = max(trailing, hi)
	}
	return max(first-target, 0), min(trailing, c.extent(dir)-target)
}

type window struct {
	start int
	area  int
}

// score returns the weighted face count and covered face area of the window
// [start, end]. Faces must be sorted by leading edge.
func score(faces []geometry.Face, dir geometry.Direction, start, end int) (float32, int) {
	var weight float32
	area := 0
	for _, f := range faces {
		lo, hi := f.Bounds(dir)
		if lo > end {
			break
		}
		if hi < start {
			continue
		}

		switch {
		case lo >= start && hi <= end:
			weight += 1.0
			area += f.Area()
		case lo <= end && hi > end:
			weight += float32(end-lo) / float32(hi-lo)
			area += (end - lo) * f.CrossExtent(dir)
		}
	}
	return weight, area
}

// containedArea sums the area of the faces fully inside [start, end]
func containedArea(faces []geometry.Face, dir geometry.Direction, start, end int) int {
	area := 0
	for _, f := range faces {
		lo, hi := f.Bounds(dir)
		if lo > end {
			break
		}
		if lo >= start && hi <= end {
			area += f.Area()
		}
	}
	return area
}

func (c *Cropper) crop(ratio geometry.AspectRatio, scan scanRange) geometry.Geometry {
	tw, th, dir := c.CropRect(ratio)
	if g, ok := c.trivial(dir, tw, th); ok {
		return g
	}

	target := tw
	if dir == geometry.Y {
		target = th
	}

	faces := c.sortedFaces(dir)
	lo, hi := scan(faces, dir, target)

	var best float32
	var tied []window
	for start := lo; start <= hi; start++ {
		weight, area := score(faces, dir, start, start+target)
		if weight <= 0 {
			continue
		}

		diff := weight - best
		if diff < 0 {
			diff = -diff
		}

		switch {
		case weight > best:
			best = weight
			tied = append(tied[:0], window{start: start, area: area})
		case diff < epsilon:
			tied = append(tied, window{start: start, area: area})
		}
	}

	if len(tied) == 0 {
		return c.centered(dir, tw, th)
	}

	// windows were recorded in start order, so the largest area subset stays sorted
	maxArea := 0
	for _, w := range tied {
		maxArea = max(maxArea, w.area)
	}
	widest := tied[:0]
	for _, w := range tied {
		if w.area == maxArea {
			widest = append(widest, w)
		}
	}

	return c.Clamp(float64(widest[len(widest)/2].start), dir, tw, th)
}

// CropCandidates returns the plausible crop rectangles for the given ratio,
// one per distinct covered face area, ordered along the free axis.
func (c *Cropper) CropCandidates(ratio geometry.AspectRatio) []geometry.Geometry {
	tw, th, dir := c.CropRect(ratio)
	if g, ok := c.trivial(dir, tw, th); ok {
		return []geometry.Geometry{g}
	}

	target := tw
	if dir == geometry.Y {
		target = th
	}

	faces := c.sortedFaces(dir)
	lo, hi := c.narrowRange(faces, dir, target)

	var windows []window
	for start := lo; start <= hi; start++ {
		if area := containedArea(faces, dir, start, start+target); area > 0 {
			windows = append(windows, window{start: start, area: area})
		}
	}

	if len(windows) == 0 {
		return []geometry.Geometry{c.crop(ratio, c.narrowRange)}
	}

	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].area < windows[j].area
	})

	var candidates []geometry.Geometry
	for i := 0; i < len(windows); {
		j := i
		for j < len(windows) && windows[j].area == windows[i].area {
			j++
		}
		group := windows[i:j]
		candidates = append(candidates, c.Clamp(float64(group[len(group)/2].start), dir, tw, th))
		i = j
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Offset(dir) < candidates[j].Offset(dir)
	})

	unique := candidates[:1]
	for _, g := range candidates[1:] {
		if g != unique[len(unique)-1] {
			unique = append(unique, g)
		}
	}
	return unique
}
