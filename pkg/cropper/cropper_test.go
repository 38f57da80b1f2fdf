package cropper

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/wallcrop/pkg/geometry"
)

func newCropper(t *testing.T, w, h int, faces ...geometry.Face) *Cropper {
	t.Helper()
	c, err := New(w, h, faces)
	require.NoError(t, err)
	return c
}

func square() geometry.AspectRatio { return geometry.NewAspectRatio(1, 1) }

func TestNewValidatesInput(t *testing.T) {
	_, err := New(0, 100, nil)
	assert.True(t, errors.Is(err, ErrInvalidDimensions))

	_, err = New(100, -1, nil)
	assert.True(t, errors.Is(err, ErrInvalidDimensions))

	_, err = New(100, 100, []geometry.Face{{XMin: 50, XMax: 150, YMin: 0, YMax: 10}})
	assert.True(t, errors.Is(err, geometry.ErrInvalidFace))

	_, err = New(100, 100, []geometry.Face{{XMin: 10, XMax: 10, YMin: 0, YMax: 10}})
	assert.True(t, errors.Is(err, geometry.ErrInvalidFace))
}

func TestNewCopiesFaces(t *testing.T) {
	faces := []geometry.Face{{XMin: 1, XMax: 2, YMin: 1, YMax: 2}}
	c := newCropper(t, 10, 10, faces...)
	faces[0].XMin = 0
	assert.Equal(t, 1, c.Faces()[0].XMin)
}

func TestCropRect(t *testing.T) {
	tests := []struct {
		name    string
		w, h    int
		ratio   geometry.AspectRatio
		wantW   int
		wantH   int
		wantDir geometry.Direction
	}{
		{"identical", 1920, 1080, geometry.NewAspectRatio(16, 9), 1920, 1080, geometry.Y},
		{"square in landscape", 3000, 1000, square(), 1000, 1000, geometry.X},
		{"wide in narrower", 2000, 1000, geometry.NewAspectRatio(16, 9), 1777, 1000, geometry.X},
		{"wide in square", 1000, 1000, geometry.NewAspectRatio(16, 9), 1000, 562, geometry.Y},
		{"square in portrait", 1000, 3000, square(), 1000, 1000, geometry.Y},
		{"vertical in landscape", 1920, 1080, geometry.NewAspectRatio(9, 16), 607, 1080, geometry.X},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCropper(t, tt.w, tt.h)
			w, h, dir := c.CropRect(tt.ratio)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.Equal(t, tt.wantDir, dir)
		})
	}
}

func TestCropRectInvalidRatioPanics(t *testing.T) {
	c := newCropper(t, 100, 100)
	assert.Panics(t, func() { c.CropRect(geometry.AspectRatio{W: 0, H: 9}) })
}

func TestCheckDegenerateCrop(t *testing.T) {
	banner := geometry.NewAspectRatio(1000, 1)

	c := newCropper(t, 1, 1)
	assert.ErrorIs(t, c.Check(banner), ErrDegenerateCrop)
	assert.ErrorIs(t, c.Check(geometry.AspectRatio{}), geometry.ErrInvalidAspectRatio)
	assert.NoError(t, c.Check(square()))
	assert.Panics(t, func() { c.CropRect(banner) })
	assert.Panics(t, func() { c.Crop(banner) })

	thin := newCropper(t, 100, 1,
		geometry.Face{XMin: 0, XMax: 10, YMin: 0, YMax: 1},
		geometry.Face{XMin: 50, XMax: 60, YMin: 0, YMax: 1},
	)
	assert.ErrorIs(t, thin.Check(geometry.NewAspectRatio(1, 1000)), ErrDegenerateCrop)
	assert.Panics(t, func() { thin.CropCandidates(geometry.NewAspectRatio(1, 1000)) })
}

func TestClamp(t *testing.T) {
	c := newCropper(t, 3000, 1000)
	assert.Equal(t, geometry.Geometry{X: 0, Y: 0, W: 1000, H: 1000}, c.Clamp(-250.7, geometry.X, 1000, 1000))
	assert.Equal(t, geometry.Geometry{X: 1234, Y: 0, W: 1000, H: 1000}, c.Clamp(1234.9, geometry.X, 1000, 1000))
	assert.Equal(t, geometry.Geometry{X: 2000, Y: 0, W: 1000, H: 1000}, c.Clamp(5000, geometry.X, 1000, 1000))

	v := newCropper(t, 1000, 3000)
	assert.Equal(t, geometry.Geometry{X: 0, Y: 2000, W: 1000, H: 1000}, v.Clamp(2500, geometry.Y, 1000, 1000))
}

func TestCropIdenticalAspectRatio(t *testing.T) {
	c := newCropper(t, 1920, 1080)
	assert.Equal(t, geometry.Geometry{X: 0, Y: 0, W: 1920, H: 1080}, c.Crop(geometry.NewAspectRatio(16, 9)))
}

func TestCropNoFacesCenters(t *testing.T) {
	c := newCropper(t, 3000, 1000)
	assert.Equal(t, geometry.Geometry{X: 1000, Y: 0, W: 1000, H: 1000}, c.Crop(square()))

	odd := newCropper(t, 1001, 3000)
	assert.Equal(t, geometry.Geometry{X: 0, Y: 999, W: 1001, H: 1001}, odd.Crop(square()))

	narrow := newCropper(t, 3001, 1000)
	assert.Equal(t, 1000, narrow.Crop(square()).X)
}

func TestCropSingleFaceCenters(t *testing.T) {
	c := newCropper(t, 2000, 1000, geometry.Face{XMin: 900, XMax: 1100, YMin: 400, YMax: 600})
	assert.Equal(t, geometry.Geometry{X: 500, Y: 0, W: 1000, H: 1000}, c.Crop(square()))

	edge := newCropper(t, 2000, 1000, geometry.Face{XMin: 1850, XMax: 1990, YMin: 0, YMax: 100})
	assert.Equal(t, geometry.Geometry{X: 1000, Y: 0, W: 1000, H: 1000}, edge.Crop(square()))

	vertical := newCropper(t, 1000, 3000, geometry.Face{XMin: 100, XMax: 300, YMin: 200, YMax: 400})
	assert.Equal(t, geometry.Geometry{X: 0, Y: 0, W: 1000, H: 1000}, vertical.Crop(square()))
}

func TestCropCentersAmongTiedWindows(t *testing.T) {
	// every start in [300, 1000] holds both faces
	c := newCropper(t, 3000, 1000,
		geometry.Face{XMin: 1200, XMax: 1300, YMin: 0, YMax: 100},
		geometry.Face{XMin: 1000, XMax: 1100, YMin: 0, YMax: 100},
	)
	assert.Equal(t, geometry.Geometry{X: 650, Y: 0, W: 1000, H: 1000}, c.Crop(square()))
}

func TestCropPrefersLargerFace(t *testing.T) {
	c := newCropper(t, 4000, 1000,
		geometry.Face{XMin: 100, XMax: 300, YMin: 0, YMax: 200},
		geometry.Face{XMin: 3000, XMax: 3400, YMin: 0, YMax: 400},
	)
	assert.Equal(t, geometry.Geometry{X: 2700, Y: 0, W: 1000, H: 1000}, c.Crop(square()))
}

func TestCropCountsPartialFaces(t *testing.T) {
	// the window at 0 holds the first face and a sixth of the second
	c := newCropper(t, 3000, 1000,
		geometry.Face{XMin: 0, XMax: 600, YMin: 0, YMax: 100},
		geometry.Face{XMin: 900, XMax: 1500, YMin: 0, YMax: 100},
	)
	assert.Equal(t, geometry.Geometry{X: 0, Y: 0, W: 1000, H: 1000}, c.Crop(square()))
}

func TestCropVertical(t *testing.T) {
	c := newCropper(t, 1000, 4000,
		geometry.Face{XMin: 0, XMax: 100, YMin: 2000, YMax: 2100},
		geometry.Face{XMin: 500, XMax: 600, YMin: 2200, YMax: 2300},
	)
	g := c.Crop(square())
	assert.Equal(t, 0, g.X)
	assert.Equal(t, 1650, g.Y)
	assert.Equal(t, 1000, g.W)
	assert.Equal(t, 1000, g.H)
}

func TestCropAll(t *testing.T) {
	c := newCropper(t, 1920, 1080)
	all, err := c.CropAll([]geometry.Resolution{HD, Square})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, geometry.Geometry{X: 0, Y: 0, W: 1920, H: 1080}, all["HD"])
	assert.Equal(t, geometry.Geometry{X: 420, Y: 0, W: 1080, H: 1080}, all["Square"])

	thin := newCropper(t, 100, 1)
	_, err = thin.CropAll([]geometry.Resolution{HD, {Name: "Banner", Ratio: geometry.NewAspectRatio(1000, 1)}})
	assert.ErrorIs(t, err, ErrDegenerateCrop)
}

func TestCropCandidatesTrivial(t *testing.T) {
	c := newCropper(t, 2000, 1000, geometry.Face{XMin: 900, XMax: 1100, YMin: 400, YMax: 600})
	assert.Equal(t, []geometry.Geometry{c.Crop(square())}, c.CropCandidates(square()))

	none := newCropper(t, 3000, 1000)
	assert.Equal(t, []geometry.Geometry{{X: 1000, Y: 0, W: 1000, H: 1000}}, none.CropCandidates(square()))
}

func TestCropCandidatesOnePerArea(t *testing.T) {
	c := newCropper(t, 4000, 1000,
		geometry.Face{XMin: 3000, XMax: 3400, YMin: 0, YMax: 400},
		geometry.Face{XMin: 100, XMax: 300, YMin: 0, YMax: 200},
	)
	candidates := c.CropCandidates(square())
	assert.Equal(t, []geometry.Geometry{
		{X: 50, Y: 0, W: 1000, H: 1000},
		{X: 2700, Y: 0, W: 1000, H: 1000},
	}, candidates)
	assert.Contains(t, candidates, c.Crop(square()))
}

// Windows are grouped by the summed area of every face they fully hold, so
// starts holding both faces never count toward the single-face group.
func TestCropCandidatesGroupBySummedArea(t *testing.T) {
	c := newCropper(t, 2000, 500,
		geometry.Face{XMin: 100, XMax: 200, YMin: 0, YMax: 100},
		geometry.Face{XMin: 300, XMax: 400, YMin: 0, YMax: 200},
	)
	// starts 0..100 hold both faces, 101..300 only the second
	assert.Equal(t, []geometry.Geometry{
		{X: 50, Y: 0, W: 500, H: 500},
		{X: 201, Y: 0, W: 500, H: 500},
	}, c.CropCandidates(square()))
}

func TestCropCandidatesWideFacesFallBack(t *testing.T) {
	// neither face fits inside a 1000px window
	c := newCropper(t, 4000, 1000,
		geometry.Face{XMin: 0, XMax: 1500, YMin: 0, YMax: 100},
		geometry.Face{XMin: 2000, XMax: 3500, YMin: 0, YMax: 100},
	)
	assert.Equal(t, []geometry.Geometry{c.Crop(square())}, c.CropCandidates(square()))
}

// Candidate generation ignores partial faces, so the primary crop is not
// always among the candidates.
func TestCropCandidatesMayOmitPrimary(t *testing.T) {
	c := newCropper(t, 3000, 1000,
		geometry.Face{XMin: 0, XMax: 600, YMin: 0, YMax: 100},
		geometry.Face{XMin: 900, XMax: 1500, YMin: 0, YMax: 100},
	)
	primary := c.Crop(square())
	candidates := c.CropCandidates(square())

	assert.Equal(t, []geometry.Geometry{{X: 700, Y: 0, W: 1000, H: 1000}}, candidates)
	assert.NotContains(t, candidates, primary)
}

func randomFaces(rng *rand.Rand, w, h, n int) []geometry.Face {
	faces := make([]geometry.Face, n)
	for i := range faces {
		fw := 1 + rng.Intn(max(1, w/3))
		fh := 1 + rng.Intn(max(1, h/3))
		x := rng.Intn(w - fw + 1)
		y := rng.Intn(h - fh + 1)
		faces[i] = geometry.Face{XMin: x, XMax: x + fw, YMin: y, YMax: y + fh}
	}
	return faces
}

func TestCropProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ratios := []geometry.AspectRatio{
		square(),
		geometry.NewAspectRatio(16, 9),
		geometry.NewAspectRatio(43, 18),
		geometry.NewAspectRatio(9, 16),
		geometry.NewAspectRatio(3, 2),
	}

	for i := 0; i < 300; i++ {
		w := 50 + rng.Intn(1500)
		h := 50 + rng.Intn(1500)
		faces := randomFaces(rng, w, h, rng.Intn(7))
		c := newCropper(t, w, h, faces...)

		for _, ratio := range ratios {
			tw, th, _ := c.CropRect(ratio)
			g := c.Crop(ratio)

			assert.True(t, g.Fits(w, h), "crop %s outside %dx%d", g, w, h)
			assert.Equal(t, tw, g.W)
			assert.Equal(t, th, g.H)
			assert.Equal(t, g, c.Crop(ratio), "crop is not deterministic")

			if len(faces) >= 2 {
				assert.Equal(t, c.crop(ratio, c.fullRange), g,
					"scan ranges disagree for %dx%d %v %s", w, h, faces, ratio)
			}

			candidates := c.CropCandidates(ratio)
			require.NotEmpty(t, candidates)
			assert.Equal(t, candidates, c.CropCandidates(ratio))
			for j, cand := range candidates {
				assert.True(t, cand.Fits(w, h))
				if j > 0 {
					dir := cand.Direction(w, h)
					assert.Less(t, candidates[j-1].Offset(dir), cand.Offset(dir))
				}
			}
		}
	}
}

func TestCropFullImageForMatchingRatio(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		w := 1 + rng.Intn(4000)
		h := 1 + rng.Intn(4000)
		c := newCropper(t, w, h, randomFaces(rng, w, h, 3)...)
		assert.Equal(t, geometry.Geometry{X: 0, Y: 0, W: w, H: h}, c.Crop(geometry.NewAspectRatio(w, h)))
	}
}
