package processing

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/wallcrop/pkg/geometry"
)

func testImage(w, h int) *image.NRGBA {
	return imaging.New(w, h, color.NRGBA{64, 64, 64, 255})
}

func TestCropToGeometry(t *testing.T) {
	p := NewProcessor()
	img := testImage(300, 100)
	img.SetNRGBA(150, 50, color.NRGBA{255, 0, 0, 255})

	out, err := p.CropToGeometry(img, geometry.Geometry{X: 100, Y: 0, W: 100, H: 100}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 100, out.Bounds().Dy())

	r, _, _, _ := out.At(50, 50).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestCropToGeometryResizes(t *testing.T) {
	p := NewProcessor()
	out, err := p.CropToGeometry(testImage(300, 100), geometry.Geometry{X: 0, Y: 0, W: 160, H: 90}, 32, 18)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 18), out.Bounds())
}

func TestCropToGeometryOutOfBounds(t *testing.T) {
	p := NewProcessor()
	_, err := p.CropToGeometry(testImage(300, 100), geometry.Geometry{X: 250, Y: 0, W: 100, H: 100}, 0, 0)
	assert.True(t, errors.Is(err, ErrCropOutOfBounds))

	_, err = p.CropToGeometry(testImage(300, 100), geometry.Geometry{}, 0, 0)
	assert.True(t, errors.Is(err, ErrCropOutOfBounds))
}

func TestEncodeForModel(t *testing.T) {
	p := NewProcessor()
	data, scale, err := p.EncodeForModel(testImage(2000, 1000), 500, 80)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, scale, 1e-9)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Width)
	assert.Equal(t, 250, cfg.Height)

	_, scale, err = p.EncodeForModel(testImage(200, 100), 500, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, scale)
}

func TestSaveAndLoad(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()

	for _, format := range []string{"png", "jpg", "webp"} {
		path := filepath.Join(dir, "out."+format)
		require.NoError(t, p.SaveImage(testImage(40, 20), path, format, 90, false), format)

		img, err := p.LoadImage(path)
		require.NoError(t, err, format)
		assert.Equal(t, 40, img.Bounds().Dx(), format)
		assert.Equal(t, 20, img.Bounds().Dy(), format)
	}

	_, err := p.LoadImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestCreateDebugOverlay(t *testing.T) {
	p := NewProcessor()
	img := testImage(300, 100)
	face := geometry.Face{XMin: 10, XMax: 40, YMin: 10, YMax: 40}
	crop := geometry.Geometry{X: 100, Y: 0, W: 100, H: 100}
	candidate := geometry.Geometry{X: 200, Y: 0, W: 100, H: 100}

	out := p.CreateDebugOverlay(img, []geometry.Face{face}, crop, []geometry.Geometry{candidate})
	nrgba, ok := out.(*image.NRGBA)
	require.True(t, ok)

	assert.Equal(t, faceColor, nrgba.NRGBAAt(10, 20))
	assert.Equal(t, cropColor, nrgba.NRGBAAt(100, 50))
	assert.Equal(t, candidateColor, nrgba.NRGBAAt(299, 50))
	assert.Equal(t, color.NRGBA{64, 64, 64, 255}, nrgba.NRGBAAt(150, 50))

	// the source image is untouched
	assert.Equal(t, color.NRGBA{64, 64, 64, 255}, img.NRGBAAt(10, 20))
}
