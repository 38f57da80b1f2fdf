package processing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/wallcrop/pkg/geometry"
)

// ErrCropOutOfBounds is returned when a crop rectangle does not fit the image
var ErrCropOutOfBounds = errors.New("crop rectangle outside image bounds")

// Processor handles image decoding, cropping and encoding
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
		if _, err := f.Seek(0, 0); err != nil {
			return nil, err
		}
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("image: unknown format for %s: %w", path, err)
	}
	return img, nil
}

// EncodeForModel downsizes an image so its longest side is at most maxDim
// and encodes it as JPEG for a vision model. It returns the encoded bytes
// and the scale factor from the encoded image back to the original.
func (p *Processor) EncodeForModel(img image.Image, maxDim, quality int) ([]byte, float64, error) {
	scale := 1.0
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
				scale = float64(w) / float64(img.Bounds().Dx())
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
				scale = float64(h) / float64(img.Bounds().Dy())
			}
		}
	}

	if quality <= 0 || quality > 100 {
		quality = 85
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), scale, nil
}

// CropToGeometry cuts the crop rectangle out of the image. When width and
// height are positive the result is resized to exactly that size.
func (p *Processor) CropToGeometry(img image.Image, g geometry.Geometry, width, height int) (image.Image, error) {
	b := img.Bounds()
	if g.W <= 0 || g.H <= 0 || !g.Fits(b.Dx(), b.Dy()) {
		return nil, fmt.Errorf("%w: %s in %dx%d", ErrCropOutOfBounds, g, b.Dx(), b.Dy())
	}

	cropped := imaging.Crop(img, g.Rect().Add(b.Min))
	if width > 0 && height > 0 && (width != g.W || height != g.H) {
		cropped = imaging.Resize(cropped, width, height, imaging.Lanczos)
	}
	return cropped, nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

var (
	faceColor      = color.NRGBA{0, 255, 0, 255}
	cropColor      = color.NRGBA{255, 204, 0, 255}
	candidateColor = color.NRGBA{0, 170, 255, 255}
)

// CreateDebugOverlay draws face boxes in green, candidate crops in blue and
// the chosen crop in gold on a copy of the image
func (p *Processor) CreateDebugOverlay(img image.Image, faces []geometry.Face, crop geometry.Geometry, candidates []geometry.Geometry) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))

	for _, c := range candidates {
		drawRect(nrgba, c.Rect(), candidateColor, max(1, stroke/2))
	}
	for _, f := range faces {
		drawRect(nrgba, f.Geometry().Rect(), faceColor, stroke)
	}
	if crop.W > 0 && crop.H > 0 {
		drawRect(nrgba, crop.Rect(), cropColor, stroke)
	}

	return nrgba
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	x0, x1 = max(x0, b.Min.X), min(x1, b.Max.X)
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	y0, y1 = max(y0, b.Min.Y), min(y1, b.Max.Y)
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}
