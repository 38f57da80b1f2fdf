package analyzer

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/menta2k/wallcrop/pkg/geometry"
)

const (
	// MaxUpscale is the largest integer scale an image may need to reach the minimum size
	MaxUpscale = 4
	// WebPMaxDimension is the largest width or height a WebP file can store
	WebPMaxDimension = 16383
)

var (
	// ErrUnsupportedFormat is returned for images outside the supported formats
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooSmall is returned for images below the minimum wallpaper size
	ErrTooSmall = errors.New("image too small")
)

// Analyzer reads image metadata without decoding pixels
type Analyzer struct {
	config Config
}

// Config holds the minimum wallpaper size and accepted formats
type Config struct {
	MinWidth         int
	MinHeight        int
	SupportedFormats []string
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Path   string
	Format string
	Width  int
	Height int
}

// AspectRatio returns the reduced width:height ratio
func (i ImageInfo) AspectRatio() geometry.AspectRatio {
	return geometry.NewAspectRatio(i.Width, i.Height)
}

// Area returns width*height
func (i ImageInfo) Area() int {
	return i.Width * i.Height
}

// New creates a new Analyzer with default configuration
func New() *Analyzer {
	return &Analyzer{
		config: Config{
			MinWidth:         1920,
			MinHeight:        1080,
			SupportedFormats: []string{"jpeg", "png", "webp"},
		},
	}
}

// NewWithConfig creates a new Analyzer with custom configuration
func NewWithConfig(config Config) *Analyzer {
	if len(config.SupportedFormats) == 0 {
		config.SupportedFormats = New().config.SupportedFormats
	}
	return &Analyzer{config: config}
}

// Probe reads the dimensions and format of an image file from its header
func (a *Analyzer) Probe(path string) (ImageInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to open image file: %w", err)
	}
	defer file.Close()

	info, err := a.ProbeReader(file)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%s: %w", path, err)
	}
	info.Path = path
	return info, nil
}

// ProbeReader reads the dimensions and format of an image from a reader
func (a *Analyzer) ProbeReader(r io.Reader) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to decode image header: %w", err)
	}

	if !a.isFormatSupported(format) {
		return ImageInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}

	return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func (a *Analyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

// Validate checks that an image meets the minimum wallpaper size
func (a *Analyzer) Validate(info ImageInfo) error {
	if info.Width < a.config.MinWidth || info.Height < a.config.MinHeight {
		return fmt.Errorf("%w: %dx%d (minimum: %dx%d)", ErrTooSmall,
			info.Width, info.Height, a.config.MinWidth, a.config.MinHeight)
	}
	return nil
}

// UpscaleFactor returns the smallest integer scale, up to MaxUpscale, that
// brings the image to the minimum size. It returns 0 when no such scale
// exists or the scaled image would exceed WebPMaxDimension.
func (a *Analyzer) UpscaleFactor(info ImageInfo) int {
	for scale := 1; scale <= MaxUpscale; scale++ {
		w, h := info.Width*scale, info.Height*scale
		if w < a.config.MinWidth || h < a.config.MinHeight {
			continue
		}
		if w > WebPMaxDimension || h > WebPMaxDimension {
			return 0
		}
		return scale
	}
	return 0
}
