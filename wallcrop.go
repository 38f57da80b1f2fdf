// Package wallcrop crops wallpapers for several display aspect ratios while
// keeping the detected faces in frame.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/wallcrop"
//		"github.com/menta2k/wallcrop/internal/config"
//		"github.com/menta2k/wallcrop/pkg/cropper"
//	)
//
//	func main() {
//		lib, err := wallcrop.Open(config.Default())
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		// Detect faces, compute every configured crop and store the result
//		rec, err := lib.ProcessImageFile(context.Background(), "wall.png", false)
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println(rec.Geometries["HD"])
//
//		// Crop a known image size without touching the library
//		g, err := lib.Crop(3000, 1000, rec.Faces, cropper.Square.Ratio)
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println(g)
//	}
//
// The package ties together the components under pkg/:
//
// 1. Cropper (pkg/cropper): picks the crop window that keeps the most faces
// 2. Detection (pkg/detection): external command, pigo cascade or vision model
// 3. Store (pkg/store): faces and crops per wallpaper in a CSV file
// 4. Pipeline (pkg/pipeline): concurrent batch processing and export
package wallcrop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"strings"

	"github.com/menta2k/wallcrop/internal/config"
	"github.com/menta2k/wallcrop/pkg/analyzer"
	"github.com/menta2k/wallcrop/pkg/client"
	"github.com/menta2k/wallcrop/pkg/cropper"
	"github.com/menta2k/wallcrop/pkg/detection"
	"github.com/menta2k/wallcrop/pkg/geometry"
	"github.com/menta2k/wallcrop/pkg/llamacpp"
	"github.com/menta2k/wallcrop/pkg/ollama"
	"github.com/menta2k/wallcrop/pkg/pipeline"
	"github.com/menta2k/wallcrop/pkg/processing"
	"github.com/menta2k/wallcrop/pkg/store"
)

// Version of the wallcrop library
const Version = "1.0.0"

var (
	// ErrNotStored is returned for images missing from the library
	ErrNotStored = errors.New("image not in the library")
	// ErrDuplicateResolution is returned when a ratio is already configured under another name
	ErrDuplicateResolution = errors.New("aspect ratio already configured")
	// ErrNoWallpaperCommand is returned by SetWallpaper when library.wallpaper_command is empty
	ErrNoWallpaperCommand = errors.New("no wallpaper command configured")
)

// Library ties the configuration, a face detector and the store together
type Library struct {
	cfg      *config.Config
	detector detection.FaceDetector
	store    store.Store
	proc     *processing.Processor
	analyzer *analyzer.Analyzer
	pipeline *pipeline.Pipeline
}

// New creates a Library from its parts
func New(cfg *config.Config, detector detection.FaceDetector, st store.Store, opts ...pipeline.Option) *Library {
	return &Library{
		cfg:      cfg,
		detector: detector,
		store:    st,
		proc:     processing.NewProcessor(),
		analyzer: analyzer.New(),
		pipeline: pipeline.New(cfg, detector, st, opts...),
	}
}

// Open builds the configured detector, loads the CSV store and returns the Library
func Open(cfg *config.Config, opts ...pipeline.Option) (*Library, error) {
	detector, err := NewDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenCSVStore(cfg.Library.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load library: %w", err)
	}

	return New(cfg, detector, st, opts...), nil
}

// NewDetector builds the face detector selected by the configuration
func NewDetector(cfg config.DetectorConfig) (detection.FaceDetector, error) {
	switch cfg.Kind {
	case config.DetectorExec:
		return detection.NewExecDetector(cfg.Command...), nil
	case config.DetectorPigo:
		d, err := detection.NewPigoDetectorFromFile(cfg.Cascade, cfg.Pigo)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.DetectorOllama, config.DetectorLlamaCpp:
		var (
			vc  client.VisionClient
			err error
		)
		if cfg.Kind == config.DetectorOllama {
			vc, err = ollama.NewClient(cfg.URL)
		} else {
			vc, err = llamacpp.NewClient(cfg.URL)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", cfg.Kind, err)
		}
		return detection.NewVisionDetector(vc, cfg.Model, cfg.MaxDim), nil
	default:
		return nil, fmt.Errorf("%w: %q", detection.ErrNoDetector, cfg.Kind)
	}
}

// Config returns the library configuration
func (l *Library) Config() *config.Config { return l.cfg }

// Store returns the record store
func (l *Library) Store() store.Store { return l.store }

// Pipeline returns the batch pipeline
func (l *Library) Pipeline() *pipeline.Pipeline { return l.pipeline }

// DetectFaces reads the image size and returns the detected faces clipped to it
func (l *Library) DetectFaces(ctx context.Context, path string) (analyzer.ImageInfo, []geometry.Face, error) {
	info, err := l.analyzer.Probe(path)
	if err != nil {
		return analyzer.ImageInfo{}, nil, err
	}

	faces, err := l.detector.DetectFaces(ctx, path)
	if err != nil {
		return analyzer.ImageInfo{}, nil, fmt.Errorf("face detection failed: %w", err)
	}
	return info, detection.NormalizeFaces(faces, info.Width, info.Height), nil
}

// Crop returns the best crop of the given ratio for an image of the given size
func (l *Library) Crop(width, height int, faces []geometry.Face, ratio geometry.AspectRatio) (geometry.Geometry, error) {
	c, err := cropper.New(width, height, faces)
	if err != nil {
		return geometry.Geometry{}, err
	}
	if err := c.Check(ratio); err != nil {
		return geometry.Geometry{}, err
	}
	return c.Crop(ratio), nil
}

// Candidates returns the alternative crops of the given ratio, ordered by offset
func (l *Library) Candidates(width, height int, faces []geometry.Face, ratio geometry.AspectRatio) ([]geometry.Geometry, error) {
	c, err := cropper.New(width, height, faces)
	if err != nil {
		return nil, err
	}
	if err := c.Check(ratio); err != nil {
		return nil, err
	}
	return c.CropCandidates(ratio), nil
}

// CropImage loads an image and cuts out the crop for res. The stored crop is
// used when the image is in the library; otherwise faces are detected.
func (l *Library) CropImage(ctx context.Context, path string, res geometry.Resolution) (image.Image, geometry.Geometry, error) {
	img, err := l.proc.LoadImage(path)
	if err != nil {
		return nil, geometry.Geometry{}, fmt.Errorf("failed to load image: %w", err)
	}
	b := img.Bounds()

	var g geometry.Geometry
	if rec, ok := l.store.Get(l.pipeline.Key(path)); ok && rec.Width == b.Dx() && rec.Height == b.Dy() {
		g, err = rec.Geometry(res)
	} else {
		var faces []geometry.Face
		if faces, err = l.detector.DetectFaces(ctx, path); err != nil {
			return nil, geometry.Geometry{}, fmt.Errorf("face detection failed: %w", err)
		}
		g, err = l.Crop(b.Dx(), b.Dy(), detection.NormalizeFaces(faces, b.Dx(), b.Dy()), res.Ratio)
	}
	if err != nil {
		return nil, geometry.Geometry{}, err
	}

	cropped, err := l.proc.CropToGeometry(img, g, 0, 0)
	if err != nil {
		return nil, geometry.Geometry{}, err
	}
	return cropped, g, nil
}

// ProcessImageFile detects faces in one image, computes the crops of every
// configured resolution and stores them
func (l *Library) ProcessImageFile(ctx context.Context, path string, force bool) (store.Record, error) {
	res, err := l.pipeline.Run(ctx, []string{path}, pipeline.Options{Force: force})
	if err != nil {
		return store.Record{}, err
	}
	if err := res.Err(); err != nil {
		return store.Record{}, err
	}

	rec, ok := l.store.Get(l.pipeline.Key(path))
	if !ok {
		return store.Record{}, fmt.Errorf("%w: %s", ErrNotStored, path)
	}
	return rec, nil
}

// AddResolution adds res to the configuration and gives every stored image
// a crop for it. It returns the images whose new crop follows a hand
// adjusted crop and should be reviewed. The caller saves the configuration.
func (l *Library) AddResolution(res geometry.Resolution) ([]string, error) {
	if !res.Ratio.Valid() {
		return nil, geometry.ErrInvalidAspectRatio
	}

	var closest *geometry.Resolution
	if c, ok := l.cfg.ClosestResolution(res.Ratio); ok {
		closest = &c
	}
	if !l.cfg.AddResolution(res) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateResolution, res.Ratio)
	}

	var review []string
	for _, name := range l.store.Filenames() {
		rec, ok := l.store.Get(name)
		if !ok {
			continue
		}
		changed, err := rec.AddResolution(res, closest)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		l.store.Put(rec)
		if changed {
			review = append(review, name)
		}
	}

	if err := l.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save library: %w", err)
	}
	return review, nil
}

// SetWallpaper runs the configured wallpaper command through sh for path.
// A "$1" in the command is replaced by the quoted path; otherwise the path
// is appended.
func (l *Library) SetWallpaper(ctx context.Context, path string) error {
	cmdLine := l.cfg.Library.WallpaperCommand
	if cmdLine == "" {
		return ErrNoWallpaperCommand
	}

	quoted := "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
	if strings.Contains(cmdLine, "$1") {
		cmdLine = strings.ReplaceAll(cmdLine, "$1", quoted)
	} else {
		cmdLine += " " + quoted
	}

	out, err := exec.CommandContext(ctx, "sh", "-c", cmdLine).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("wallpaper command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("wallpaper command failed: %w", err)
	}
	return nil
}

// FaceFilter selects stored images by their number of faces
type FaceFilter int

const (
	FacesAll FaceFilter = iota
	FacesZero
	FacesOne
	FacesMany
)

// ParseFaceFilter parses "all", "zero", "one" or "many"
func ParseFaceFilter(s string) (FaceFilter, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return FacesAll, nil
	case "zero", "none":
		return FacesZero, nil
	case "one", "single":
		return FacesOne, nil
	case "many", "multiple":
		return FacesMany, nil
	}
	return FacesAll, fmt.Errorf("unknown face filter %q, use: all, zero, one, many", s)
}

func (f FaceFilter) match(n int) bool {
	switch f {
	case FacesZero:
		return n == 0
	case FacesOne:
		return n == 1
	case FacesMany:
		return n > 1
	}
	return true
}

// Filter selects stored images
type Filter struct {
	Faces FaceFilter
	// Modified keeps images with at least one hand adjusted crop
	Modified bool
	// Unmodified keeps images that only use computed crops
	Unmodified bool
}

// List returns the stored images matching the filter, in natural order
func (l *Library) List(f Filter) ([]string, error) {
	var out []string
	for _, name := range l.store.Filenames() {
		rec, ok := l.store.Get(name)
		if !ok || !f.Faces.match(len(rec.Faces)) {
			continue
		}

		if f.Modified != f.Unmodified {
			isDefault, err := rec.IsDefaultCrops(l.cfg.Resolutions)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if f.Modified == isDefault {
				continue
			}
		}
		out = append(out, name)
	}
	return out, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
