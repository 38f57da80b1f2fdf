package detection

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/menta2k/wallcrop/pkg/geometry"
	"github.com/menta2k/wallcrop/pkg/processing"
)

// PigoParams tunes the pigo cascade
type PigoParams struct {
	MinSize          int     `json:"min_size" toml:"min_size"`
	MaxSize          int     `json:"max_size" toml:"max_size"`
	ShiftFactor      float64 `json:"shift_factor" toml:"shift_factor"`
	ScaleFactor      float64 `json:"scale_factor" toml:"scale_factor"`
	IoUThreshold     float64 `json:"iou_threshold" toml:"iou_threshold"`
	QualityThreshold float32 `json:"quality_threshold" toml:"quality_threshold"`
}

// DefaultPigoParams returns the commonly used facefinder settings
func DefaultPigoParams() PigoParams {
	return PigoParams{
		MinSize:          20,
		MaxSize:          2000,
		ShiftFactor:      0.1,
		ScaleFactor:      1.1,
		IoUThreshold:     0.2,
		QualityThreshold: 5.0,
	}
}

// PigoDetector runs the pigo pixel intensity comparison cascade in process
type PigoDetector struct {
	classifier *pigo.Pigo
	params     PigoParams
	processor  *processing.Processor
}

var _ FaceDetector = (*PigoDetector)(nil)

// NewPigoDetector unpacks a facefinder cascade
func NewPigoDetector(cascade []byte, params PigoParams) (*PigoDetector, error) {
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	return &PigoDetector{
		classifier: classifier,
		params:     params,
		processor:  processing.NewProcessor(),
	}, nil
}

// NewPigoDetectorFromFile reads the cascade from disk
func NewPigoDetectorFromFile(path string, params PigoParams) (*PigoDetector, error) {
	cascade, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	return NewPigoDetector(cascade, params)
}

// DetectFaces decodes the image and runs the cascade over it
func (d *PigoDetector) DetectFaces(ctx context.Context, path string) ([]geometry.Face, error) {
	img, err := d.processor.LoadImage(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Detect(img), nil
}

// Detect runs the cascade over a decoded image
func (d *PigoDetector) Detect(img image.Image) []geometry.Face {
	src := pigo.ImgToNRGBA(img)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()

	params := pigo.CascadeParams{
		MinSize:     d.params.MinSize,
		MaxSize:     min(d.params.MaxSize, max(cols, rows)),
		ShiftFactor: d.params.ShiftFactor,
		ScaleFactor: d.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.params.IoUThreshold)

	return NormalizeFaces(detectionsToFaces(dets, d.params.QualityThreshold), cols, rows)
}

// detectionsToFaces converts pigo's (row, col, scale) circles to boxes
func detectionsToFaces(dets []pigo.Detection, quality float32) []geometry.Face {
	faces := make([]geometry.Face, 0, len(dets))
	for _, det := range dets {
		if det.Q < quality {
			continue
		}
		half := det.Scale / 2
		faces = append(faces, geometry.Face{
			XMin: det.Col - half,
			XMax: det.Col + half,
			YMin: det.Row - half,
			YMax: det.Row + half,
		})
	}
	return faces
}
