// Package detection locates faces in wallpaper images. The cropper only
// consumes the resulting bounding boxes, so detectors are pluggable: an
// external command, the in-process pigo cascade or a vision model.
package detection

import (
	"context"
	"errors"

	"github.com/menta2k/wallcrop/pkg/geometry"
)

// ErrNoDetector is returned when a detector kind is unknown or unconfigured
var ErrNoDetector = errors.New("no face detector configured")

// FaceDetector finds face bounding boxes in an image file
type FaceDetector interface {
	DetectFaces(ctx context.Context, path string) ([]geometry.Face, error)
}

// BatchDetector detects faces in several images with a single invocation.
// The result holds one face list per input path, in order.
type BatchDetector interface {
	FaceDetector
	DetectAll(ctx context.Context, paths []string) ([][]geometry.Face, error)
}

// DetectorFunc adapts a function to the FaceDetector interface
type DetectorFunc func(ctx context.Context, path string) ([]geometry.Face, error)

// DetectFaces calls f(ctx, path)
func (f DetectorFunc) DetectFaces(ctx context.Context, path string) ([]geometry.Face, error) {
	return f(ctx, path)
}

// NormalizeFaces clips boxes to the image and drops the ones left empty
// or repeated. The result is never nil.
func NormalizeFaces(faces []geometry.Face, width, height int) []geometry.Face {
	out := make([]geometry.Face, 0, len(faces))
	seen := make(map[geometry.Face]struct{}, len(faces))
	for _, f := range faces {
		clipped, ok := f.Clip(width, height)
		if !ok {
			continue
		}
		if _, dup := seen[clipped]; dup {
			continue
		}
		seen[clipped] = struct{}{}
		out = append(out, clipped)
	}
	return out
}
