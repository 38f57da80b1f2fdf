package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/menta2k/wallcrop/pkg/client"
	"github.com/menta2k/wallcrop/pkg/geometry"
	"github.com/menta2k/wallcrop/pkg/processing"
)

// FacePrompt asks a vision model for face boxes in normalized coordinates
const FacePrompt = `You are a face locator for anime and photographic wallpapers.

Return JSON only:
{
  "faces": [
    {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
  ]
}

HARD RULES
- One entry per visible face (human, anime or cartoon character).
- All coordinates are normalized to [0,1] (NOT pixels); x,y is the top-left corner.
- Boxes should tightly include the face from chin to hairline.
- If there are no faces, return {"faces": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Box is a normalized bounding box with coordinates in [0,1]
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type faceResponse struct {
	Faces []Box `json:"faces"`
}

// VisionDetector asks a vision language model for face boxes
type VisionDetector struct {
	client    client.VisionClient
	model     string
	prompt    string
	maxDim    int
	processor *processing.Processor
}

var _ FaceDetector = (*VisionDetector)(nil)

// NewVisionDetector creates a detector backed by a vision client.
// Images are downscaled to maxDim on their longest side before upload.
func NewVisionDetector(c client.VisionClient, model string, maxDim int) *VisionDetector {
	return &VisionDetector{
		client:    c,
		model:     model,
		prompt:    FacePrompt,
		maxDim:    maxDim,
		processor: processing.NewProcessor(),
	}
}

// WithPrompt replaces the default prompt
func (d *VisionDetector) WithPrompt(prompt string) *VisionDetector {
	d.prompt = prompt
	return d
}

// DetectFaces uploads a downscaled copy of the image and converts the
// returned normalized boxes to pixel faces
func (d *VisionDetector) DetectFaces(ctx context.Context, path string) ([]geometry.Face, error) {
	img, err := d.processor.LoadImage(path)
	if err != nil {
		return nil, err
	}

	data, scale, err := d.processor.EncodeForModel(img, d.maxDim, 85)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", path, err)
	}

	reply, err := d.client.Query(ctx, client.Request{
		Model:  d.model,
		Prompt: d.prompt,
		Image:  data,
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	boxes, err := parseFaceBoxes(reply)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	b := img.Bounds()
	return boxesToFaces(boxes, b.Dx(), b.Dy(), scale), nil
}

// parseFaceBoxes accepts either {"faces":[...]} or a bare array of boxes
func parseFaceBoxes(raw string) ([]Box, error) {
	raw = sanitizeModelJSON(raw)
	if raw == "" {
		return []Box{}, nil
	}

	if strings.HasPrefix(raw, "[") {
		var boxes []Box
		if err := json.Unmarshal([]byte(raw), &boxes); err != nil {
			return nil, fmt.Errorf("decoding model reply: %w", err)
		}
		return boxes, nil
	}

	var resp faceResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decoding model reply: %w", err)
	}
	if resp.Faces == nil {
		resp.Faces = []Box{}
	}
	return resp.Faces, nil
}

// boxesToFaces scales normalized boxes to pixels. Boxes that already look
// like pixel coordinates are in the space of the image sent to the model and
// are multiplied by scale.
func boxesToFaces(boxes []Box, width, height int, scale float64) []geometry.Face {
	faces := make([]geometry.Face, 0, len(boxes))
	for _, b := range boxes {
		if b.W <= 0 || b.H <= 0 {
			continue
		}

		x0, y0, x1, y1 := b.X, b.Y, b.X+b.W, b.Y+b.H
		if b.X <= 1 && b.Y <= 1 && b.W <= 1 && b.H <= 1 {
			x0, x1 = x0*float64(width), x1*float64(width)
			y0, y1 = y0*float64(height), y1*float64(height)
		} else {
			x0, x1 = x0*scale, x1*scale
			y0, y1 = y0*scale, y1*scale
		}

		faces = append(faces, geometry.Face{
			XMin: int(math.Round(x0)),
			XMax: int(math.Round(x1)),
			YMin: int(math.Round(y0)),
			YMax: int(math.Round(y1)),
		})
	}
	return NormalizeFaces(faces, width, height)
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from a model reply
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// keep only the outermost object or array
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if raw[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(raw, closer); end > start {
		raw = raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}
