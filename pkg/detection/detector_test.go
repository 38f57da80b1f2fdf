package detection

import (
	"context"
	"errors"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/wallcrop/pkg/client"
	"github.com/menta2k/wallcrop/pkg/geometry"
)

func TestNormalizeFaces(t *testing.T) {
	faces := []geometry.Face{
		{XMin: -5, XMax: 20, YMin: 0, YMax: 10},
		{XMin: 0, XMax: 20, YMin: 0, YMax: 10},
		{XMin: 120, XMax: 130, YMin: 0, YMax: 10},
		{XMin: 90, XMax: 110, YMin: 95, YMax: 120},
	}
	got := NormalizeFaces(faces, 100, 100)
	assert.Equal(t, []geometry.Face{
		{XMin: 0, XMax: 20, YMin: 0, YMax: 10},
		{XMin: 90, XMax: 100, YMin: 95, YMax: 100},
	}, got)

	assert.NotNil(t, NormalizeFaces(nil, 10, 10))
}

func TestDetectorFunc(t *testing.T) {
	var d FaceDetector = DetectorFunc(func(ctx context.Context, path string) ([]geometry.Face, error) {
		return []geometry.Face{{XMin: 1, XMax: 2, YMin: 1, YMax: 2}}, nil
	})
	faces, err := d.DetectFaces(context.Background(), "x.png")
	require.NoError(t, err)
	assert.Len(t, faces, 1)
}

func TestExecDetector(t *testing.T) {
	d := NewExecDetector("sh", "-c", `for f in "$@"; do echo '[{"xmin":1,"xmax":5,"ymin":2,"ymax":8}]'; done; echo '[]'`, "detector")

	faces, err := d.DetectFaces(context.Background(), "a.png")
	require.NoError(t, err)
	assert.Equal(t, []geometry.Face{{XMin: 1, XMax: 5, YMin: 2, YMax: 8}}, faces)

	all, err := d.DetectAll(context.Background(), []string{"a.png", "b.png"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Len(t, all[1], 1)
}

func TestExecDetectorErrors(t *testing.T) {
	failing := NewExecDetector("sh", "-c", `echo "cuda not available" >&2; exit 3`, "detector")
	_, err := failing.DetectFaces(context.Background(), "a.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cuda not available")

	short := NewExecDetector("sh", "-c", `echo '[]'`, "detector")
	_, err = short.DetectAll(context.Background(), []string{"a.png", "b.png"})
	assert.Error(t, err)

	garbage := NewExecDetector("sh", "-c", `echo 'no faces here'`, "detector")
	_, err = garbage.DetectFaces(context.Background(), "a.png")
	assert.Error(t, err)

	empty := &ExecDetector{}
	_, err = empty.DetectFaces(context.Background(), "a.png")
	assert.True(t, errors.Is(err, ErrNoDetector))

	assert.Equal(t, DefaultCommand, NewExecDetector().Command)
}

func TestDetectionsToFaces(t *testing.T) {
	dets := []pigo.Detection{
		{Row: 100, Col: 200, Scale: 40, Q: 12},
		{Row: 10, Col: 10, Scale: 10, Q: 1},
	}
	assert.Equal(t, []geometry.Face{{XMin: 180, XMax: 220, YMin: 80, YMax: 120}}, detectionsToFaces(dets, 5))
}

func TestNewPigoDetectorRejectsBadCascade(t *testing.T) {
	_, err := NewPigoDetectorFromFile(filepath.Join(t.TempDir(), "missing"), DefaultPigoParams())
	assert.Error(t, err)
}

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"faces\": []}\n```", `{"faces": []}`},
		{`Here you go: {"faces": [{"x": 0.1,},]} thanks`, `{"faces": [{"x": 0.1}]}`},
		{"[/* c */ {\"x\": 1}]", `[ {"x": 1}]`},
		{"no json", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeModelJSON(tt.in), tt.in)
	}
}

func TestParseFaceBoxes(t *testing.T) {
	boxes, err := parseFaceBoxes(`{"faces":[{"x":0.1,"y":0.2,"w":0.3,"h":0.4}]}`)
	require.NoError(t, err)
	assert.Equal(t, []Box{{X: 0.1, Y: 0.2, W: 0.3, H: 0.4}}, boxes)

	boxes, err = parseFaceBoxes(`[{"x":0.1,"y":0.2,"w":0.3,"h":0.4}]`)
	require.NoError(t, err)
	assert.Len(t, boxes, 1)

	boxes, err = parseFaceBoxes(`I could not find any faces.`)
	require.NoError(t, err)
	assert.Empty(t, boxes)

	_, err = parseFaceBoxes(`{"faces": "many"}`)
	assert.Error(t, err)
}

func TestBoxesToFaces(t *testing.T) {
	faces := boxesToFaces([]Box{
		{X: 0.25, Y: 0.5, W: 0.25, H: 0.25},
		{X: 10, Y: 10, W: 20, H: 20},
		{X: 0.9, Y: 0.9, W: 0.5, H: 0.5},
		{X: 0.5, Y: 0.5, W: 0, H: 0.1},
	}, 200, 100, 1)

	assert.Equal(t, []geometry.Face{
		{XMin: 50, XMax: 100, YMin: 50, YMax: 75},
		{XMin: 10, XMax: 30, YMin: 10, YMax: 30},
		{XMin: 180, XMax: 200, YMin: 90, YMax: 100},
	}, faces)

	// pixel boxes come from the downscaled image the model saw
	faces = boxesToFaces([]Box{{X: 10, Y: 5, W: 20, H: 10}}, 200, 100, 2)
	assert.Equal(t, []geometry.Face{{XMin: 20, XMax: 60, YMin: 10, YMax: 30}}, faces)
}

type fakeVisionClient struct {
	reply string
	got   client.Request
}

func (f *fakeVisionClient) Query(ctx context.Context, req client.Request) (string, error) {
	f.got = req
	return f.reply, nil
}

func TestVisionDetector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wall.png")
	require.NoError(t, imaging.Save(imaging.New(400, 200, color.NRGBA{10, 20, 30, 255}), path))

	fake := &fakeVisionClient{reply: "```json\n{\"faces\":[{\"x\":0.5,\"y\":0.25,\"w\":0.1,\"h\":0.2}]}\n```"}
	d := NewVisionDetector(fake, "llava", 100)

	faces, err := d.DetectFaces(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []geometry.Face{{XMin: 200, XMax: 240, YMin: 50, YMax: 90}}, faces)

	assert.Equal(t, "llava", fake.got.Model)
	assert.True(t, fake.got.JSON)
	assert.Equal(t, FacePrompt, fake.got.Prompt)
	assert.NotEmpty(t, fake.got.Image)
}
