package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/wallcrop/pkg/cropper"
)

func TestRunCrop(t *testing.T) {
	var out bytes.Buffer
	err := runCrop([]string{
		"-width", "3000", "-height", "1000", "-ratio", "1x1",
		"-faces", `[{"xmin":2000,"xmax":2100,"ymin":100,"ymax":200}]`,
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "1000x1000+1550+0\n", out.String())
}

func TestRunCropCandidates(t *testing.T) {
	var out bytes.Buffer
	err := runCrop([]string{
		"-width", "3000", "-height", "1000", "-ratio", "1x1", "-candidates",
		"-faces", `[{"xmin":100,"xmax":200,"ymin":0,"ymax":100},{"xmin":2700,"xmax":2900,"ymin":0,"ymax":200}]`,
	}, &out)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 2)
}

func TestRunCropErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runCrop([]string{"-width", "10", "-height", "10", "-ratio", "wide"}, &out))
	assert.Error(t, runCrop([]string{"-width", "0", "-height", "10", "-ratio", "1x1"}, &out))
	assert.Error(t, runCrop([]string{"-width", "10", "-height", "10", "-ratio", "1x1", "-faces", "nope"}, &out))
	assert.Error(t, runCrop([]string{"-width", "10", "-height", "10", "-ratio", "1x1",
		"-faces", `[{"xmin":0,"xmax":20,"ymin":0,"ymax":5}]`}, &out))
	assert.ErrorIs(t, runCrop([]string{"-width", "1", "-height", "1", "-ratio", "1000x1"}, &out), cropper.ErrDegenerateCrop)
	assert.Error(t, runCrop([]string{"-bogus"}, &out))
	assert.Empty(t, out.String())
}
