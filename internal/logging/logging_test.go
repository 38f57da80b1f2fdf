package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"error": ERR, "INFO": INF, "Debug": DBG} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	lvl, err := ParseLevel("verbose")
	assert.True(t, errors.Is(err, ErrParseLevel))
	assert.Equal(t, INF, lvl)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithLevel(INF))

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Errorf("failed %d", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF: ")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "ERR: ")
	assert.Contains(t, out, "failed 3")

	buf.Reset()
	New(WithWriter(&buf), WithLevel(DBG)).Debugf("visible")
	assert.Contains(t, buf.String(), "DBG: ")

	buf.Reset()
	quiet := New(WithWriter(&buf), WithLevel(ERR))
	quiet.Infof("skip")
	quiet.Errorf("keep")
	assert.NotContains(t, buf.String(), "skip")
	assert.Contains(t, buf.String(), "keep")
}

func TestWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wallcrop.log")
	l := New(WithFile(FileOptions{Path: path, MaxSizeMB: 1}))
	l.Infof("written to %s", "file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Errorf("nothing")
	assert.NoError(t, l.Close())
}
