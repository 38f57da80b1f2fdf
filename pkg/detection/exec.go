package detection

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/menta2k/wallcrop/pkg/geometry"
)

// DefaultCommand is the external detector invoked when none is configured
var DefaultCommand = []string{"anime-face-detector"}

// ExecDetector runs an external program that prints one JSON array of
// {xmin,xmax,ymin,ymax} boxes per input image, one line per image.
type ExecDetector struct {
	Command []string
}

var _ BatchDetector = (*ExecDetector)(nil)

// NewExecDetector creates a detector for the given command line. An empty
// command falls back to DefaultCommand.
func NewExecDetector(command ...string) *ExecDetector {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &ExecDetector{Command: command}
}

// DetectFaces runs the command for a single image
func (d *ExecDetector) DetectFaces(ctx context.Context, path string) ([]geometry.Face, error) {
	all, err := d.DetectAll(ctx, []string{path})
	if err != nil {
		return nil, err
	}
	return all[0], nil
}

// DetectAll runs the command once with every path appended as an argument
func (d *ExecDetector) DetectAll(ctx context.Context, paths []string) ([][]geometry.Face, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if len(d.Command) == 0 {
		return nil, ErrNoDetector
	}

	args := append(append([]string{}, d.Command[1:]...), paths...)
	cmd := exec.CommandContext(ctx, d.Command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("running %s: %w", d.Command[0], err)
		}
		return nil, fmt.Errorf("running %s: %w: %s", d.Command[0], err, msg)
	}

	results := make([][]geometry.Face, 0, len(paths))
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if len(results) == len(paths) {
			break
		}

		faces, err := geometry.ParseFaces(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", paths[len(results)], err)
		}
		results = append(results, faces)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s output: %w", d.Command[0], err)
	}

	if len(results) != len(paths) {
		return nil, fmt.Errorf("%s printed %d results for %d images", d.Command[0], len(results), len(paths))
	}
	return results, nil
}
