package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// Thumbnailer renders a single preview frame from a video payload at the
// given millisecond offset. Rendering itself is a collaborator concern; the
// store only requires the interface.
type Thumbnailer interface {
	Render(ctx context.Context, video []byte, atMillis int64) ([]byte, error)
}

// CommandThumbnailer shells out to an ffmpeg-compatible binary, feeding the
// video on stdin and reading one JPEG frame from stdout.
type CommandThumbnailer struct {
	// Command is the binary to invoke. Defaults to "ffmpeg".
	Command string
}

var errEmptyFrame = errors.New("library: thumbnail command produced no output")

// Render implements Thumbnailer.
func (t CommandThumbnailer) Render(ctx context.Context, video []byte, atMillis int64) ([]byte, error) {
	command := t.Command
	if command == "" {
		command = "ffmpeg"
	}
	seconds := strconv.FormatFloat(float64(atMillis)/1000, 'f', 3, 64)
	cmd := exec.CommandContext(ctx, command,
		"-hide_banner", "-loglevel", "error",
		"-ss", seconds,
		"-i", "pipe:0",
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(video)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("library: thumbnail command failed: %w: %s", err, stderr.String())
	}
	if out.Len() == 0 {
		return nil, errEmptyFrame
	}
	return out.Bytes(), nil
}
