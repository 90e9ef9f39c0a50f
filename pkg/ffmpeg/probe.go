package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// probePath derives the ffprobe location from the configured ffmpeg path so
// custom install locations work without separate configuration.
func (r *Runner) probePath() string {
	if r.Path == "ffmpeg" {
		return "ffprobe"
	}
	return filepath.Join(filepath.Dir(r.Path), "ffprobe")
}

// ProbeDuration returns the media duration in seconds.
func (r *Runner) ProbeDuration(ctx context.Context, input string) (float64, error) {
	if r.execFn != nil {
		// Test hook: duration probing is stubbed alongside execution.
		return 0, fmt.Errorf("ffprobe: not available")
	}

	cmd := exec.CommandContext(ctx, r.probePath(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: parse duration: %w", err)
	}
	return duration, nil
}
