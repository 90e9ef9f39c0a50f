package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes ffmpeg with a configurable binary path and thread count.
type Runner struct {
	// Path to the ffmpeg executable. Defaults to "ffmpeg" (PATH lookup).
	Path string

	// Threads limits encoder threads. Zero lets ffmpeg decide.
	Threads int

	execFn func(ctx context.Context, args []string, onProgress func(Progress)) (stderr string, err error)
}

func NewRunner(path string, threads int) *Runner {
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}
	return &Runner{Path: path, Threads: threads}
}

// run executes ffmpeg. When onProgress is non-nil, -progress output on
// stdout is parsed and each complete update forwarded.
func (r *Runner) run(ctx context.Context, args []string, onProgress func(Progress)) error {
	if r.execFn != nil {
		_, err := r.execFn(ctx, args, onProgress)
		return err
	}

	cmd := exec.CommandContext(ctx, r.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if onProgress == nil {
		if err := cmd.Run(); err != nil {
			return &Error{Args: args, Stderr: stderr.String(), Err: err}
		}
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: failed to start: %w", err)
	}

	parser := NewProgressParser()
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if parser.ParseLine(scanner.Text()) {
			onProgress(parser.Current())
		}
	}

	if err := cmd.Wait(); err != nil {
		return &Error{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// Error represents an ffmpeg execution error with context.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	// Only the tail of stderr is useful in a one-line error message.
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	tail := strings.Join(lines, "\n")

	if tail != "" {
		return fmt.Sprintf("ffmpeg: %v: %s", e.Err, tail)
	}
	return fmt.Sprintf("ffmpeg: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
