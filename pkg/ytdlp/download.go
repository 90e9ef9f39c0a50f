package ytdlp

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// downloadPercentRe matches yt-dlp progress lines like:
//
//	[download]  42.3% of 12.34MiB at 1.23MiB/s ETA 00:07
var downloadPercentRe = regexp.MustCompile(`^\[download\]\s+([0-9.]+)%`)

// ParseProgressLine extracts the percent from a yt-dlp download progress
// line. Non-progress lines return ok=false.
func ParseProgressLine(line string) (percent float64, ok bool) {
	m := downloadPercentRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, false
	}
	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return percent, true
}

// Download fetches the media into destDir with a stable output template so
// callers can discover the produced file:
//
//	<destDir>/<extractor>_<id>.<ext>
//	<destDir>/<extractor>_<id>.info.json
//
// onProgress, when non-nil, receives download percent updates parsed from
// the streamed output.
func (c *Client) Download(ctx context.Context, url string, destDir string, onProgress func(percent float64), extraArgs ...string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("ytdlp: url is required")
	}
	if strings.TrimSpace(destDir) == "" {
		return fmt.Errorf("ytdlp: destDir is required")
	}

	tmpl := filepath.Join(destDir, "%(extractor)s_%(id)s.%(ext)s")

	args := []string{
		"-o", tmpl,
		"--remux-video", "mp4",
		"--write-info-json",
		"--progress",
		"--newline",
		"--no-colors",
		"--format", "bestvideo+bestaudio/best",
	}
	args = append(args, extraArgs...)
	args = append(args, url)

	// The progress callback is per invocation: one Client serves concurrent
	// downloads, so it must never be stored on the Client itself.
	lineFn := c.LogCallback
	if onProgress != nil {
		base := c.LogCallback
		lineFn = func(stream, line string) {
			if percent, ok := ParseProgressLine(line); ok {
				onProgress(percent)
			}
			if base != nil {
				base(stream, line)
			}
		}
	}

	stdout, stderr, err := c.exec(ctx, lineFn, args...)
	if err != nil {
		return wrapExecError(c.Path, args, stdout, stderr, err)
	}
	return nil
}
