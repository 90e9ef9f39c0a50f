// Package ffmpeg wraps the ffmpeg and ffprobe executables for transcoding
// with structured progress reporting.
package ffmpeg

import (
	"strconv"
	"strings"
)

// Progress represents one ffmpeg -progress update.
type Progress struct {
	Frame     int64   // Current frame number
	FPS       float64 // Current encoding speed in frames per second
	TotalSize int64   // Current output size in bytes
	OutTimeUS int64   // Output timestamp in microseconds
	Speed     string  // Encoding speed multiplier (e.g., "2.5x")
	Progress  string  // "continue" or "end"
}

// OutTimeSeconds returns the output time in seconds.
func (p Progress) OutTimeSeconds() float64 {
	return float64(p.OutTimeUS) / 1_000_000
}

// Percent converts the output time into percent of the given total
// duration, clamped to [0, 100]. Returns 0 when the duration is unknown.
func (p Progress) Percent(durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	pct := p.OutTimeSeconds() / durationSeconds * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ProgressParser accumulates key=value lines from ffmpeg -progress output.
type ProgressParser struct {
	current Progress
}

func NewProgressParser() *ProgressParser {
	return &ProgressParser{}
}

// ParseLine updates internal state from one line. Returns true when a
// complete update is ready (on the "progress=" line).
func (p *ProgressParser) ParseLine(line string) bool {
	line = strings.TrimSpace(line)
	idx := strings.Index(line, "=")
	if idx < 0 {
		return false
	}
	key, value := line[:idx], line[idx+1:]

	switch key {
	case "frame":
		p.current.Frame, _ = strconv.ParseInt(value, 10, 64)
	case "fps":
		p.current.FPS, _ = strconv.ParseFloat(value, 64)
	case "total_size":
		p.current.TotalSize, _ = strconv.ParseInt(value, 10, 64)
	case "out_time_us":
		p.current.OutTimeUS, _ = strconv.ParseInt(value, 10, 64)
	case "speed":
		p.current.Speed = value
	case "progress":
		p.current.Progress = value
		return true
	}

	return false
}

// Current returns the accumulated progress state.
func (p *ProgressParser) Current() Progress {
	return p.current
}
