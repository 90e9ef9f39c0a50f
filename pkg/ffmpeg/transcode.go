package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// TranscodeParams describes one transcode invocation.
type TranscodeParams struct {
	Input  string
	Output string

	// VideoCodec and AudioCodec default to libx264 / aac.
	VideoCodec string
	AudioCodec string

	// ScaleHeight rescales to the given height, width auto. Zero keeps the
	// source resolution.
	ScaleHeight int

	// CRF is the constant rate factor. Zero uses the encoder default.
	CRF int

	Preset string
}

// BuildArgs assembles the ffmpeg argument list for params, with -progress
// updates emitted on stdout.
func (r *Runner) BuildArgs(params TranscodeParams) []string {
	videoCodec := params.VideoCodec
	if videoCodec == "" {
		videoCodec = "libx264"
	}
	audioCodec := params.AudioCodec
	if audioCodec == "" {
		audioCodec = "aac"
	}

	args := []string{
		"-y",
		"-i", params.Input,
		"-c:v", videoCodec,
		"-c:a", audioCodec,
	}
	if params.ScaleHeight > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", params.ScaleHeight))
	}
	if params.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(params.CRF))
	}
	if params.Preset != "" {
		args = append(args, "-preset", params.Preset)
	}
	if r.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(r.Threads))
	}
	args = append(args, "-progress", "pipe:1", "-nostats", params.Output)
	return args
}

// Transcode runs the conversion. onPercent, when non-nil, receives percent
// complete derived from the probed input duration; without a known duration
// no percent updates are delivered.
func (r *Runner) Transcode(ctx context.Context, params TranscodeParams, onPercent func(float64)) error {
	if strings.TrimSpace(params.Input) == "" {
		return fmt.Errorf("ffmpeg: input is required")
	}
	if strings.TrimSpace(params.Output) == "" {
		return fmt.Errorf("ffmpeg: output is required")
	}

	var onProgress func(Progress)
	if onPercent != nil {
		duration, err := r.ProbeDuration(ctx, params.Input)
		if err != nil {
			duration = 0 // transcode proceeds without percent updates
		}
		onProgress = func(p Progress) {
			if duration > 0 {
				onPercent(p.Percent(duration))
			}
		}
	}

	return r.run(ctx, r.BuildArgs(params), onProgress)
}
