package workers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/spoolworks/mediaspool/internal/jobs"
	"github.com/spoolworks/mediaspool/pkg/ffmpeg"
)

// processWorker transcodes a spooled file. The output lands next to the
// input unless an explicit output parameter is given.
func processWorker(deps Deps) jobs.WorkerFunc {
	return func(ctx context.Context, j *jobs.Job, report jobs.ProgressFunc) (map[string]any, error) {
		input, _ := j.Params["input"].(string)
		if _, err := os.Stat(input); err != nil {
			return nil, fmt.Errorf("input file: %w", err)
		}

		output := optString(j.Params, "output", derivedOutput(input))

		params := ffmpeg.TranscodeParams{
			Input:       input,
			Output:      output,
			VideoCodec:  optString(j.Params, "video_codec", ""),
			AudioCodec:  optString(j.Params, "audio_codec", ""),
			ScaleHeight: optInt(j.Params, "scale_height", 0),
			CRF:         optInt(j.Params, "crf", 0),
			Preset:      optString(j.Params, "preset", ""),
		}

		err := deps.Transcoder.Transcode(ctx, params, func(percent float64) {
			report(int(percent))
		})
		if err != nil {
			return nil, err
		}

		var size int64
		if info, statErr := os.Stat(output); statErr == nil {
			size = info.Size()
		}

		slog.Info("transcode complete",
			"input", input, "output", output, "size", humanize.Bytes(uint64(size)))

		return map[string]any{
			"output":     output,
			"size_bytes": size,
			"size":       humanize.Bytes(uint64(size)),
		}, nil
	}
}

func derivedOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".transcoded.mp4"
}
