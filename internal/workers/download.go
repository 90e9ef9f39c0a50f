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
)

// downloadWorker fetches remote media into the spool directory. Metadata
// extraction takes the first few percent; the download itself is mapped onto
// the 5-95 range so the bar keeps moving even when yt-dlp restarts segments.
func downloadWorker(deps Deps) jobs.WorkerFunc {
	return func(ctx context.Context, j *jobs.Job, report jobs.ProgressFunc) (map[string]any, error) {
		url, _ := j.Params["url"].(string)

		info, err := deps.Downloader.GetInfo(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("fetch metadata: %w", err)
		}
		report(5)

		if err := os.MkdirAll(deps.SpoolDir, 0o755); err != nil {
			return nil, fmt.Errorf("create spool dir: %w", err)
		}

		err = deps.Downloader.Download(ctx, url, deps.SpoolDir, func(percent float64) {
			report(5 + int(percent*0.9))
		})
		if err != nil {
			return nil, err
		}
		report(95)

		file, size := locateDownload(deps.SpoolDir, info.Extractor, info.ID)
		if file == "" {
			return nil, fmt.Errorf("downloaded file not found for %s_%s", info.Extractor, info.ID)
		}

		slog.Info("download complete",
			"url", url, "file", file, "size", humanize.Bytes(uint64(size)))

		return map[string]any{
			"file":       file,
			"title":      info.Title,
			"uploader":   info.Uploader,
			"duration":   info.Duration,
			"size_bytes": size,
			"size":       humanize.Bytes(uint64(size)),
		}, nil
	}
}

// locateDownload finds the media file produced by the output template,
// skipping the .info.json sidecar.
func locateDownload(dir, extractor, id string) (path string, size int64) {
	matches, err := filepath.Glob(filepath.Join(dir, extractor+"_"+id+".*"))
	if err != nil {
		return "", 0
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".info.json") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		return m, info.Size()
	}
	return "", 0
}
