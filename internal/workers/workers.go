// Package workers implements the job bodies for each operation kind and
// registers them with the job registry.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/spoolworks/mediaspool/internal/jobs"
	"github.com/spoolworks/mediaspool/internal/vector"
	"github.com/spoolworks/mediaspool/pkg/ffmpeg"
	"github.com/spoolworks/mediaspool/pkg/ytdlp"
)

// Downloader is the slice of the yt-dlp client the download worker needs.
type Downloader interface {
	GetInfo(ctx context.Context, url string, extraArgs ...string) (*ytdlp.Info, error)
	Download(ctx context.Context, url, destDir string, onProgress func(percent float64), extraArgs ...string) error
}

// Transcoder runs media conversions.
type Transcoder interface {
	Transcode(ctx context.Context, params ffmpeg.TranscodeParams, onPercent func(float64)) error
}

// Embedder converts text to embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// Index persists and queries embeddings.
type Index interface {
	Upsert(ctx context.Context, c vector.Chunk, embedding []float32) error
	Search(ctx context.Context, embedding []float32, limit int) ([]*vector.Match, error)
	DeleteByMediaPath(ctx context.Context, mediaPath string) (int, error)
}

// Deps carries the external collaborators the workers run against. Embedder
// and Index may be nil when no OpenAI key is configured; the vector kinds
// then fail with a clear error instead of registering partially.
type Deps struct {
	SpoolDir   string
	Downloader Downloader
	Transcoder Transcoder
	Embedder   Embedder
	Index      Index
}

// CacheTTLs is the per-kind result cache policy. Zero disables caching for
// that kind.
type CacheTTLs struct {
	Download    time.Duration
	Process     time.Duration
	VectorIndex time.Duration
	Search      time.Duration
}

// Register wires all operation kinds into the registry.
func Register(reg *jobs.Registry, deps Deps, ttls CacheTTLs) {
	reg.Register(jobs.KindDownload, jobs.Handler{
		Worker:   downloadWorker(deps),
		Scope:    "download",
		CacheTTL: ttls.Download,
		Validate: func(params map[string]any) error {
			return jobs.RequireString(params, "url")
		},
	})

	reg.Register(jobs.KindProcess, jobs.Handler{
		Worker:   processWorker(deps),
		Scope:    "process",
		CacheTTL: ttls.Process,
		Validate: func(params map[string]any) error {
			return jobs.RequireString(params, "input")
		},
	})

	reg.Register(jobs.KindVectorIndex, jobs.Handler{
		Worker:   vectorIndexWorker(deps),
		Scope:    "vector-index",
		CacheTTL: ttls.VectorIndex,
		Validate: func(params map[string]any) error {
			if err := jobs.RequireString(params, "media_path"); err != nil {
				return err
			}
			return jobs.RequireString(params, "content")
		},
	})

	reg.Register(jobs.KindSearch, jobs.Handler{
		Worker:   searchWorker(deps),
		Scope:    "search",
		CacheTTL: ttls.Search,
		Validate: func(params map[string]any) error {
			return jobs.RequireString(params, "query")
		},
	})
}

func requireVectorDeps(deps Deps) error {
	if deps.Embedder == nil || deps.Index == nil {
		return fmt.Errorf("vector operations are not configured (missing OpenAI api key or database)")
	}
	return nil
}

// optString reads an optional string parameter, returning def when absent.
func optString(params map[string]any, field, def string) string {
	if v, ok := params[field].(string); ok && v != "" {
		return v
	}
	return def
}

// optInt reads an optional numeric parameter. JSON decoding yields float64.
func optInt(params map[string]any, field string, def int) int {
	switch v := params[field].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
