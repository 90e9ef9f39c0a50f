package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spoolworks/mediaspool/internal/jobs"
	"github.com/spoolworks/mediaspool/internal/vector"
)

// chunkSize is the target rune length of one embeddable chunk. Splits
// prefer word boundaries near the target.
const chunkSize = 800

// vectorIndexWorker embeds a media item's transcript or description and
// writes the chunks to the vector index. Re-indexing replaces the item's
// previous chunks.
func vectorIndexWorker(deps Deps) jobs.WorkerFunc {
	return func(ctx context.Context, j *jobs.Job, report jobs.ProgressFunc) (map[string]any, error) {
		if err := requireVectorDeps(deps); err != nil {
			return nil, err
		}

		mediaPath, _ := j.Params["media_path"].(string)
		content, _ := j.Params["content"].(string)

		chunks := splitChunks(content, chunkSize)
		if len(chunks) == 0 {
			return nil, fmt.Errorf("content is empty after normalization")
		}
		report(5)

		if _, err := deps.Index.DeleteByMediaPath(ctx, mediaPath); err != nil {
			return nil, fmt.Errorf("clear previous index: %w", err)
		}

		// Embed in API-sized batches, reporting between them.
		const batch = 100
		indexed := 0
		for start := 0; start < len(chunks); start += batch {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			end := min(start+batch, len(chunks))

			embeddings, err := deps.Embedder.BatchEmbed(ctx, chunks[start:end])
			if err != nil {
				return nil, fmt.Errorf("embed chunks: %w", err)
			}

			for i, embedding := range embeddings {
				chunk := vector.Chunk{
					MediaPath: mediaPath,
					Index:     start + i,
					Content:   chunks[start+i],
				}
				if err := deps.Index.Upsert(ctx, chunk, embedding); err != nil {
					return nil, fmt.Errorf("store chunk %d: %w", start+i, err)
				}
				indexed++
			}

			report(5 + indexed*95/len(chunks))
		}

		slog.Info("media indexed", "media_path", mediaPath, "chunks", indexed, "model", deps.Embedder.ModelName())

		return map[string]any{
			"media_path": mediaPath,
			"chunks":     indexed,
			"model":      deps.Embedder.ModelName(),
		}, nil
	}
}

// splitChunks breaks text into pieces of at most target runes, splitting on
// the last space before the limit when one exists.
func splitChunks(text string, target int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= target {
			out = append(out, strings.TrimSpace(string(runes)))
			break
		}

		cut := target
		for i := target; i > target/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}

		piece := strings.TrimSpace(string(runes[:cut]))
		if piece != "" {
			out = append(out, piece)
		}
		runes = runes[cut:]
	}
	return out
}
