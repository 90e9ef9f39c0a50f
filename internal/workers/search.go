package workers

import (
	"context"
	"fmt"

	"github.com/spoolworks/mediaspool/internal/jobs"
)

// searchWorker embeds the query and returns the nearest indexed chunks.
func searchWorker(deps Deps) jobs.WorkerFunc {
	return func(ctx context.Context, j *jobs.Job, report jobs.ProgressFunc) (map[string]any, error) {
		if err := requireVectorDeps(deps); err != nil {
			return nil, err
		}

		query, _ := j.Params["query"].(string)
		limit := optInt(j.Params, "limit", 10)

		embedding, err := deps.Embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		report(50)

		matches, err := deps.Index.Search(ctx, embedding, limit)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}

		results := make([]map[string]any, 0, len(matches))
		for _, m := range matches {
			results = append(results, map[string]any{
				"media_path": m.MediaPath,
				"content":    m.Content,
				"score":      m.Score,
			})
		}

		return map[string]any{
			"query":   query,
			"matches": results,
			"count":   len(results),
		}, nil
	}
}
