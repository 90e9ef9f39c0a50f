package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/spoolworks/mediaspool/internal/db"
)

// Chunk is one embeddable slice of a media item's transcript or description.
type Chunk struct {
	MediaPath string
	Index     int
	Content   string
	Metadata  map[string]any
}

// Match is a similarity search hit. Score is cosine similarity in [0, 1].
type Match struct {
	ID        string         `json:"id"`
	MediaPath string         `json:"media_path"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Score     float64        `json:"score"`
}

// Store persists embeddings to the media_vectors pgvector table.
type Store struct {
	db *db.DatabaseConnection
}

func NewStore(conn *db.DatabaseConnection) *Store {
	return &Store{db: conn}
}

// Upsert writes one chunk's embedding. Re-indexing the same media path and
// chunk index replaces the previous row.
func (s *Store) Upsert(ctx context.Context, c Chunk, embedding []float32) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO media_vectors (id, media_path, chunk_index, content, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (media_path, chunk_index)
		DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding, created_at = EXCLUDED.created_at`,
		uuid.New().String(), c.MediaPath, c.Index, c.Content, c.Metadata,
		pgvector.NewVector(embedding), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert media vector: %w", err)
	}
	return nil
}

// Search returns the limit nearest chunks to the query embedding by cosine
// distance.
func (s *Store) Search(ctx context.Context, embedding []float32, limit int) ([]*Match, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, media_path, content, metadata, 1 - (embedding <=> $1) AS score
		FROM media_vectors
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	out := make([]*Match, 0, limit)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.MediaPath, &m.Content, &m.Metadata, &m.Score); err != nil {
			return nil, fmt.Errorf("scan vector match: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteByMediaPath removes all chunks for one media item, for re-indexing
// from scratch.
func (s *Store) DeleteByMediaPath(ctx context.Context, mediaPath string) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM media_vectors WHERE media_path = $1`, mediaPath)
	if err != nil {
		return 0, fmt.Errorf("delete media vectors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
