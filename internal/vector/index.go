// Package vector maintains the pgvector similarity index over messages.
//
// The index is a replica: rows are derived from messages plus an
// embedding, written by the syncer after each create/update. Re-syncing
// the same message overwrites the previous row (last write wins), so
// syncs are idempotent and safe to retry.
package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/strandchat/strand/internal/log"
)

// Dimension is the embedding dimensionality stored in message_vectors.
// Must match the vector(768) column and the embedder's output size.
const Dimension = 768

// ErrIndex wraps failures of the similarity index.
var ErrIndex = errors.New("vector index error")

// Record is one indexed message: the denormalized message fields plus
// its embedding.
type Record struct {
	MessageID    uuid.UUID
	ChannelID    uuid.UUID
	NetworkID    uuid.UUID
	CreatedBy    uuid.UUID
	Content      string
	IsBot        bool
	InResponseTo *uuid.UUID
	Embedding    []float32
	CreatedAt    time.Time
}

// Match is a similarity search result. Score is cosine similarity in
// [0, 1], higher is more similar.
type Match struct {
	MessageID    uuid.UUID  `json:"message_id"`
	ChannelID    uuid.UUID  `json:"channel_id"`
	CreatedBy    uuid.UUID  `json:"created_by"`
	Content      string     `json:"content"`
	IsBot        bool       `json:"is_bot"`
	InResponseTo *uuid.UUID `json:"in_response_to,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	Score        float64    `json:"score"`
}

// Filter scopes a similarity query. NetworkID is mandatory: recall never
// crosses network boundaries. ChannelID optionally narrows to one channel.
type Filter struct {
	NetworkID uuid.UUID
	ChannelID *uuid.UUID
}

const upsertSQL = `INSERT INTO message_vectors
	(message_id, channel_id, network_id, created_by, content, is_bot, in_response_to, embedding, created_at, synced_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (message_id) DO UPDATE SET
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		is_bot = EXCLUDED.is_bot,
		in_response_to = EXCLUDED.in_response_to,
		synced_at = now()`

// querySQL computes cosine similarity; <=> is cosine distance, so
// score = 1 - distance. $4 toggles the optional channel narrowing.
const querySQL = `SELECT message_id, channel_id, created_by, content, is_bot, in_response_to, created_at,
		1 - (embedding <=> $1) AS score
	FROM message_vectors
	WHERE network_id = $2
		AND ($4::uuid IS NULL OR channel_id = $4)
	ORDER BY embedding <=> $1, created_at DESC
	LIMIT $3`

// Index is the pgvector-backed similarity index.
//
// Index is safe for concurrent use by multiple goroutines.
type Index struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewIndex creates an Index.
func NewIndex(pool *pgxpool.Pool, logger log.Logger) (*Index, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Index{pool: pool, logger: logger}, nil
}

// Upsert writes a record, overwriting any previous row for the same
// message. Idempotent: re-syncing after an edit replaces content and
// embedding in place.
func (x *Index) Upsert(ctx context.Context, rec Record) error {
	if len(rec.Embedding) != Dimension {
		return fmt.Errorf("%w: embedding has %d dimensions, want %d", ErrIndex, len(rec.Embedding), Dimension)
	}

	_, err := x.pool.Exec(ctx, upsertSQL,
		rec.MessageID, rec.ChannelID, rec.NetworkID, rec.CreatedBy,
		rec.Content, rec.IsBot, rec.InResponseTo,
		pgvector.NewVector(rec.Embedding), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: upserting message %s: %w", ErrIndex, rec.MessageID, err)
	}

	x.logger.Debug("vector upserted", "message_id", rec.MessageID)
	return nil
}

// Query returns the topK most similar records within the filter's scope,
// most similar first. Results are unfiltered by score; callers apply
// their own threshold.
func (x *Index) Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Match, error) {
	if len(embedding) != Dimension {
		return nil, fmt.Errorf("%w: query embedding has %d dimensions, want %d", ErrIndex, len(embedding), Dimension)
	}
	if filter.NetworkID == uuid.Nil {
		return nil, fmt.Errorf("%w: network filter is required", ErrIndex)
	}
	if topK <= 0 {
		return nil, nil
	}

	rows, err := x.pool.Query(ctx, querySQL,
		pgvector.NewVector(embedding), filter.NetworkID, topK, filter.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying: %w", ErrIndex, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.MessageID, &m.ChannelID, &m.CreatedBy, &m.Content,
			&m.IsBot, &m.InResponseTo, &m.CreatedAt, &m.Score); err != nil {
			return nil, fmt.Errorf("%w: scanning match: %w", ErrIndex, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating matches: %w", ErrIndex, err)
	}
	return matches, nil
}
