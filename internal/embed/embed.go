// Package embed wraps the Genkit embedder behind a small client that
// pins the output dimensionality to what the vector index stores.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"

	"github.com/strandchat/strand/internal/vector"
)

// ErrEmbed wraps embedding provider failures. Callers decide whether to
// degrade or fail; the client never retries.
var ErrEmbed = errors.New("embedding failed")

// Client produces fixed-dimension embeddings for message content.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	embedder ai.Embedder
}

// NewClient creates a Client.
func NewClient(embedder ai.Embedder) (*Client, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Client{embedder: embedder}, nil
}

// Embed returns the embedding for text, truncated by the provider to
// vector.Dimension via OutputDimensionality.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrEmbed)
	}

	dim := int32(vector.Dimension)
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbed, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrEmbed)
	}

	emb := resp.Embeddings[0].Embedding
	if len(emb) != vector.Dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbed, len(emb), vector.Dimension)
	}
	return emb, nil
}
