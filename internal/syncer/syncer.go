// Package syncer keeps the vector index in step with the message store.
//
// Every create and edit is followed by a sync: embed the content, then
// upsert the row keyed by message id. Upserts make the whole path
// idempotent, so a crashed or timed-out sync is repaired by the next
// write to the same message.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/strandchat/strand/internal/log"
	"github.com/strandchat/strand/internal/message"
	"github.com/strandchat/strand/internal/vector"
)

// Embedder produces the embedding for a message's content.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Upserter writes records into the similarity index.
type Upserter interface {
	Upsert(ctx context.Context, rec vector.Record) error
}

// Coordinator runs message-to-index syncs.
//
// Coordinator is safe for concurrent use by multiple goroutines.
type Coordinator struct {
	embedder Embedder
	index    Upserter
	logger   log.Logger
	timeout  time.Duration

	wg sync.WaitGroup
}

// New creates a Coordinator. timeout bounds each detached Dispatch run.
func New(embedder Embedder, index Upserter, timeout time.Duration, logger log.Logger) (*Coordinator, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Coordinator{
		embedder: embedder,
		index:    index,
		logger:   logger,
		timeout:  timeout,
	}, nil
}

// Sync embeds msg and upserts it into the index, synchronously.
func (c *Coordinator) Sync(ctx context.Context, msg message.Message) error {
	emb, err := c.embedder.Embed(ctx, msg.Content)
	if err != nil {
		return fmt.Errorf("embedding message %s: %w", msg.ID, err)
	}

	rec := vector.Record{
		MessageID:    msg.ID,
		ChannelID:    msg.ChannelID,
		NetworkID:    msg.NetworkID,
		CreatedBy:    msg.CreatedBy,
		Content:      msg.Content,
		IsBot:        msg.Meta.IsBot,
		InResponseTo: msg.Meta.InResponseTo,
		Embedding:    emb,
		CreatedAt:    msg.CreatedAt,
	}
	if err := c.index.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("indexing message %s: %w", msg.ID, err)
	}
	return nil
}

// Dispatch runs Sync in a detached goroutine so the caller's request can
// return immediately. The goroutine gets its own deadline, independent
// of the request context, and failures are logged rather than returned:
// the message is already persisted, only recall freshness suffers, and
// the next edit repairs the row.
func (c *Coordinator) Dispatch(msg message.Message) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		if err := c.Sync(ctx, msg); err != nil {
			c.logger.Warn("background sync failed",
				"message_id", msg.ID, "channel_id", msg.ChannelID, "error", err)
			return
		}
		c.logger.Debug("background sync completed", "message_id", msg.ID)
	}()
}

// Wait blocks until all dispatched syncs have finished. Called during
// shutdown so in-flight syncs drain before the pool closes.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
