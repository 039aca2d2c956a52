package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strandchat/strand/internal/log"
)

// messageCols is the standard SELECT column list for scanMessage.
const messageCols = `id, channel_id, network_id, created_by, content, meta, created_at, updated_at`

// insertMessageSQL resolves network_id from the channel in the same
// statement. Zero rows means the channel does not exist.
const insertMessageSQL = `INSERT INTO messages (channel_id, network_id, created_by, content, meta)
	SELECT c.id, c.network_id, $2, $3, $4
	FROM channels c
	WHERE c.id = $1
	RETURNING ` + messageCols

// Store manages chat messages backed by PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a message Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// CreateMessage persists a new message in the given channel.
//
// The channel's network_id is resolved atomically inside the INSERT, so
// the stored network always matches the channel's. Returns
// ErrChannelNotFound when the channel does not exist and
// ErrInvalidContent when content is outside the length bounds.
func (s *Store) CreateMessage(ctx context.Context, channelID, createdBy uuid.UUID, content string, meta Meta) (Message, error) {
	if err := ValidateContent(content); err != nil {
		return Message{}, err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Message{}, fmt.Errorf("encoding message meta: %w", err)
	}

	msg, err := scanMessage(s.pool.QueryRow(ctx, insertMessageSQL, channelID, createdBy, content, metaJSON))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
		}
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("message created",
		"message_id", msg.ID, "channel_id", msg.ChannelID, "is_bot", msg.Meta.IsBot)
	return msg, nil
}

// GetMessage fetches a single message by id.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
		}
		return Message{}, fmt.Errorf("fetching message: %w", err)
	}
	return msg, nil
}

// GetChannel fetches a channel by id.
func (s *Store) GetChannel(ctx context.Context, id uuid.UUID) (Channel, error) {
	var ch Channel
	err := s.pool.QueryRow(ctx,
		`SELECT id, network_id, name, created_at FROM channels WHERE id = $1`, id).
		Scan(&ch.ID, &ch.NetworkID, &ch.Name, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
		}
		return Channel{}, fmt.Errorf("fetching channel: %w", err)
	}
	return ch, nil
}

// ListRecent returns the most recent messages in a channel, newest first.
func (s *Store) ListRecent(ctx context.Context, channelID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		WHERE channel_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// UpdateMessage replaces a message's content. Only the original author
// may edit; updated_at is stamped on success.
//
// Returns ErrMessageNotFound for an unknown id and ErrNotAuthor when
// editedBy does not match created_by.
func (s *Store) UpdateMessage(ctx context.Context, id, editedBy uuid.UUID, content string) (Message, error) {
	if err := ValidateContent(content); err != nil {
		return Message{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Lock the row so a concurrent edit cannot slip between the author
	// check and the update.
	var createdBy uuid.UUID
	err = tx.QueryRow(ctx, `SELECT created_by FROM messages WHERE id = $1 FOR UPDATE`, id).Scan(&createdBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
		}
		return Message{}, fmt.Errorf("fetching message for update: %w", err)
	}
	if createdBy != editedBy {
		return Message{}, fmt.Errorf("%w: message %s", ErrNotAuthor, id)
	}

	row := tx.QueryRow(ctx,
		`UPDATE messages SET content = $2, updated_at = now() WHERE id = $1 RETURNING `+messageCols,
		id, content)
	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("updating message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("committing message update: %w", err)
	}

	s.logger.Debug("message updated", "message_id", msg.ID, "editor", editedBy)
	return msg, nil
}

// scanMessage scans a message row including its JSONB meta column.
func scanMessage(row pgx.Row) (Message, error) {
	var (
		msg       Message
		metaJSON  []byte
		updatedAt *time.Time
	)
	err := row.Scan(&msg.ID, &msg.ChannelID, &msg.NetworkID, &msg.CreatedBy,
		&msg.Content, &metaJSON, &msg.CreatedAt, &updatedAt)
	if err != nil {
		return Message{}, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &msg.Meta); err != nil {
			return Message{}, fmt.Errorf("decoding message meta: %w", err)
		}
	}
	msg.UpdatedAt = updatedAt
	return msg, nil
}
