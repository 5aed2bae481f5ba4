// Package knowledge is the long-term memory of the agent: conversation
// messages and reference documents stored with vector embeddings for
// semantic recall, plus the accounts and channels dimension tables that
// anchor messages to the platforms they came from.
//
// All state lives in a single SQLite database. The vector side is
// handled by generic vecstore stores for the Document and Message
// types; the dimension tables are managed by plain SQL migrations and
// upserted through this package.
package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/kioku/internal/embedding"
	"github.com/koopa0/kioku/internal/vecstore"
)

// Embedder produces fixed-width embedding vectors for text. It must be
// safe for concurrent use.
type Embedder interface {
	Dims() int
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

const messageColumns = "id, source, source_id, channel_type, channel_id, account_id, role, content, created_at"

const channelColumns = "id, channel_id, channel_type, source, name, created_at, updated_at"

// Base is the knowledge base. It owns vector stores for messages and
// documents and the search indexes over them, all sharing one database
// handle. Methods are safe for concurrent use.
type Base struct {
	db        *sql.DB
	pipeline  *embedding.Pipeline
	documents *vecstore.Store[Document]
	messages  *vecstore.Store[Message]
	docIndex  *vecstore.Index[Document]
	msgIndex  *vecstore.Index[Message]
	logger    *slog.Logger
}

// New creates the document and message stores on db, materializing
// their tables and vector indexes if missing, and returns a Base that
// embeds with embedder. The database must already hold the accounts and
// channels tables (see database.Migrate).
func New(ctx context.Context, db *sql.DB, embedder Embedder, logger *slog.Logger, pipelineOpts ...embedding.Option) (*Base, error) {
	if logger == nil {
		logger = slog.Default()
	}

	documents, err := vecstore.New[Document](ctx, db, embedder.Dims(), logger)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	messages, err := vecstore.New[Message](ctx, db, embedder.Dims(), logger)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}

	return &Base{
		db:        db,
		pipeline:  embedding.NewPipeline(embedder, logger, pipelineOpts...),
		documents: documents,
		messages:  messages,
		docIndex:  vecstore.NewIndex(embedder, documents, logger),
		msgIndex:  vecstore.NewIndex(embedder, messages, logger),
		logger:    logger,
	}, nil
}

// CreateUser upserts the account identified by sourceID and returns its
// numeric id. An existing account keeps its original name; only the
// update timestamp moves.
func (b *Base) CreateUser(ctx context.Context, name string, source Source, sourceID string) (int64, error) {
	var id int64
	err := b.db.QueryRowContext(ctx, `
		INSERT INTO accounts (name, source, created_at, updated_at, source_id)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(source_id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
		RETURNING id`,
		name, string(source), sourceID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert account %q: %w: %w", sourceID, vecstore.ErrDatabase, err)
	}
	return id, nil
}

// GetUserBySourceID looks up an account by the platform's user
// identifier. Returns ErrNotFound if no such account exists.
func (b *Base) GetUserBySourceID(ctx context.Context, sourceID string) (Account, error) {
	var acct Account
	err := b.db.QueryRowContext(ctx, `
		SELECT id, name, source_id, source, created_at, updated_at
		FROM accounts WHERE source_id = ?`,
		sourceID,
	).Scan(&acct.ID, &acct.Name, &acct.SourceID, &acct.Source, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("account %q: %w", sourceID, ErrNotFound)
	}
	if err != nil {
		return Account{}, fmt.Errorf("look up account %q: %w: %w", sourceID, vecstore.ErrDatabase, err)
	}
	return acct, nil
}

// CreateChannel upserts the channel identified by channelID and returns
// its numeric id. On conflict the name is only overwritten when a
// non-empty name is supplied, so a later nameless upsert cannot erase a
// known name.
func (b *Base) CreateChannel(ctx context.Context, channelID string, channelType ChannelType, source Source, name string) (int64, error) {
	var nameArg any
	if name != "" {
		nameArg = name
	}

	var id int64
	err := b.db.QueryRowContext(ctx, `
		INSERT INTO channels (channel_id, channel_type, source, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(channel_id) DO UPDATE SET name = COALESCE(?, name), updated_at = CURRENT_TIMESTAMP
		RETURNING id`,
		channelID, string(channelType), string(source), nameArg, nameArg,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert channel %q: %w: %w", channelID, vecstore.ErrDatabase, err)
	}
	return id, nil
}

// GetChannel looks up a channel by its numeric id. Returns ErrNotFound
// if no such channel exists.
func (b *Base) GetChannel(ctx context.Context, id int64) (Channel, error) {
	row := b.db.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE id = ?", id)

	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, fmt.Errorf("channel %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Channel{}, fmt.Errorf("look up channel %d: %w: %w", id, vecstore.ErrDatabase, err)
	}
	return ch, nil
}

// GetChannelByChannelID looks up a channel by the platform's channel
// identifier on the given source. Returns ErrNotFound if no such
// channel exists.
func (b *Base) GetChannelByChannelID(ctx context.Context, channelID string, source Source) (Channel, error) {
	row := b.db.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE channel_id = ? AND source = ?",
		channelID, string(source))

	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, fmt.Errorf("channel %q on %s: %w", channelID, source, ErrNotFound)
	}
	if err != nil {
		return Channel{}, fmt.Errorf("look up channel %q: %w: %w", channelID, vecstore.ErrDatabase, err)
	}
	return ch, nil
}

// GetChannelsBySource returns all channels for one platform, newest
// first.
func (b *Base) GetChannelsBySource(ctx context.Context, source Source) ([]Channel, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE source = ? ORDER BY created_at DESC",
		string(source))
	if err != nil {
		return nil, fmt.Errorf("list channels for %s: %w: %w", source, vecstore.ErrDatabase, err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w: %w", vecstore.ErrDatabase, err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channels for %s: %w: %w", source, vecstore.ErrDatabase, err)
	}
	return channels, nil
}

// CreateMessage embeds the message content, then in a single
// transaction upserts the channel dimension row and writes the message
// with its embedding. The returned id is the message's numeric rowid.
//
// A zero msg.ID is filled with a fresh UUID and a zero msg.CreatedAt
// with the current time. The model call happens before the transaction
// opens, so the database connection is never held across network IO.
func (b *Base) CreateMessage(ctx context.Context, msg Message) (int64, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	recs, err := embedding.Embed(ctx, b.pipeline, []Message{msg})
	if err != nil {
		return 0, fmt.Errorf("embed message %q: %w", msg.ID, err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w: %w", vecstore.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channels (channel_id, channel_type, source, name, created_at, updated_at)
		VALUES (?, ?, ?, NULL, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(channel_id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`,
		msg.ChannelID, string(msg.ChannelType), string(msg.Source))
	if err != nil {
		return 0, fmt.Errorf("upsert channel %q: %w: %w", msg.ChannelID, vecstore.ErrDatabase, err)
	}

	rowid, err := b.messages.WriteBatchTx(ctx, tx, recs)
	if err != nil {
		return 0, fmt.Errorf("write message %q: %w", msg.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit message %q: %w: %w", msg.ID, vecstore.ErrDatabase, err)
	}

	b.logger.Debug("created message", "id", msg.ID, "channel_id", msg.ChannelID, "rowid", rowid)
	return rowid, nil
}

// GetMessage looks up a message by the numeric id CreateMessage
// returned. Returns ErrNotFound if no such message exists.
func (b *Base) GetMessage(ctx context.Context, id int64) (Message, error) {
	row := b.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE rowid = ?", id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Message{}, fmt.Errorf("look up message %d: %w: %w", id, vecstore.ErrDatabase, err)
	}
	return msg, nil
}

// GetRecentMessages returns up to limit messages across all channels,
// most recent first.
func (b *Base) GetRecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w: %w", vecstore.ErrDatabase, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// GetRecentMessagesInChannel returns up to limit messages from one
// channel, most recent first.
func (b *Base) GetRecentMessagesInChannel(ctx context.Context, channelID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE channel_id = ? ORDER BY created_at DESC LIMIT ?",
		channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages in channel %q: %w: %w", channelID, vecstore.ErrDatabase, err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// ChannelMessages returns up to limit (author, content) pairs from one
// channel, most recent first. Callers assembling chronological prompt
// context must reverse the slice themselves.
func (b *Base) ChannelMessages(ctx context.Context, channelID string, limit int) ([]ChannelMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT source_id, content FROM messages
		WHERE channel_id = ? ORDER BY created_at DESC LIMIT ?`,
		channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list channel %q messages: %w: %w", channelID, vecstore.ErrDatabase, err)
	}
	defer rows.Close()

	var msgs []ChannelMessage
	for rows.Next() {
		var cm ChannelMessage
		if err := rows.Scan(&cm.SourceID, &cm.Content); err != nil {
			return nil, fmt.Errorf("scan channel message: %w: %w", vecstore.ErrDatabase, err)
		}
		msgs = append(msgs, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channel %q messages: %w: %w", channelID, vecstore.ErrDatabase, err)
	}
	return msgs, nil
}

// AddDocuments embeds and stores the given documents in one batch.
// Zero IDs are filled with fresh UUIDs and zero creation times with the
// current time. Returns the rowid of the last document written; the
// batch is all-or-nothing.
func (b *Base) AddDocuments(ctx context.Context, docs []Document) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	batch := make([]Document, len(docs))
	copy(batch, docs)
	now := time.Now().UTC()
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.NewString()
		}
		if batch[i].CreatedAt.IsZero() {
			batch[i].CreatedAt = now
		}
	}

	recs, err := embedding.Embed(ctx, b.pipeline, batch)
	if err != nil {
		return 0, fmt.Errorf("embed %d documents: %w", len(batch), err)
	}

	rowid, err := b.documents.WriteBatch(ctx, recs)
	if err != nil {
		return 0, fmt.Errorf("write documents: %w", err)
	}

	b.logger.Info("added documents", "count", len(batch), "last_rowid", rowid)
	return rowid, nil
}

// SearchDocuments returns the n documents nearest to query.
func (b *Base) SearchDocuments(ctx context.Context, query string, n int) ([]vecstore.Match[Document], error) {
	return b.docIndex.TopN(ctx, query, n)
}

// SearchMessages returns the n messages nearest to query.
func (b *Base) SearchMessages(ctx context.Context, query string, n int) ([]vecstore.Match[Message], error) {
	return b.msgIndex.TopN(ctx, query, n)
}

// DocumentIndex exposes the semantic index over documents.
func (b *Base) DocumentIndex() *vecstore.Index[Document] { return b.docIndex }

// MessageIndex exposes the semantic index over messages.
func (b *Base) MessageIndex() *vecstore.Index[Message] { return b.msgIndex }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (Channel, error) {
	var (
		ch   Channel
		name sql.NullString
	)
	err := row.Scan(&ch.ID, &ch.ChannelID, &ch.ChannelType, &ch.Source, &name, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return Channel{}, err
	}
	ch.Name = name.String
	return ch, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	err := row.Scan(&msg.ID, &msg.Source, &msg.SourceID, &msg.ChannelType,
		&msg.ChannelID, &msg.AccountID, &msg.Role, &msg.Content, &msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w: %w", vecstore.ErrDatabase, err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w: %w", vecstore.ErrDatabase, err)
	}
	return msgs, nil
}
