package knowledge

import (
	"fmt"
	"strings"
	"time"

	"github.com/koopa0/kioku/internal/vecstore"
)

// Source identifies the platform a message or account originates from.
type Source string

const (
	SourceDiscord  Source = "discord"
	SourceTelegram Source = "telegram"
	SourceGithub   Source = "github"
	SourceX        Source = "x"
	SourceTwitter  Source = "twitter"
)

// ParseSource maps a string onto a known Source, case-insensitively.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(s) {
	case "discord":
		return SourceDiscord, nil
	case "telegram":
		return SourceTelegram, nil
	case "github":
		return SourceGithub, nil
	case "x":
		return SourceX, nil
	case "twitter":
		return SourceTwitter, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// ChannelType classifies a conversation channel.
type ChannelType string

const (
	ChannelDirectMessage ChannelType = "direct_message"
	ChannelText          ChannelType = "text"
	ChannelVoice         ChannelType = "voice"
	ChannelThread        ChannelType = "thread"
)

// ParseChannelType maps a string onto a known ChannelType, case-insensitively.
func ParseChannelType(s string) (ChannelType, error) {
	switch strings.ToLower(s) {
	case "direct_message":
		return ChannelDirectMessage, nil
	case "text":
		return ChannelText, nil
	case "voice":
		return ChannelVoice, nil
	case "thread":
		return ChannelThread, nil
	default:
		return "", fmt.Errorf("unknown channel type %q", s)
	}
}

// Document is a piece of reference material: an ingested file, a crawled
// page, a note. Documents carry no channel linkage; SourceID records
// where the content came from (a path, a URL).
type Document struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (Document) TableName() string { return "documents" }

func (Document) Schema() []vecstore.Column {
	return []vecstore.Column{
		{Name: "id", Type: "TEXT PRIMARY KEY"},
		{Name: "source_id", Type: "TEXT", Indexed: true},
		{Name: "content", Type: "TEXT"},
		{Name: "created_at", Type: "TIMESTAMP DEFAULT CURRENT_TIMESTAMP"},
	}
}

func (d Document) RecordID() string { return d.ID }

func (d Document) ColumnValues() []vecstore.ColumnValue {
	return []vecstore.ColumnValue{
		{Name: "id", Value: d.ID},
		{Name: "source_id", Value: d.SourceID},
		{Name: "content", Value: d.Content},
		{Name: "created_at", Value: d.CreatedAt.UTC().Format(time.RFC3339)},
	}
}

func (d Document) EmbeddingText() string { return d.Content }

// Message is one conversational message, linked to its channel and the
// account that wrote it. ID is the stable message identifier (a UUID);
// the numeric ids returned by CreateMessage and accepted by GetMessage
// are database rowids.
type Message struct {
	ID          string      `json:"id"`
	Source      Source      `json:"source"`
	SourceID    string      `json:"source_id"`
	ChannelType ChannelType `json:"channel_type"`
	ChannelID   string      `json:"channel_id"`
	AccountID   string      `json:"account_id"`
	Role        string      `json:"role"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (Message) TableName() string { return "messages" }

func (Message) Schema() []vecstore.Column {
	return []vecstore.Column{
		{Name: "id", Type: "TEXT PRIMARY KEY"},
		{Name: "source", Type: "TEXT"},
		{Name: "source_id", Type: "TEXT", Indexed: true},
		{Name: "channel_type", Type: "TEXT"},
		{Name: "channel_id", Type: "TEXT", Indexed: true},
		{Name: "account_id", Type: "TEXT", Indexed: true},
		{Name: "role", Type: "TEXT"},
		{Name: "content", Type: "TEXT"},
		{Name: "created_at", Type: "TIMESTAMP DEFAULT CURRENT_TIMESTAMP"},
	}
}

func (m Message) RecordID() string { return m.ID }

func (m Message) ColumnValues() []vecstore.ColumnValue {
	return []vecstore.ColumnValue{
		{Name: "id", Value: m.ID},
		{Name: "source", Value: string(m.Source)},
		{Name: "source_id", Value: m.SourceID},
		{Name: "channel_type", Value: string(m.ChannelType)},
		{Name: "channel_id", Value: m.ChannelID},
		{Name: "account_id", Value: m.AccountID},
		{Name: "role", Value: m.Role},
		{Name: "content", Value: m.Content},
		{Name: "created_at", Value: m.CreatedAt.UTC().Format(time.RFC3339)},
	}
}

func (m Message) EmbeddingText() string { return m.Content }

// Account is a dimension row for a platform user, keyed by the
// platform's own user identifier.
type Account struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SourceID  string    `json:"source_id"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Channel is a dimension row for a conversation channel, keyed by the
// platform's channel identifier. Name is empty when the platform never
// supplied one.
type Channel struct {
	ID          int64       `json:"id"`
	ChannelID   string      `json:"channel_id"`
	ChannelType ChannelType `json:"channel_type"`
	Source      Source      `json:"source"`
	Name        string      `json:"name"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ChannelMessage is the compact (author, content) projection returned by
// ChannelMessages for prompt building.
type ChannelMessage struct {
	SourceID string `json:"source_id"`
	Content  string `json:"content"`
}
