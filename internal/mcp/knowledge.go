package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/kioku/internal/knowledge"
)

// SearchInput is the input for the search_documents and search_messages tools.
type SearchInput struct {
	Query string `json:"query" jsonschema:"Natural-language query to match against stored content"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"How many matches to return, capped at 50"`
}

// HistoryInput is the input for the channel_history tool.
type HistoryInput struct {
	ChannelID string `json:"channel_id" jsonschema:"Platform-native channel identifier"`
	Limit     int    `json:"limit,omitempty" jsonschema:"How many recent messages to return, capped at 1000"`
}

// AddDocumentInput is the input for the add_document tool.
type AddDocumentInput struct {
	Content  string `json:"content" jsonschema:"Document text to embed and store"`
	SourceID string `json:"source_id,omitempty" jsonschema:"Origin of the document, such as a file path or URL"`
}

// AddMessageInput is the input for the add_message tool.
type AddMessageInput struct {
	Source      string `json:"source" jsonschema:"Platform the message came from: discord, telegram, github, x or twitter"`
	SourceID    string `json:"source_id" jsonschema:"Platform-native author identifier"`
	ChannelType string `json:"channel_type" jsonschema:"Kind of channel: direct_message, text, voice or thread"`
	ChannelID   string `json:"channel_id" jsonschema:"Platform-native channel identifier"`
	AccountID   string `json:"account_id,omitempty" jsonschema:"Account the agent acted for"`
	Role        string `json:"role" jsonschema:"Speaker role, usually user or assistant"`
	Content     string `json:"content" jsonschema:"Message text"`
}

// searchResponse is the JSON payload for both search tools. Results holds
// []documentResult or []messageResult depending on the tool.
type searchResponse struct {
	Query       string `json:"query"`
	ResultCount int    `json:"result_count"`
	Results     any    `json:"results"`
}

type documentResult struct {
	ID        string  `json:"id"`
	Distance  float64 `json:"distance"`
	SourceID  string  `json:"source_id,omitempty"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
}

type messageResult struct {
	ID        string  `json:"id"`
	Distance  float64 `json:"distance"`
	Source    string  `json:"source"`
	SourceID  string  `json:"source_id"`
	ChannelID string  `json:"channel_id"`
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
}

type historyResponse struct {
	ChannelID    string                     `json:"channel_id"`
	MessageCount int                        `json:"message_count"`
	Messages     []knowledge.ChannelMessage `json:"messages"`
}

type addDocumentResponse struct {
	ID string `json:"id"`
}

type addMessageResponse struct {
	ID    string `json:"id"`
	RowID int64  `json:"rowid"`
}

// registerKnowledgeTools registers all knowledge tools to the MCP server.
// Tools: search_documents, search_messages, channel_history, add_document,
// add_message.
func (s *Server) registerKnowledgeTools() error {
	searchSchema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for search tools: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "search_documents",
		Description: "Search stored documents using semantic similarity. " +
			"Finds document chunks related to the query.",
		InputSchema: searchSchema,
	}, s.SearchDocuments)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "search_messages",
		Description: "Search conversation history using semantic similarity. " +
			"Finds past messages related to the query.",
		InputSchema: searchSchema,
	}, s.SearchMessages)

	historySchema, err := jsonschema.For[HistoryInput](nil)
	if err != nil {
		return fmt.Errorf("schema for channel_history tool: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "channel_history",
		Description: "Read the most recent messages in a channel, newest first. " +
			"Returns author identifiers and message text.",
		InputSchema: historySchema,
	}, s.ChannelHistory)

	docSchema, err := jsonschema.For[AddDocumentInput](nil)
	if err != nil {
		return fmt.Errorf("schema for add_document tool: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "add_document",
		Description: "Store a document in the knowledge base for later retrieval " +
			"via search_documents.",
		InputSchema: docSchema,
	}, s.AddDocument)

	msgSchema, err := jsonschema.For[AddMessageInput](nil)
	if err != nil {
		return fmt.Errorf("schema for add_message tool: %w", err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "add_message",
		Description: "Record a conversation message. Creates the channel on first " +
			"use and makes the message searchable via search_messages.",
		InputSchema: msgSchema,
	}, s.AddMessage)

	return nil
}

// SearchDocuments handles the search_documents MCP tool call.
func (s *Server) SearchDocuments(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return errorResult("query must not be empty"), nil, nil
	}

	matches, err := s.base.SearchDocuments(ctx, query, s.clampTopK(in.TopK))
	if err != nil {
		return nil, nil, fmt.Errorf("search_documents: %w", err)
	}

	results := make([]documentResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, documentResult{
			ID:        m.ID,
			Distance:  m.Distance,
			SourceID:  m.Record.SourceID,
			Content:   m.Record.Content,
			CreatedAt: m.Record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return dataToMCP(searchResponse{
		Query:       query,
		ResultCount: len(results),
		Results:     results,
	}), nil, nil
}

// SearchMessages handles the search_messages MCP tool call.
func (s *Server) SearchMessages(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return errorResult("query must not be empty"), nil, nil
	}

	matches, err := s.base.SearchMessages(ctx, query, s.clampTopK(in.TopK))
	if err != nil {
		return nil, nil, fmt.Errorf("search_messages: %w", err)
	}

	results := make([]messageResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, messageResult{
			ID:        m.ID,
			Distance:  m.Distance,
			Source:    string(m.Record.Source),
			SourceID:  m.Record.SourceID,
			ChannelID: m.Record.ChannelID,
			Role:      m.Record.Role,
			Content:   m.Record.Content,
			CreatedAt: m.Record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return dataToMCP(searchResponse{
		Query:       query,
		ResultCount: len(results),
		Results:     results,
	}), nil, nil
}

// ChannelHistory handles the channel_history MCP tool call.
func (s *Server) ChannelHistory(ctx context.Context, _ *mcp.CallToolRequest, in HistoryInput) (*mcp.CallToolResult, any, error) {
	channelID := strings.TrimSpace(in.ChannelID)
	if channelID == "" {
		return errorResult("channel_id must not be empty"), nil, nil
	}

	msgs, err := s.base.ChannelMessages(ctx, channelID, s.clampLimit(in.Limit))
	if err != nil {
		return nil, nil, fmt.Errorf("channel_history: %w", err)
	}

	return dataToMCP(historyResponse{
		ChannelID:    channelID,
		MessageCount: len(msgs),
		Messages:     msgs,
	}), nil, nil
}

// AddDocument handles the add_document MCP tool call.
func (s *Server) AddDocument(ctx context.Context, _ *mcp.CallToolRequest, in AddDocumentInput) (*mcp.CallToolResult, any, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return errorResult("content must not be empty"), nil, nil
	}

	doc := knowledge.Document{
		ID:       uuid.NewString(),
		SourceID: in.SourceID,
		Content:  content,
	}
	if _, err := s.base.AddDocuments(ctx, []knowledge.Document{doc}); err != nil {
		return nil, nil, fmt.Errorf("add_document: %w", err)
	}

	return dataToMCP(addDocumentResponse{ID: doc.ID}), nil, nil
}

// AddMessage handles the add_message MCP tool call.
func (s *Server) AddMessage(ctx context.Context, _ *mcp.CallToolRequest, in AddMessageInput) (*mcp.CallToolResult, any, error) {
	source, err := knowledge.ParseSource(in.Source)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	channelType, err := knowledge.ParseChannelType(in.ChannelType)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if strings.TrimSpace(in.SourceID) == "" {
		return errorResult("source_id must not be empty"), nil, nil
	}
	if strings.TrimSpace(in.ChannelID) == "" {
		return errorResult("channel_id must not be empty"), nil, nil
	}
	if strings.TrimSpace(in.Role) == "" {
		return errorResult("role must not be empty"), nil, nil
	}
	if strings.TrimSpace(in.Content) == "" {
		return errorResult("content must not be empty"), nil, nil
	}

	msg := knowledge.Message{
		ID:          uuid.NewString(),
		Source:      source,
		SourceID:    in.SourceID,
		ChannelType: channelType,
		ChannelID:   in.ChannelID,
		AccountID:   in.AccountID,
		Role:        in.Role,
		Content:     in.Content,
	}
	rowID, err := s.base.CreateMessage(ctx, msg)
	if err != nil {
		return nil, nil, fmt.Errorf("add_message: %w", err)
	}

	return dataToMCP(addMessageResponse{ID: msg.ID, RowID: rowID}), nil, nil
}
