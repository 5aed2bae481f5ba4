package knowledge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/koopa0/kioku/internal/log"
	"github.com/koopa0/kioku/internal/testutil"
	"github.com/koopa0/kioku/internal/vecstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBase(t *testing.T, emb *testutil.StubEmbedder) *Base {
	t.Helper()

	base, err := New(context.Background(), testutil.OpenDB(t), emb, log.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return base
}

func countRows(t *testing.T, base *Base, table string) int {
	t.Helper()

	var n int
	if err := base.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func newMessage(id, channelID, content string, at time.Time) Message {
	return Message{
		ID:          id,
		Source:      SourceDiscord,
		SourceID:    "user-1",
		ChannelType: ChannelText,
		ChannelID:   channelID,
		AccountID:   "42",
		Role:        "user",
		Content:     content,
		CreatedAt:   at,
	}
}

func TestCreateUserUpsert(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))
	ctx := context.Background()

	id1, err := base.CreateUser(ctx, "alice", SourceDiscord, "discord-123")
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	id2, err := base.CreateUser(ctx, "renamed", SourceDiscord, "discord-123")
	if err != nil {
		t.Fatalf("CreateUser() second call error: %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert returned ids %d and %d, want stable id", id1, id2)
	}

	acct, err := base.GetUserBySourceID(ctx, "discord-123")
	if err != nil {
		t.Fatalf("GetUserBySourceID() error: %v", err)
	}
	if acct.ID != id1 {
		t.Errorf("account id = %d, want %d", acct.ID, id1)
	}
	if acct.Name != "alice" {
		t.Errorf("account name = %q, want original name kept on upsert", acct.Name)
	}
	if acct.Source != SourceDiscord {
		t.Errorf("account source = %q, want %q", acct.Source, SourceDiscord)
	}
	if acct.CreatedAt.IsZero() || acct.UpdatedAt.IsZero() {
		t.Errorf("timestamps not set: created=%v updated=%v", acct.CreatedAt, acct.UpdatedAt)
	}
}

func TestGetUserBySourceIDNotFound(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))

	_, err := base.GetUserBySourceID(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetUserBySourceID() error = %v, want ErrNotFound", err)
	}
}

func TestCreateChannelUpsert(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))
	ctx := context.Background()

	id1, err := base.CreateChannel(ctx, "chan-1", ChannelText, SourceDiscord, "general")
	if err != nil {
		t.Fatalf("CreateChannel() error: %v", err)
	}

	// A nameless upsert must not erase the known name.
	id2, err := base.CreateChannel(ctx, "chan-1", ChannelText, SourceDiscord, "")
	if err != nil {
		t.Fatalf("CreateChannel() nameless upsert error: %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert returned ids %d and %d, want stable id", id1, id2)
	}

	ch, err := base.GetChannel(ctx, id1)
	if err != nil {
		t.Fatalf("GetChannel() error: %v", err)
	}
	if ch.Name != "general" {
		t.Errorf("channel name = %q, want %q after nameless upsert", ch.Name, "general")
	}

	// A named upsert renames.
	if _, err := base.CreateChannel(ctx, "chan-1", ChannelText, SourceDiscord, "renamed"); err != nil {
		t.Fatalf("CreateChannel() rename error: %v", err)
	}
	ch, err = base.GetChannelByChannelID(ctx, "chan-1", SourceDiscord)
	if err != nil {
		t.Fatalf("GetChannelByChannelID() error: %v", err)
	}
	if ch.Name != "renamed" {
		t.Errorf("channel name = %q, want %q", ch.Name, "renamed")
	}
	if ch.ChannelType != ChannelText {
		t.Errorf("channel type = %q, want %q", ch.ChannelType, ChannelText)
	}
}

func TestGetChannelNotFound(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))
	ctx := context.Background()

	if _, err := base.GetChannel(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetChannel() error = %v, want ErrNotFound", err)
	}
	if _, err := base.GetChannelByChannelID(ctx, "nope", SourceDiscord); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetChannelByChannelID() error = %v, want ErrNotFound", err)
	}
}

func TestGetChannelsBySource(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))
	ctx := context.Background()

	if _, err := base.CreateChannel(ctx, "dc-1", ChannelText, SourceDiscord, "one"); err != nil {
		t.Fatalf("CreateChannel() error: %v", err)
	}
	if _, err := base.CreateChannel(ctx, "dc-2", ChannelVoice, SourceDiscord, "two"); err != nil {
		t.Fatalf("CreateChannel() error: %v", err)
	}
	if _, err := base.CreateChannel(ctx, "tg-1", ChannelDirectMessage, SourceTelegram, "three"); err != nil {
		t.Fatalf("CreateChannel() error: %v", err)
	}

	channels, err := base.GetChannelsBySource(ctx, SourceDiscord)
	if err != nil {
		t.Fatalf("GetChannelsBySource() error: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(channels))
	}
	seen := map[string]bool{}
	for _, ch := range channels {
		seen[ch.ChannelID] = true
		if ch.Source != SourceDiscord {
			t.Errorf("channel %q source = %q, want %q", ch.ChannelID, ch.Source, SourceDiscord)
		}
	}
	if !seen["dc-1"] || !seen["dc-2"] {
		t.Errorf("channels = %v, want dc-1 and dc-2", seen)
	}
}

func TestCreateMessageRoundTrip(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))
	ctx := context.Background()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := newMessage("msg-1", "chan-1", "hello there", at)

	rowid, err := base.CreateMessage(ctx, msg)
	if err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if rowid <= 0 {
		t.Fatalf("CreateMessage() rowid = %d, want positive", rowid)
	}

	got, err := base.GetMessage(ctx, rowid)
	if err != nil {
		t.Fatalf("GetMessage() error: %v", err)
	}
	if got.ID != "msg-1" || got.Content != "hello there" || got.Role != "user" {
		t.Errorf("GetMessage() = %+v", got)
	}
	if got.Source != SourceDiscord || got.ChannelType != ChannelText {
		t.Errorf("enums did not round-trip: source=%q type=%q", got.Source, got.ChannelType)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, at)
	}

	// The channel dimension row appears as a side effect.
	ch, err := base.GetChannelByChannelID(ctx, "chan-1", SourceDiscord)
	if err != nil {
		t.Fatalf("GetChannelByChannelID() after CreateMessage error: %v", err)
	}
	if ch.Name != "" {
		t.Errorf("implicit channel name = %q, want empty", ch.Name)
	}
	if ch.ChannelType != ChannelText {
		t.Errorf("implicit channel type = %q, want %q", ch.ChannelType, ChannelText)
	}
}

func TestCreateMessageFillsDefaults(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))

	rowid, err := base.CreateMessage(context.Background(),
		newMessage("", "chan-1", "auto ids", time.Time{}))
	if err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	got, err := base.GetMessage(context.Background(), rowid)
	if err != nil {
		t.Fatalf("GetMessage() error: %v", err)
	}
	if got.ID == "" {
		t.Error("message id not generated")
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not generated")
	}
}

func TestCreateMessageKeepsChannelName(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))
	ctx := context.Background()

	if _, err := base.CreateChannel(ctx, "chan-1", ChannelText, SourceDiscord, "general"); err != nil {
		t.Fatalf("CreateChannel() error: %v", err)
	}
	if _, err := base.CreateMessage(ctx, newMessage("m1", "chan-1", "hi", time.Now())); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	ch, err := base.GetChannelByChannelID(ctx, "chan-1", SourceDiscord)
	if err != nil {
		t.Fatalf("GetChannelByChannelID() error: %v", err)
	}
	if ch.Name != "general" {
		t.Errorf("channel name = %q, want %q after message upsert", ch.Name, "general")
	}
	if countRows(t, base, "channels") != 1 {
		t.Errorf("channels rows = %d, want 1", countRows(t, base, "channels"))
	}
}

func TestCreateMessageModelFailureWritesNothing(t *testing.T) {
	emb := &testutil.StubEmbedder{Width: 4, Err: errors.New("model down")}
	base := newTestBase(t, emb)

	_, err := base.CreateMessage(context.Background(),
		newMessage("m1", "chan-1", "doomed", time.Now()))
	if !errors.Is(err, vecstore.ErrModel) {
		t.Fatalf("CreateMessage() error = %v, want ErrModel", err)
	}

	if n := countRows(t, base, "messages"); n != 0 {
		t.Errorf("messages rows = %d, want 0", n)
	}
	if n := countRows(t, base, "channels"); n != 0 {
		t.Errorf("channels rows = %d, want 0", n)
	}
}

func TestCreateMessageBadVectorRollsBackChannel(t *testing.T) {
	emb := &testutil.StubEmbedder{Width: 4, Wide: true}
	base := newTestBase(t, emb)

	_, err := base.CreateMessage(context.Background(),
		newMessage("m1", "chan-1", "doomed", time.Now()))
	if !errors.Is(err, vecstore.ErrDimensionMismatch) {
		t.Fatalf("CreateMessage() error = %v, want ErrDimensionMismatch", err)
	}

	// The channel upsert ran inside the same transaction and must be
	// rolled back with the failed write.
	if n := countRows(t, base, "channels"); n != 0 {
		t.Errorf("channels rows = %d, want 0 after rollback", n)
	}
	if n := countRows(t, base, "messages"); n != 0 {
		t.Errorf("messages rows = %d, want 0 after rollback", n)
	}
	if n := countRows(t, base, "messages_embeddings"); n != 0 {
		t.Errorf("embedding rows = %d, want 0 after rollback", n)
	}
}

func TestChannelMessagesNewestFirst(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		msg := newMessage("", "chan-1", content, start.Add(time.Duration(i)*time.Minute))
		if _, err := base.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage(%q) error: %v", content, err)
		}
	}
	if _, err := base.CreateMessage(ctx, newMessage("", "other", "elsewhere", start)); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	msgs, err := base.ChannelMessages(ctx, "chan-1", 10)
	if err != nil {
		t.Fatalf("ChannelMessages() error: %v", err)
	}
	want := []string{"third", "second", "first"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Content != w {
			t.Errorf("msgs[%d].Content = %q, want %q", i, msgs[i].Content, w)
		}
		if msgs[i].SourceID != "user-1" {
			t.Errorf("msgs[%d].SourceID = %q, want user-1", i, msgs[i].SourceID)
		}
	}

	limited, err := base.ChannelMessages(ctx, "chan-1", 2)
	if err != nil {
		t.Fatalf("ChannelMessages() with limit error: %v", err)
	}
	if len(limited) != 2 || limited[0].Content != "third" || limited[1].Content != "second" {
		t.Errorf("limited = %+v, want two newest", limited)
	}

	none, err := base.ChannelMessages(ctx, "chan-1", 0)
	if err != nil {
		t.Fatalf("ChannelMessages() with zero limit error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("zero limit returned %d messages", len(none))
	}
}

func TestGetRecentMessages(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := base.CreateMessage(ctx, newMessage("", "a", "oldest", start)); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if _, err := base.CreateMessage(ctx, newMessage("", "b", "middle", start.Add(time.Minute))); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if _, err := base.CreateMessage(ctx, newMessage("", "a", "newest", start.Add(2*time.Minute))); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	all, err := base.GetRecentMessages(ctx, 10)
	if err != nil {
		t.Fatalf("GetRecentMessages() error: %v", err)
	}
	if len(all) != 3 || all[0].Content != "newest" || all[2].Content != "oldest" {
		t.Errorf("GetRecentMessages() order wrong: %+v", contents(all))
	}

	inA, err := base.GetRecentMessagesInChannel(ctx, "a", 10)
	if err != nil {
		t.Fatalf("GetRecentMessagesInChannel() error: %v", err)
	}
	if len(inA) != 2 || inA[0].Content != "newest" || inA[1].Content != "oldest" {
		t.Errorf("GetRecentMessagesInChannel() = %v", contents(inA))
	}
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestAddDocumentsAndSearch(t *testing.T) {
	emb := &testutil.StubEmbedder{Width: 4, Vecs: map[string][]float32{
		"go concurrency patterns": {1, 0, 0, 0},
		"sqlite internals":        {0, 1, 0, 0},
		"cooking pasta":           {0, 0, 1, 0},
		"database file format":    {0, 0.9, 0.1, 0},
	}}
	base := newTestBase(t, emb)
	ctx := context.Background()

	docs := []Document{
		{SourceID: "a.md", Content: "go concurrency patterns"},
		{SourceID: "b.md", Content: "sqlite internals"},
		{SourceID: "c.md", Content: "cooking pasta"},
	}
	last, err := base.AddDocuments(ctx, docs)
	if err != nil {
		t.Fatalf("AddDocuments() error: %v", err)
	}
	if last <= 0 {
		t.Errorf("AddDocuments() last rowid = %d, want positive", last)
	}
	if docs[0].ID != "" {
		t.Errorf("AddDocuments() mutated caller slice: id = %q", docs[0].ID)
	}

	matches, err := base.SearchDocuments(ctx, "database file format", 2)
	if err != nil {
		t.Fatalf("SearchDocuments() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Record.Content != "sqlite internals" {
		t.Errorf("nearest = %q, want %q", matches[0].Record.Content, "sqlite internals")
	}
	if matches[0].Record.ID == "" {
		t.Error("stored document id was not generated")
	}
	if matches[0].Record.CreatedAt.IsZero() {
		t.Error("stored document created_at was not generated")
	}
	if matches[0].Distance > matches[1].Distance {
		t.Errorf("distances out of order: %v then %v", matches[0].Distance, matches[1].Distance)
	}
}

func TestAddDocumentsEmpty(t *testing.T) {
	emb := testutil.NewStubEmbedder(4)
	base := newTestBase(t, emb)

	last, err := base.AddDocuments(context.Background(), nil)
	if err != nil {
		t.Fatalf("AddDocuments(nil) error: %v", err)
	}
	if last != 0 {
		t.Errorf("AddDocuments(nil) = %d, want 0", last)
	}
	if emb.Calls() != 0 {
		t.Errorf("model called %d times for empty batch", emb.Calls())
	}
}

func TestSearchMessages(t *testing.T) {
	emb := &testutil.StubEmbedder{Width: 4, Vecs: map[string][]float32{
		"deploy on friday":   {1, 0, 0, 0},
		"lunch plans":        {0, 1, 0, 0},
		"release checklist":  {0.9, 0.1, 0, 0},
		"when do we deploy?": {0.95, 0.05, 0, 0},
	}}
	base := newTestBase(t, emb)
	ctx := context.Background()

	for i, content := range []string{"deploy on friday", "lunch plans", "release checklist"} {
		msg := newMessage("", "chan-1", content,
			time.Date(2025, 6, 1, 12, i, 0, 0, time.UTC))
		if _, err := base.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage(%q) error: %v", content, err)
		}
	}

	matches, err := base.SearchMessages(ctx, "when do we deploy?", 2)
	if err != nil {
		t.Fatalf("SearchMessages() error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Record.Content != "deploy on friday" {
		t.Errorf("nearest = %q, want %q", matches[0].Record.Content, "deploy on friday")
	}

	ids, err := base.MessageIndex().TopNIDs(ctx, "when do we deploy?", 1)
	if err != nil {
		t.Fatalf("TopNIDs() error: %v", err)
	}
	if len(ids) != 1 || ids[0].ID != matches[0].ID {
		t.Errorf("TopNIDs() = %+v, want id %q", ids, matches[0].ID)
	}
}

func TestNewDimensionMismatch(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()

	if _, err := New(ctx, db, testutil.NewStubEmbedder(4), log.NewNop()); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	_, err := New(ctx, db, testutil.NewStubEmbedder(8), log.NewNop())
	if !errors.Is(err, vecstore.ErrDimensionMismatch) {
		t.Fatalf("New() with different dims error = %v, want ErrDimensionMismatch", err)
	}
}

func TestConcurrentCreateMessage(t *testing.T) {
	base := newTestBase(t, testutil.NewStubEmbedder(4))
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := newMessage("", "chan-1", "concurrent message",
				time.Date(2025, 6, 1, 12, i, 0, 0, time.UTC))
			_, errs[i] = base.CreateMessage(ctx, msg)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("writer %d: %v", i, err)
		}
	}
	if n := countRows(t, base, "messages"); n != writers {
		t.Errorf("messages rows = %d, want %d", n, writers)
	}
	if n := countRows(t, base, "channels"); n != 1 {
		t.Errorf("channels rows = %d, want 1", n)
	}
}
