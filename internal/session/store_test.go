package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mathysIN/copyman/internal/database"
)

const testNamespace = "copyman:test"

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("3f1f1dd2-0000-4000-8000-%012d", p.next), nil
}

type stepClock struct {
	current time.Time
}

func (c *stepClock) now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestStore(t *testing.T) (*Store, *database.MemoryHashStore) {
	t.Helper()
	fake := database.NewMemoryHashStore()
	clock := &stepClock{current: time.UnixMilli(1700000000000)}
	store, err := NewStore(StoreConfig{
		Client:     fake,
		Namespace:  testNamespace,
		Clock:      clock.now,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected store construction error: %v", err)
	}
	return store, fake
}

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(StoreConfig{Namespace: testNamespace})
	if err == nil {
		t.Fatal("expected construction to fail without a client")
	}
}

func TestCreateSessionThenConflict(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "Abc123", NewSession{PasswordHash: "stored-hash"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if created.SessionID != "abc123" {
		t.Fatalf("expected normalized session id abc123, got %q", created.SessionID)
	}

	_, err = store.Create(ctx, "abc123", NewSession{PasswordHash: "other-hash"})
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	// The original record must be untouched by the rejected create.
	loaded, err := store.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.PasswordHash != "stored-hash" {
		t.Fatalf("original record was overwritten: got hash %q", loaded.PasswordHash)
	}
}

func TestCreateSessionRejectsMalformedID(t *testing.T) {
	store, _ := newTestStore(t)
	for _, raw := range []string{"", "has space", "bad/char", "semi;colon"} {
		if _, err := store.Create(context.Background(), raw, NewSession{}); !errors.Is(err, ErrInvalidSessionID) {
			t.Fatalf("expected ErrInvalidSessionID for %q, got %v", raw, err)
		}
	}
}

func TestGetUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %T", err)
	}
	if storeErr.Code() != "session.get.session_not_found" {
		t.Fatalf("unexpected error code %q", storeErr.Code())
	}
}

func TestSetFieldRequiresExistingSession(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.SetField(context.Background(), "missing", map[string]string{"backgroundImageURL": "https://example.com/bg.png"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSetFieldUpdatesSingleField(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "abc123", NewSession{PasswordHash: "keep-me"}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if err := store.SetField(ctx, "abc123", map[string]string{"backgroundImageURL": "https://example.com/bg.png"}); err != nil {
		t.Fatalf("unexpected set field error: %v", err)
	}

	loaded, err := store.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.BackgroundImageURL != "https://example.com/bg.png" {
		t.Fatalf("background url not updated: %q", loaded.BackgroundImageURL)
	}
	if loaded.PasswordHash != "keep-me" {
		t.Fatalf("unrelated field changed: %q", loaded.PasswordHash)
	}
}

func TestCreateNoteAndGetBack(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateNote(ctx, "abc123", NewNote{Body: "paste me"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	note, ok := created.(Note)
	if !ok {
		t.Fatalf("expected Note, got %T", created)
	}
	if note.SessionID != "abc123" {
		t.Fatalf("unexpected owner session: %q", note.SessionID)
	}
	if note.CreatedAt == "" || note.CreatedAt != note.UpdatedAt {
		t.Fatalf("expected matching creation timestamps, got %q / %q", note.CreatedAt, note.UpdatedAt)
	}

	loaded, err := store.GetContent(ctx, "abc123", note.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	loadedNote, ok := loaded.(Note)
	if !ok {
		t.Fatalf("expected Note, got %T", loaded)
	}
	if loadedNote.Body != "paste me" {
		t.Fatalf("unexpected note body: %q", loadedNote.Body)
	}
}

func TestCreateNoteRejectsEmptyBody(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.CreateNote(context.Background(), "abc123", NewNote{}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestCreateAttachmentRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateAttachment(ctx, "abc123", NewAttachment{
		AttachmentPath: "report.pdf",
		AttachmentURL:  "https://files.example.com/k1.pdf",
		FileKey:        "k1.pdf",
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	loaded, err := store.GetContent(ctx, "abc123", created.ContentID())
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	attachment, ok := loaded.(Attachment)
	if !ok {
		t.Fatalf("expected Attachment, got %T", loaded)
	}
	if attachment.FileKey != "k1.pdf" || attachment.AttachmentPath != "report.pdf" {
		t.Fatalf("unexpected attachment fields: %+v", attachment)
	}
}

func TestUpdateContentPreservesIdentityFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateNote(ctx, "abc123", NewNote{Body: "before"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	updated, err := store.UpdateContent(ctx, "abc123", created.ContentID(), map[string]string{
		"content":   "after",
		"id":        "evil-overwrite",
		"sessionId": "stolen",
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	note, ok := updated.(Note)
	if !ok {
		t.Fatalf("expected Note, got %T", updated)
	}
	if note.Body != "after" {
		t.Fatalf("body not updated: %q", note.Body)
	}
	if note.ID != created.ContentID() || note.SessionID != "abc123" {
		t.Fatalf("identity fields mutated: %+v", note)
	}
	if note.UpdatedAt == note.CreatedAt {
		t.Fatal("expected updatedAt to advance past createdAt")
	}
}

func TestUpdateContentUnknownField(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	created, err := store.CreateNote(ctx, "abc123", NewNote{Body: "body"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := store.UpdateContent(ctx, "abc123", created.ContentID(), map[string]string{"nonsense": "x"}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDeleteContentThenGone(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateNote(ctx, "abc123", NewNote{Body: "remove me"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	deleted, err := store.DeleteContent(ctx, "abc123", created.ContentID())
	if err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if deleted.ContentID() != created.ContentID() {
		t.Fatalf("deleted record mismatch: %q", deleted.ContentID())
	}

	if _, err := store.GetContent(ctx, "abc123", created.ContentID()); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}

func TestDeleteUnknownContent(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.DeleteContent(context.Background(), "abc123", "nope"); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}

func TestListContentNewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateNote(ctx, "abc123", NewNote{Body: "first"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	second, err := store.CreateNote(ctx, "abc123", NewNote{Body: "second"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	third, err := store.CreateAttachment(ctx, "abc123", NewAttachment{
		AttachmentPath: "file.bin",
		AttachmentURL:  "https://files.example.com/file.bin",
		FileKey:        "file.bin",
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	listed, err := store.ListContent(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 records, got %d", len(listed))
	}
	wantOrder := []string{third.ContentID(), second.ContentID(), first.ContentID()}
	for index, record := range listed {
		if record.ContentID() != wantOrder[index] {
			t.Fatalf("position %d: got %q, want %q", index, record.ContentID(), wantOrder[index])
		}
	}
}

func TestListContentScopedToSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateNote(ctx, "abc123", NewNote{Body: "mine"}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := store.CreateNote(ctx, "other", NewNote{Body: "theirs"}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	listed, err := store.ListContent(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 record, got %d", len(listed))
	}
	if listed[0].OwnerSessionID() != "abc123" {
		t.Fatalf("foreign content leaked into listing: %+v", listed[0])
	}
}

func TestContentOrderPersistenceRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "abc123", NewSession{}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	order := []string{idCharlie, idAlpha, idBravo}
	if err := store.SetContentOrder(ctx, "abc123", order); err != nil {
		t.Fatalf("unexpected set order error: %v", err)
	}

	loaded, err := store.ContentOrder(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected order read error: %v", err)
	}
	if len(loaded) != 3 || loaded[0] != idCharlie || loaded[2] != idBravo {
		t.Fatalf("order mismatch: %v", loaded)
	}
}

func TestContentOrderFailOpenOnCorruptField(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "abc123", NewSession{}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	fake.SetField(testNamespace+":session:abc123", "rawContentOrder", "corrupt;garbage")

	loaded, err := store.ContentOrder(ctx, "abc123")
	if err != nil {
		t.Fatalf("expected fail-open read, got error %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty order from corrupt field, got %v", loaded)
	}
}

func TestAdjustUsedSpaceCreditAndDebit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "abc123", NewSession{}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if err := store.AdjustUsedSpace(ctx, "abc123", 2048); err != nil {
		t.Fatalf("unexpected credit error: %v", err)
	}
	if err := store.AdjustUsedSpace(ctx, "abc123", -1024); err != nil {
		t.Fatalf("unexpected debit error: %v", err)
	}

	loaded, err := store.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.UsedSpace != 1024 {
		t.Fatalf("expected 1024 bytes used, got %d", loaded.UsedSpace)
	}

	// Debits never push the counter below zero.
	if err := store.AdjustUsedSpace(ctx, "abc123", -999999); err != nil {
		t.Fatalf("unexpected debit error: %v", err)
	}
	loaded, err = store.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.UsedSpace != 0 {
		t.Fatalf("expected used space floor of 0, got %d", loaded.UsedSpace)
	}
}

func TestStoreSurfacesTransientIOFailures(t *testing.T) {
	store, fake := newTestStore(t)
	fake.Failure = errors.New("connection reset")

	_, err := store.Get(context.Background(), "abc123")
	if err == nil {
		t.Fatal("expected transient IO failure to surface")
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %T", err)
	}
	if storeErr.Code() != "session.get.read_failed" {
		t.Fatalf("unexpected error code %q", storeErr.Code())
	}
}
