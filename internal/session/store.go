package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrSessionExists indicates a create collided with an existing session id.
	ErrSessionExists = errors.New("session: session already exists")
	// ErrSessionNotFound indicates no session is persisted under the id.
	ErrSessionNotFound = errors.New("session: session not found")
	// ErrContentNotFound indicates no content record is persisted under the id.
	ErrContentNotFound = errors.New("session: content not found")
	// ErrInvalidPayload indicates a content payload failed validation before persistence.
	ErrInvalidPayload = errors.New("session: invalid content payload")

	errMissingHashStore = errors.New("hash store client is required")
	errMissingNamespace = errors.New("key namespace is required")

	noOpLogger = zap.NewNop()
)

// StoreError carries an operation-scoped failure code alongside its cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason identifier for the failure.
func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew        = "session.store.new"
	opCreate          = "session.create"
	opGet             = "session.get"
	opSetField        = "session.set_field"
	opCreateContent   = "session.create_content"
	opUpdateContent   = "session.update_content"
	opDeleteContent   = "session.delete_content"
	opGetContent      = "session.get_content"
	opListContent     = "session.list_content"
	opSetContentOrder = "session.set_content_order"
	opAdjustUsedSpace = "session.adjust_used_space"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// HashStore is the narrow persistence contract the store depends on. The
// production implementation wraps a redis client; tests substitute an
// in-memory fake. Each hash write is atomic per field; there is no
// multi-key transaction.
type HashStore interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// IDProvider generates identifiers for new content records.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies for a session store.
type StoreConfig struct {
	Client     HashStore
	Namespace  string
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store persists sessions and their content in a prefixed hash keyspace.
type Store struct {
	client     HashStore
	namespace  string
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Client == nil {
		return nil, newStoreError(opStoreNew, "missing_client", errMissingHashStore)
	}
	if cfg.Namespace == "" {
		return nil, newStoreError(opStoreNew, "missing_namespace", errMissingNamespace)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		client:     cfg.Client,
		namespace:  cfg.Namespace,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

func (s *Store) sessionKey(sessionID string) string {
	return s.namespace + ":session:" + sessionID
}

func (s *Store) contentKey(sessionID, contentID string) string {
	return s.namespace + ":content:session:" + sessionID + ":content:" + contentID
}

func (s *Store) contentPattern(sessionID string) string {
	return s.namespace + ":content:session:" + sessionID + ":content:*"
}

func (s *Store) nowMillis() string {
	return strconv.FormatInt(s.clock().UTC().UnixMilli(), 10)
}

// NewSession captures the caller-supplied fields for session creation.
type NewSession struct {
	PasswordHash       string
	BackgroundImageURL string
}

// Create persists a new session. A session id is created at most once:
// colliding with an existing id returns ErrSessionExists and leaves the
// original record untouched.
func (s *Store) Create(ctx context.Context, sessionID string, initial NewSession) (Session, error) {
	normalized, err := NormalizeSessionID(sessionID)
	if err != nil {
		return Session{}, newStoreError(opCreate, "invalid_session_id", err)
	}

	key := s.sessionKey(normalized)
	existing, err := s.client.Exists(ctx, key)
	if err != nil {
		return Session{}, newStoreError(opCreate, "exists_check_failed", err)
	}
	if existing > 0 {
		return Session{}, newStoreError(opCreate, "session_exists", ErrSessionExists)
	}

	record := Session{
		SessionID:          normalized,
		PasswordHash:       initial.PasswordHash,
		CreatedAt:          s.nowMillis(),
		BackgroundImageURL: initial.BackgroundImageURL,
	}
	fields := map[string]string{
		"sessionId":       record.SessionID,
		"createdAt":       record.CreatedAt,
		"rawContentOrder": "",
		"usedSpace":       "0",
	}
	if record.PasswordHash != "" {
		fields["password"] = record.PasswordHash
	}
	if record.BackgroundImageURL != "" {
		fields["backgroundImageURL"] = record.BackgroundImageURL
	}
	if err := s.client.HSet(ctx, key, fields); err != nil {
		return Session{}, newStoreError(opCreate, "write_failed", err)
	}

	s.logger.Info("session created", zap.String("session_id", record.SessionID))
	return record, nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, sessionID string) (Session, error) {
	normalized, err := NormalizeSessionID(sessionID)
	if err != nil {
		return Session{}, newStoreError(opGet, "invalid_session_id", err)
	}
	fields, err := s.client.HGetAll(ctx, s.sessionKey(normalized))
	if err != nil {
		return Session{}, newStoreError(opGet, "read_failed", err)
	}
	if len(fields) == 0 {
		return Session{}, newStoreError(opGet, "session_not_found", ErrSessionNotFound)
	}
	return sessionFromFields(fields), nil
}

// SetField updates individual session fields. Each field write is atomic
// on its own; concurrent requests touching different fields can
// interleave, which is accepted rather than transacted around.
func (s *Store) SetField(ctx context.Context, sessionID string, fields map[string]string) error {
	normalized, err := NormalizeSessionID(sessionID)
	if err != nil {
		return newStoreError(opSetField, "invalid_session_id", err)
	}
	existing, err := s.client.Exists(ctx, s.sessionKey(normalized))
	if err != nil {
		return newStoreError(opSetField, "exists_check_failed", err)
	}
	if existing == 0 {
		return newStoreError(opSetField, "session_not_found", ErrSessionNotFound)
	}
	if err := s.client.HSet(ctx, s.sessionKey(normalized), fields); err != nil {
		return newStoreError(opSetField, "write_failed", err)
	}
	return nil
}

// NewNote captures the caller-supplied fields for note creation.
type NewNote struct {
	Body string
}

// NewAttachment captures the caller-supplied fields for attachment creation.
type NewAttachment struct {
	AttachmentPath string
	AttachmentURL  string
	FileKey        string
}

// CreateNote persists a new note under the session and returns the full record.
func (s *Store) CreateNote(ctx context.Context, sessionID string, payload NewNote) (Content, error) {
	if payload.Body == "" {
		return nil, newStoreError(opCreateContent, "empty_note", ErrInvalidPayload)
	}
	id, now, err := s.newContentIdentity()
	if err != nil {
		return nil, newStoreError(opCreateContent, "id_generation_failed", err)
	}
	note := Note{
		ID:        id,
		SessionID: sessionID,
		Body:      payload.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.writeContent(ctx, note); err != nil {
		return nil, newStoreError(opCreateContent, "write_failed", err)
	}
	return note, nil
}

// CreateAttachment persists a new attachment under the session and returns the full record.
func (s *Store) CreateAttachment(ctx context.Context, sessionID string, payload NewAttachment) (Content, error) {
	if payload.AttachmentURL == "" || payload.FileKey == "" {
		return nil, newStoreError(opCreateContent, "incomplete_attachment", ErrInvalidPayload)
	}
	id, now, err := s.newContentIdentity()
	if err != nil {
		return nil, newStoreError(opCreateContent, "id_generation_failed", err)
	}
	attachment := Attachment{
		ID:             id,
		SessionID:      sessionID,
		AttachmentPath: payload.AttachmentPath,
		AttachmentURL:  payload.AttachmentURL,
		FileKey:        payload.FileKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.writeContent(ctx, attachment); err != nil {
		return nil, newStoreError(opCreateContent, "write_failed", err)
	}
	return attachment, nil
}

// UpdateContent applies partial field updates to an existing content record
// and returns the updated record. Identity fields (id, sessionId,
// createdAt, type) are never updatable.
func (s *Store) UpdateContent(ctx context.Context, sessionID, contentID string, updates map[string]string) (Content, error) {
	existing, err := s.GetContent(ctx, sessionID, contentID)
	if err != nil {
		return nil, err
	}
	fields := existing.fields()
	for name, value := range updates {
		switch name {
		case "id", "sessionId", "createdAt", "type":
			continue
		}
		if _, known := fields[name]; !known {
			return nil, newStoreError(opUpdateContent, "unknown_field", fmt.Errorf("%w: field %q", ErrInvalidPayload, name))
		}
		fields[name] = value
	}
	fields["updatedAt"] = s.nowMillis()
	if err := s.client.HSet(ctx, s.contentKey(sessionID, contentID), fields); err != nil {
		return nil, newStoreError(opUpdateContent, "write_failed", err)
	}
	updated, err := ContentFromFields(fields)
	if err != nil {
		return nil, newStoreError(opUpdateContent, "decode_failed", err)
	}
	return updated, nil
}

// DeleteContent removes a content record, returning the record that was deleted.
func (s *Store) DeleteContent(ctx context.Context, sessionID, contentID string) (Content, error) {
	existing, err := s.GetContent(ctx, sessionID, contentID)
	if err != nil {
		return nil, err
	}
	if err := s.client.Del(ctx, s.contentKey(sessionID, contentID)); err != nil {
		return nil, newStoreError(opDeleteContent, "delete_failed", err)
	}
	return existing, nil
}

// GetContent loads one content record owned by the session.
func (s *Store) GetContent(ctx context.Context, sessionID, contentID string) (Content, error) {
	fields, err := s.client.HGetAll(ctx, s.contentKey(sessionID, contentID))
	if err != nil {
		return nil, newStoreError(opGetContent, "read_failed", err)
	}
	if len(fields) == 0 {
		return nil, newStoreError(opGetContent, "content_not_found", ErrContentNotFound)
	}
	content, err := ContentFromFields(fields)
	if err != nil {
		return nil, newStoreError(opGetContent, "decode_failed", err)
	}
	return content, nil
}

// ListContent returns every content record owned by the session, newest
// first. Callers wanting the user-arranged display order apply SortContent
// with the session's decoded order on top of this.
func (s *Store) ListContent(ctx context.Context, sessionID string) ([]Content, error) {
	keys, err := s.client.Keys(ctx, s.contentPattern(sessionID))
	if err != nil {
		return nil, newStoreError(opListContent, "scan_failed", err)
	}
	if len(keys) == 0 {
		return []Content{}, nil
	}
	hashes, err := s.client.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, newStoreError(opListContent, "read_failed", err)
	}
	records := make([]Content, 0, len(hashes))
	for _, fields := range hashes {
		if len(fields) == 0 {
			continue
		}
		content, err := ContentFromFields(fields)
		if err != nil {
			s.logger.Warn("skipping undecodable content record",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		records = append(records, content)
	}
	SortContent(records, nil)
	return records, nil
}

// ContentOrder returns the session's persisted display ordering, decoded
// fail-open: a malformed field reads as an empty order.
func (s *Store) ContentOrder(ctx context.Context, sessionID string) ([]string, error) {
	record, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return DecodeOrder(record.RawContentOrder), nil
}

// SetContentOrder persists a display ordering. Racing writers are resolved
// last-write-wins; the losing order is simply overwritten.
func (s *Store) SetContentOrder(ctx context.Context, sessionID string, order []string) error {
	if err := s.SetField(ctx, sessionID, map[string]string{"rawContentOrder": EncodeOrder(order)}); err != nil {
		return newStoreError(opSetContentOrder, "write_failed", err)
	}
	return nil
}

// AdjustUsedSpace credits or debits the session's attachment byte budget.
func (s *Store) AdjustUsedSpace(ctx context.Context, sessionID string, delta int64) error {
	record, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	total := record.UsedSpace + delta
	if total < 0 {
		total = 0
	}
	if err := s.SetField(ctx, sessionID, map[string]string{"usedSpace": strconv.FormatInt(total, 10)}); err != nil {
		return newStoreError(opAdjustUsedSpace, "write_failed", err)
	}
	return nil
}

func (s *Store) newContentIdentity() (id string, nowMillis string, err error) {
	id, err = s.idProvider.NewID()
	if err != nil {
		return "", "", err
	}
	return id, s.nowMillis(), nil
}

func (s *Store) writeContent(ctx context.Context, content Content) error {
	return s.client.HSet(ctx, s.contentKey(content.OwnerSessionID(), content.ContentID()), content.fields())
}

func sessionFromFields(fields map[string]string) Session {
	usedSpace, _ := strconv.ParseInt(fields["usedSpace"], 10, 64)
	return Session{
		SessionID:          fields["sessionId"],
		PasswordHash:       fields["password"],
		CreatedAt:          fields["createdAt"],
		BackgroundImageURL: fields["backgroundImageURL"],
		RawContentOrder:    fields["rawContentOrder"],
		UsedSpace:          usedSpace,
	}
}
