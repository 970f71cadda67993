package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ContentKind discriminates the two persisted content shapes.
type ContentKind string

const (
	// ContentKindNote is free-form text pasted into a session.
	ContentKindNote ContentKind = "note"
	// ContentKindAttachment is an uploaded file referenced by URL.
	ContentKindAttachment ContentKind = "attachment"
)

var (
	// ErrInvalidSessionID indicates a session identifier failed syntactic validation.
	ErrInvalidSessionID = errors.New("session: invalid session id")
	// ErrUnknownContentKind indicates a persisted record carried an unrecognized type tag.
	ErrUnknownContentKind = errors.New("session: unknown content kind")
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NormalizeSessionID lower-cases and validates a raw session identifier.
func NormalizeSessionID(rawInput string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" || !sessionIDPattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, rawInput)
	}
	return normalized, nil
}

// Session is the durable record backing one shared workspace.
type Session struct {
	SessionID          string `json:"sessionId"`
	PasswordHash       string `json:"-"`
	CreatedAt          string `json:"createdAt"`
	BackgroundImageURL string `json:"backgroundImageURL,omitempty"`
	RawContentOrder    string `json:"-"`
	UsedSpace          int64  `json:"usedSpace"`
}

// HasPassword reports whether mutations against this session require a credential.
func (s Session) HasPassword() bool {
	return s.PasswordHash != ""
}

// Content is the tagged union of the two record shapes a session owns.
// Implementations are exactly Note and Attachment; consumption sites
// switch exhaustively on the concrete type.
type Content interface {
	ContentID() string
	OwnerSessionID() string
	Kind() ContentKind
	CreatedAtMillis() string
	fields() map[string]string
}

// Note is a text record.
type Note struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Body      string `json:"content"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func (n Note) ContentID() string       { return n.ID }
func (n Note) OwnerSessionID() string  { return n.SessionID }
func (n Note) Kind() ContentKind       { return ContentKindNote }
func (n Note) CreatedAtMillis() string { return n.CreatedAt }

// MarshalJSON emits the wire shape including the discriminating type tag.
func (n Note) MarshalJSON() ([]byte, error) {
	type wire Note
	return json.Marshal(struct {
		Type ContentKind `json:"type"`
		wire
	}{Type: ContentKindNote, wire: wire(n)})
}

func (n Note) fields() map[string]string {
	return map[string]string{
		"id":        n.ID,
		"type":      string(ContentKindNote),
		"sessionId": n.SessionID,
		"content":   n.Body,
		"createdAt": n.CreatedAt,
		"updatedAt": n.UpdatedAt,
	}
}

// Attachment is a file record pointing at object storage.
type Attachment struct {
	ID             string `json:"id"`
	SessionID      string `json:"sessionId"`
	AttachmentPath string `json:"attachmentPath"`
	AttachmentURL  string `json:"attachmentURL"`
	FileKey        string `json:"fileKey"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

func (a Attachment) ContentID() string       { return a.ID }
func (a Attachment) OwnerSessionID() string  { return a.SessionID }
func (a Attachment) Kind() ContentKind       { return ContentKindAttachment }
func (a Attachment) CreatedAtMillis() string { return a.CreatedAt }

// MarshalJSON emits the wire shape including the discriminating type tag.
func (a Attachment) MarshalJSON() ([]byte, error) {
	type wire Attachment
	return json.Marshal(struct {
		Type ContentKind `json:"type"`
		wire
	}{Type: ContentKindAttachment, wire: wire(a)})
}

func (a Attachment) fields() map[string]string {
	return map[string]string{
		"id":             a.ID,
		"type":           string(ContentKindAttachment),
		"sessionId":      a.SessionID,
		"attachmentPath": a.AttachmentPath,
		"attachmentURL":  a.AttachmentURL,
		"fileKey":        a.FileKey,
		"createdAt":      a.CreatedAt,
		"updatedAt":      a.UpdatedAt,
	}
}

// ContentFromFields rebuilds a content record from a persisted hash.
func ContentFromFields(fields map[string]string) (Content, error) {
	switch ContentKind(fields["type"]) {
	case ContentKindNote:
		return Note{
			ID:        fields["id"],
			SessionID: fields["sessionId"],
			Body:      fields["content"],
			CreatedAt: fields["createdAt"],
			UpdatedAt: fields["updatedAt"],
		}, nil
	case ContentKindAttachment:
		return Attachment{
			ID:             fields["id"],
			SessionID:      fields["sessionId"],
			AttachmentPath: fields["attachmentPath"],
			AttachmentURL:  fields["attachmentURL"],
			FileKey:        fields["fileKey"],
			CreatedAt:      fields["createdAt"],
			UpdatedAt:      fields["updatedAt"],
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownContentKind, fields["type"])
	}
}

// ContentFromJSON decodes one wire-shaped content record by its type tag.
func ContentFromJSON(raw []byte) (Content, error) {
	var tagged struct {
		Type ContentKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, err
	}
	switch tagged.Type {
	case ContentKindNote:
		var note Note
		if err := json.Unmarshal(raw, &note); err != nil {
			return nil, err
		}
		return note, nil
	case ContentKindAttachment:
		var attachment Attachment
		if err := json.Unmarshal(raw, &attachment); err != nil {
			return nil, err
		}
		return attachment, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownContentKind, tagged.Type)
	}
}

// ContentListFromJSON decodes a JSON array of wire-shaped content records.
func ContentListFromJSON(raw []byte) ([]Content, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	decoded := make([]Content, 0, len(items))
	for _, item := range items {
		content, err := ContentFromJSON(item)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, content)
	}
	return decoded, nil
}

func parseMillis(value string) int64 {
	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return millis
}
