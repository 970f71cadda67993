package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/mathysIN/copyman/internal/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// State is one session's locally replicated view: the content records and
// the explicit ordering the client last observed.
type State struct {
	SessionID string
	Content   []session.Content
	Order     []string
	UpdatedAt time.Time
}

// mirrorRecord is the durable row backing one mirrored session. Content
// and order travel as JSON columns; the wire shape already carries the
// type tags needed to rebuild the records.
type mirrorRecord struct {
	SessionID   string    `gorm:"column:session_id;primaryKey;size:190;not null"`
	ContentJSON string    `gorm:"column:content_json;type:text;not null"`
	OrderJSON   string    `gorm:"column:order_json;type:text;not null"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (mirrorRecord) TableName() string {
	return "offline_sessions"
}

// OfflineMirror persists session state to a local SQLite file so the
// client can come up with its last known view before connectivity.
type OfflineMirror struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenMirror establishes the SQLite-backed mirror at the given path.
func OpenMirror(path string, logger *zap.Logger) (*OfflineMirror, error) {
	if path == "" {
		return nil, fmt.Errorf("mirror path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&mirrorRecord{}); err != nil {
		return nil, err
	}

	logger.Debug("offline mirror initialized", zap.String("path", path))
	return &OfflineMirror{db: db, logger: logger}, nil
}

// Load returns the mirrored state for a session, or nil when the session
// was never mirrored.
func (m *OfflineMirror) Load(sessionID string) (*State, error) {
	var record mirrorRecord
	result := m.db.First(&record, "session_id = ?", sessionID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}

	content, err := session.ContentListFromJSON([]byte(record.ContentJSON))
	if err != nil {
		return nil, fmt.Errorf("decode mirrored content: %w", err)
	}
	var order []string
	if err := json.Unmarshal([]byte(record.OrderJSON), &order); err != nil {
		return nil, fmt.Errorf("decode mirrored order: %w", err)
	}

	return &State{
		SessionID: record.SessionID,
		Content:   content,
		Order:     order,
		UpdatedAt: record.UpdatedAt,
	}, nil
}

// Save upserts the session's mirrored state.
func (m *OfflineMirror) Save(state State) error {
	if state.SessionID == "" {
		return fmt.Errorf("mirror state requires a session id")
	}

	content := state.Content
	if content == nil {
		content = []session.Content{}
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode mirrored content: %w", err)
	}
	order := state.Order
	if order == nil {
		order = []string{}
	}
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode mirrored order: %w", err)
	}

	record := mirrorRecord{
		SessionID:   state.SessionID,
		ContentJSON: string(contentJSON),
		OrderJSON:   string(orderJSON),
		UpdatedAt:   state.UpdatedAt,
	}
	return m.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
}
