package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sufrahq/sufra-api/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSessionNotFound is returned when an operation targets a session that
// does not exist or has already been removed by the expiry sweep. Callers
// recover by starting a fresh session via GetOrCreateSession.
var ErrSessionNotFound = errors.New("conversation session not found")

// SessionStore defines the persistence operations the conversation service
// needs. The mutating operations are field-scoped rather than whole-record
// replaces so that two handlers racing on the same session cannot lose each
// other's writes: message appends are single inserts, field updates touch
// only the named columns, and the order-data merge runs under a row lock.
// An in-memory implementation backs the service tests.
type SessionStore interface {
	CreateSession(ctx context.Context, session *model.ConversationSession) error
	GetSession(ctx context.Context, sessionID string) (*model.ConversationSession, error)
	SessionsByParticipant(ctx context.Context, participantID string, limit int) ([]model.ConversationSession, error)
	UpdateSessionFields(ctx context.Context, sessionID string, fields map[string]interface{}) error
	AppendMessage(ctx context.Context, message *model.ConversationMessage) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error)
	DeleteMessages(ctx context.Context, sessionID string) error
	MergeOrderData(ctx context.Context, sessionID string, partial model.OrderData) (*model.OrderData, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// GormSessionStore is the PostgreSQL-backed SessionStore
type GormSessionStore struct {
	db *gorm.DB
}

// NewGormSessionStore creates a session store on top of an open GORM connection
func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

// CreateSession inserts a new session record
func (s *GormSessionStore) CreateSession(ctx context.Context, session *model.ConversationSession) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession fetches one session by its identifier
func (s *GormSessionStore) GetSession(ctx context.Context, sessionID string) (*model.ConversationSession, error) {
	var session model.ConversationSession
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	return &session, nil
}

// SessionsByParticipant returns a participant's sessions, most recent first
func (s *GormSessionStore) SessionsByParticipant(ctx context.Context, participantID string, limit int) ([]model.ConversationSession, error) {
	var sessions []model.ConversationSession
	err := s.db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionFields sets the named columns on one session. Only the given
// columns are written, so concurrent updates to different fields of the same
// session do not overwrite each other.
func (s *GormSessionStore) UpdateSessionFields(ctx context.Context, sessionID string, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&model.ConversationSession{}).
		Where("session_id = ?", sessionID).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendMessage appends one message to a session's log. The append is a
// single INSERT; ordering between racing appends comes from the
// auto-increment message ID. The session row is touched in the same
// transaction, which doubles as the existence check.
func (s *GormSessionStore) AppendMessage(ctx context.Context, message *model.ConversationMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ConversationSession{}).
			Where("session_id = ?", message.SessionID).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return fmt.Errorf("failed to touch session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
		return nil
	})
}

// RecentMessages returns the last limit messages of a session in
// chronological order. Read-only: the stored log is never consumed or
// truncated by a windowed read.
func (s *GormSessionStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error) {
	var messages []model.ConversationMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	// Reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// DeleteMessages removes a session's entire message log (session reset)
func (s *GormSessionStore) DeleteMessages(ctx context.Context, sessionID string) error {
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&model.ConversationMessage{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// MergeOrderData merges partial into the session's accumulated order data
// and returns the merged result. The read-merge-write runs inside a
// transaction with the session row locked, which serializes concurrent
// merges on the same session.
func (s *GormSessionStore) MergeOrderData(ctx context.Context, sessionID string, partial model.OrderData) (*model.OrderData, error) {
	var merged model.OrderData
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.ConversationSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ?", sessionID).
			First(&session).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to fetch session for merge: %w", err)
		}

		merged = session.OrderData
		merged.Merge(partial)

		if err := tx.Model(&session).Update("order_data", merged).Error; err != nil {
			return fmt.Errorf("failed to write merged order data: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &merged, nil
}

// DeleteExpired hard-deletes every session whose expiry is strictly before
// the given instant and returns the number of sessions removed. Message rows
// go with their session via the FK cascade.
func (s *GormSessionStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&model.ConversationSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
