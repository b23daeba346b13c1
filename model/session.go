package model

import (
	"time"
)

// ParticipantType identifies who is driving a conversation
type ParticipantType string

const (
	ParticipantGuest      ParticipantType = "guest"
	ParticipantRegistered ParticipantType = "registered"
)

// ConversationState represents the current phase of the ordering conversation.
// Transitions between states are decided by the agent orchestrator, not by the
// session layer; any state is reachable from any other unless transition
// enforcement is explicitly enabled on the conversation service.
type ConversationState string

const (
	StateGreeting     ConversationState = "greeting"
	StateBrowsing     ConversationState = "browsing"
	StateOrdering     ConversationState = "ordering"
	StateCartReview   ConversationState = "cart_review"
	StateServiceType  ConversationState = "service_type"
	StateDeliveryInfo ConversationState = "delivery_info"
	StateTableInfo    ConversationState = "table_info"
	StateCoupon       ConversationState = "coupon"
	StateOrderSummary ConversationState = "order_summary"
	StatePayment      ConversationState = "payment"
	StateCompleted    ConversationState = "completed"
)

// IsValid reports whether s is a member of the enumerated conversation states
func (s ConversationState) IsValid() bool {
	switch s {
	case StateGreeting, StateBrowsing, StateOrdering, StateCartReview,
		StateServiceType, StateDeliveryInfo, StateTableInfo, StateCoupon,
		StateOrderSummary, StatePayment, StateCompleted:
		return true
	}
	return false
}

// Language represents the detected conversation language
type Language string

const (
	LanguageArabic  Language = "ar"
	LanguageEnglish Language = "en"
)

// IsValid reports whether l is a supported conversation language
func (l Language) IsValid() bool {
	return l == LanguageArabic || l == LanguageEnglish
}

// ConversationSession represents one ongoing ordering conversation between a
// participant (guest or registered user) and the ordering agent. ExpiresAt is
// fixed at creation time and is not refreshed by activity, so a session is
// swept 24 hours after it started regardless of recent traffic. Expired
// sessions are hard-deleted by the cleanup job; there is no soft delete here
// because a swept session must be recreatable under a fresh identifier.
type ConversationSession struct {
	SessionID       string            `gorm:"type:varchar(64);primaryKey" json:"session_id"`
	ParticipantID   string            `gorm:"type:varchar(100);not null;index" json:"participant_id"`
	ParticipantType ParticipantType   `gorm:"type:varchar(20);not null;default:'guest'" json:"participant_type"`
	UserID          *uint             `gorm:"index" json:"user_id,omitempty"`
	State           ConversationState `gorm:"type:varchar(20);not null;default:'greeting'" json:"state"`
	OrderData       OrderData         `gorm:"type:jsonb;default:'{}'" json:"order_data"`
	OrderID         *uint             `gorm:"index" json:"order_id,omitempty"`
	Language        Language          `gorm:"type:varchar(5);not null;default:'en'" json:"language"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ExpiresAt       time.Time         `gorm:"not null;index" json:"expires_at"`

	// Relationships
	User     *User                 `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Order    *Order                `gorm:"foreignKey:OrderID" json:"order,omitempty"`
	Messages []ConversationMessage `gorm:"foreignKey:SessionID;references:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName specifies the table name for ConversationSession
func (ConversationSession) TableName() string {
	return "conversation_sessions"
}
