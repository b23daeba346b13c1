package model

import (
	"time"
)

// MessageRole represents the role of the message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	MessageRoleTool      MessageRole = "tool"
)

// IsValid reports whether r is a known message role
func (r MessageRole) IsValid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem, MessageRoleTool:
		return true
	}
	return false
}

// ConversationMessage represents a single turn in a conversation. Rows are
// append-only: each message is one INSERT and the auto-increment ID preserves
// insertion order even when two appends for the same session race. The log is
// only ever emptied by an explicit session reset or the expiry sweep.
type ConversationMessage struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	SessionID  string      `gorm:"type:varchar(64);not null;index" json:"session_id"`
	Role       MessageRole `gorm:"type:varchar(20);not null" json:"role"`
	Content    string      `gorm:"type:text;not null" json:"content"`
	ToolName   string      `gorm:"type:varchar(100)" json:"tool_name,omitempty"`
	ToolCallID string      `gorm:"type:varchar(100)" json:"tool_call_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`

	// Relationships
	Session ConversationSession `gorm:"foreignKey:SessionID;references:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for ConversationMessage
func (ConversationMessage) TableName() string {
	return "conversation_messages"
}
