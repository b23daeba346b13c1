package model

import (
	"time"

	"gorm.io/gorm"
)

// User represents a registered customer. Guests converse without a user row;
// only authenticated participants get one, and their sessions carry it as
// UserRef. Authentication itself is handled upstream of this service.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
	Phone     string         `gorm:"type:varchar(20);uniqueIndex" json:"phone"`
	Email     string         `gorm:"type:varchar(255)" json:"email,omitempty"`

	// Relationships
	Sessions []ConversationSession `gorm:"foreignKey:UserID" json:"-"`
	Orders   []Order               `gorm:"foreignKey:UserID" json:"-"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}
