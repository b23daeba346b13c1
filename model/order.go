package model

import (
	"time"

	"gorm.io/datatypes"
)

// OrderStatus represents the lifecycle status of a placed order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is the entity a completed conversation links to. Pricing, inventory
// and payment live in the order pipeline, not here; the session subsystem
// only needs a stable identifier to link against, plus a snapshot of the
// order data the conversation accumulated at the moment of creation.
type Order struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	SessionID     string         `gorm:"type:varchar(64);index" json:"session_id"`
	ParticipantID string         `gorm:"type:varchar(100);not null;index" json:"participant_id"`
	UserID        *uint          `gorm:"index" json:"user_id,omitempty"`
	Status        OrderStatus    `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Snapshot      datatypes.JSON `gorm:"type:jsonb" json:"snapshot"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	// Relationships
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName specifies the table name for Order
func (Order) TableName() string {
	return "orders"
}
