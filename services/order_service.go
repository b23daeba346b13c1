package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sufrahq/sufra-api/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrOrderDataIncomplete is returned when a conversation has not collected
// enough order data to place an order yet
var ErrOrderDataIncomplete = errors.New("order data is incomplete")

// OrderService turns a completed conversation into an order record and links
// it back to the session. Pricing, inventory and payment happen downstream.
type OrderService struct {
	db            *gorm.DB
	conversations *ConversationService
}

// NewOrderService creates a new order service
func NewOrderService(db *gorm.DB, conversations *ConversationService) *OrderService {
	return &OrderService{
		db:            db,
		conversations: conversations,
	}
}

// CreateFromSession validates the session's accumulated order data, creates
// the order with a snapshot of that data, and links it to the session, which
// forces the conversation into its completed state.
func (s *OrderService) CreateFromSession(ctx context.Context, sessionID string) (*model.Order, error) {
	session, err := s.conversations.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := validateOrderData(session.OrderData); err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(session.OrderData)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot order data: %w", err)
	}

	order := model.Order{
		SessionID:     session.SessionID,
		ParticipantID: session.ParticipantID,
		UserID:        session.UserID,
		Status:        model.OrderStatusPending,
		Snapshot:      datatypes.JSON(snapshot),
	}
	if err := s.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if err := s.conversations.LinkOrder(ctx, sessionID, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

// validateOrderData checks the minimum fields an order needs before creation
func validateOrderData(data model.OrderData) error {
	if data.ServiceType == nil {
		return fmt.Errorf("%w: service type not chosen", ErrOrderDataIncomplete)
	}
	switch *data.ServiceType {
	case model.ServiceDelivery:
		if data.DeliveryAddress == nil || data.DeliveryAddress.Address == nil {
			return fmt.Errorf("%w: delivery address missing", ErrOrderDataIncomplete)
		}
	case model.ServiceDineIn:
		if data.TableNumber == nil {
			return fmt.Errorf("%w: table number missing", ErrOrderDataIncomplete)
		}
	}
	return nil
}
