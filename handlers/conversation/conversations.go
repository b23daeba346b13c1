package conversation

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sufrahq/sufra-api/database"
	"github.com/sufrahq/sufra-api/model"
	"github.com/sufrahq/sufra-api/services"
	"github.com/sufrahq/sufra-api/utils/response"
	"github.com/sufrahq/sufra-api/utils/validation"
)

// ConversationHandler handles the conversational ordering endpoints
type ConversationHandler struct {
	validator     *validation.Validator
	conversations *services.ConversationService
	orders        *services.OrderService
	orchestrator  services.Orchestrator
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *services.ConversationService, orders *services.OrderService, orchestrator services.Orchestrator) *ConversationHandler {
	return &ConversationHandler{
		validator:     validation.NewValidator(),
		conversations: conversations,
		orders:        orders,
		orchestrator:  orchestrator,
	}
}

// SendMessageRequest represents one inbound customer message. The session_id
// is issued on first contact and echoed by the client on every following
// request of the same conversation.
type SendMessageRequest struct {
	SessionID       string `json:"session_id" validate:"omitempty,max=64"`
	ParticipantID   string `json:"participant_id" validate:"required,max=100"`
	ParticipantType string `json:"participant_type" validate:"omitempty,oneof=guest registered"`
	UserID          *uint  `json:"user_id" validate:"omitempty"`
	Content         string `json:"content" validate:"required,min=1,max=4000"`
}

// SendMessageResponse carries the agent's reply and the session identifiers
// the client needs for the next turn
type SendMessageResponse struct {
	SessionID string                  `json:"session_id"`
	State     model.ConversationState `json:"state"`
	Language  model.Language          `json:"language"`
	Reply     string                  `json:"reply"`
	OrderID   *uint                   `json:"order_id,omitempty"`
}

// SendMessage handles POST /api/v1/conversations/messages. It runs one full
// turn: session acquisition, language detection, logging the customer
// message, handing the bounded history to the orchestrator, persisting its
// decision and logging the reply.
func (h *ConversationHandler) SendMessage(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	req.Content = validation.SanitizeString(req.Content)
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	ctx := c.Context()

	session, err := h.conversations.GetOrCreateSession(ctx, services.GetOrCreateSessionRequest{
		SessionID:       req.SessionID,
		ParticipantID:   req.ParticipantID,
		ParticipantType: model.ParticipantType(req.ParticipantType),
		UserID:          req.UserID,
	})
	if err != nil {
		return persistenceError(c)
	}

	// Detect the conversation language from this message and persist it when
	// it changed
	if detected := services.DetectLanguage(req.Content); detected != session.Language {
		if err := h.conversations.UpdateLanguage(ctx, session.SessionID, detected); err == nil {
			session.Language = detected
		}
	}

	_, err = h.conversations.AddMessage(ctx, services.AddMessageRequest{
		SessionID: session.SessionID,
		Role:      model.MessageRoleUser,
		Content:   req.Content,
	})
	if errors.Is(err, database.ErrSessionNotFound) {
		// The expiry sweep removed the session between acquisition and
		// append. Start fresh rather than surfacing an internal error; the
		// agent simply re-greets.
		session, err = h.conversations.GetOrCreateSession(ctx, services.GetOrCreateSessionRequest{
			ParticipantID:   req.ParticipantID,
			ParticipantType: model.ParticipantType(req.ParticipantType),
			UserID:          req.UserID,
		})
		if err != nil {
			return persistenceError(c)
		}
		_, err = h.conversations.AddMessage(ctx, services.AddMessageRequest{
			SessionID: session.SessionID,
			Role:      model.MessageRoleUser,
			Content:   req.Content,
		})
	}
	if err != nil {
		return persistenceError(c)
	}

	history, err := h.conversations.GetRecentMessages(ctx, session.SessionID, services.DefaultHistoryWindow)
	if err != nil {
		return persistenceError(c)
	}

	decision, err := h.orchestrator.Decide(ctx, session, history)
	if err != nil {
		return response.InternalServerError(c, "The ordering agent is unavailable")
	}

	if decision.OrderData != nil {
		if _, err := h.conversations.UpdateOrderData(ctx, session.SessionID, *decision.OrderData); err != nil {
			return persistenceError(c)
		}
	}
	if decision.NextState != "" && decision.NextState != session.State {
		if err := h.conversations.UpdateState(ctx, session.SessionID, decision.NextState); err != nil {
			return persistenceError(c)
		}
		session.State = decision.NextState
	}

	if decision.Reply != "" {
		_, err = h.conversations.AddMessage(ctx, services.AddMessageRequest{
			SessionID: session.SessionID,
			Role:      model.MessageRoleAssistant,
			Content:   decision.Reply,
		})
		if err != nil {
			return persistenceError(c)
		}
	}

	resp := SendMessageResponse{
		SessionID: session.SessionID,
		State:     session.State,
		Language:  session.Language,
		Reply:     decision.Reply,
	}

	if decision.OrderReady {
		order, err := h.orders.CreateFromSession(ctx, session.SessionID)
		if err != nil && !errors.Is(err, services.ErrOrderDataIncomplete) {
			return persistenceError(c)
		}
		if order != nil {
			resp.OrderID = &order.ID
			resp.State = model.StateCompleted
		}
	}

	return response.Success(c, resp)
}

// GetSession handles GET /api/v1/conversations/:id
func (h *ConversationHandler) GetSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	session, err := h.conversations.GetSession(c.Context(), sessionID)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return response.NotFound(c, "Conversation not found")
		}
		return persistenceError(c)
	}

	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	messages, err := h.conversations.GetRecentMessages(c.Context(), sessionID, limit)
	if err != nil {
		return persistenceError(c)
	}
	session.Messages = messages

	return response.Success(c, session)
}

// ListSessions handles GET /api/v1/conversations?participant_id=...
func (h *ConversationHandler) ListSessions(c *fiber.Ctx) error {
	participantID := c.Query("participant_id")
	if participantID == "" {
		return response.BadRequest(c, "participant_id is required")
	}
	limit, _ := strconv.Atoi(c.Query("limit", "10"))

	sessions, err := h.conversations.GetParticipantSessions(c.Context(), participantID, limit)
	if err != nil {
		return persistenceError(c)
	}
	return response.Success(c, sessions)
}

// ResetSession handles POST /api/v1/conversations/:id/reset
func (h *ConversationHandler) ResetSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	if err := h.conversations.ResetSession(c.Context(), sessionID); err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return response.NotFound(c, "Conversation not found")
		}
		return persistenceError(c)
	}
	return response.SuccessWithMessage(c, "Conversation reset", nil)
}

// CreateOrder handles POST /api/v1/conversations/:id/order. The order
// pipeline calls this once the customer confirms; linking forces the
// conversation into its completed state.
func (h *ConversationHandler) CreateOrder(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	order, err := h.orders.CreateFromSession(c.Context(), sessionID)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return response.NotFound(c, "Conversation not found")
		}
		if errors.Is(err, services.ErrOrderDataIncomplete) {
			return response.BadRequest(c, err.Error())
		}
		return persistenceError(c)
	}
	return response.Created(c, order)
}

// persistenceError is the customer-facing apology for storage failures: no
// raw error leaks, the customer is asked to resend.
func persistenceError(c *fiber.Ctx) error {
	return response.ServiceUnavailable(c, "Sorry, something went wrong. Please resend your last message")
}
