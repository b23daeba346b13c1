package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sufrahq/sufra-api/database"
	"github.com/sufrahq/sufra-api/model"
)

// SessionTTL bounds the total lifetime of a conversation. It is fixed when
// the session is created and never refreshed by activity, so even an active
// conversation is swept once the 24 hours are up and the customer starts
// over with a fresh session.
const SessionTTL = 24 * time.Hour

// DefaultHistoryWindow is the number of recent messages handed to the agent
// as context when the caller does not ask for a specific window size
const DefaultHistoryWindow = 20

// ErrInvalidState is returned by UpdateState for a value outside the
// enumerated conversation states, or, when transition enforcement is
// enabled, for a transition the adjacency table does not allow. The
// orchestrator recovers by choosing a legal transition.
var ErrInvalidState = errors.New("invalid conversation state")

// legalTransitions is the optional adjacency table used when transition
// enforcement is enabled. The baseline behavior is permissive (any state to
// any state) and enforcement is off by default.
var legalTransitions = map[model.ConversationState][]model.ConversationState{
	model.StateGreeting:     {model.StateBrowsing, model.StateOrdering},
	model.StateBrowsing:     {model.StateGreeting, model.StateOrdering},
	model.StateOrdering:     {model.StateBrowsing, model.StateCartReview},
	model.StateCartReview:   {model.StateOrdering, model.StateServiceType},
	model.StateServiceType:  {model.StateDeliveryInfo, model.StateTableInfo, model.StateCoupon},
	model.StateDeliveryInfo: {model.StateCoupon, model.StateOrderSummary},
	model.StateTableInfo:    {model.StateCoupon, model.StateOrderSummary},
	model.StateCoupon:       {model.StateOrderSummary},
	model.StateOrderSummary: {model.StateCartReview, model.StatePayment},
	model.StatePayment:      {model.StateOrderSummary},
	model.StateCompleted:    {},
}

// ConversationService mediates all reads and writes to conversation session
// records. It holds no state beyond the injected store, so handlers, the
// order pipeline and the cron sweeper can each construct their own instance
// over the same database.
type ConversationService struct {
	store              database.SessionStore
	enforceTransitions bool
}

// NewConversationService creates a conversation service over the given store
func NewConversationService(store database.SessionStore) *ConversationService {
	return &ConversationService{store: store}
}

// EnforceTransitions toggles the adjacency check in UpdateState. Off by
// default: which transitions are legal is the agent orchestrator's call, and
// the session layer stays permissive unless a deployment opts in.
func (s *ConversationService) EnforceTransitions(enabled bool) {
	s.enforceTransitions = enabled
}

// GetOrCreateSessionRequest carries the identity fields for session acquisition
type GetOrCreateSessionRequest struct {
	SessionID       string
	ParticipantID   string
	ParticipantType model.ParticipantType
	UserID          *uint
}

// GetOrCreateSession returns the existing session for the given identifier,
// or creates a fresh one when the identifier is empty or no longer matches a
// record (including after expiry). Repeated calls with the same live
// identifier never create a duplicate and never mutate the existing record.
func (s *ConversationService) GetOrCreateSession(ctx context.Context, req GetOrCreateSessionRequest) (*model.ConversationSession, error) {
	if req.SessionID != "" {
		session, err := s.store.GetSession(ctx, req.SessionID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, database.ErrSessionNotFound) {
			return nil, err
		}
		// Stale or unknown identifier: fall through and start fresh
	}

	participantType := req.ParticipantType
	if participantType == "" {
		participantType = model.ParticipantGuest
	}

	now := time.Now()
	session := &model.ConversationSession{
		SessionID:       uuid.NewString(),
		ParticipantID:   req.ParticipantID,
		ParticipantType: participantType,
		UserID:          req.UserID,
		State:           model.StateGreeting,
		OrderData:       model.OrderData{},
		Language:        model.LanguageEnglish,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(SessionTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession fetches one session by its identifier
func (s *ConversationService) GetSession(ctx context.Context, sessionID string) (*model.ConversationSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// GetParticipantSessions returns a participant's sessions, most recent first
func (s *ConversationService) GetParticipantSessions(ctx context.Context, participantID string, limit int) ([]model.ConversationSession, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.SessionsByParticipant(ctx, participantID, limit)
}

// AddMessageRequest carries one conversational turn to append
type AddMessageRequest struct {
	SessionID  string
	Role       model.MessageRole
	Content    string
	ToolName   string
	ToolCallID string
}

// AddMessage appends one message to the session's log and stamps it with the
// current time. Returns database.ErrSessionNotFound when the session does
// not exist or was already swept.
func (s *ConversationService) AddMessage(ctx context.Context, req AddMessageRequest) (*model.ConversationMessage, error) {
	if !req.Role.IsValid() {
		return nil, fmt.Errorf("unknown message role %q", req.Role)
	}

	message := &model.ConversationMessage{
		SessionID:  req.SessionID,
		Role:       req.Role,
		Content:    req.Content,
		ToolName:   req.ToolName,
		ToolCallID: req.ToolCallID,
		CreatedAt:  time.Now(),
	}
	if err := s.store.AppendMessage(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

// GetRecentMessages returns the last limit messages in chronological order.
// This bounds the context handed to the agent; the stored log itself is
// never windowed or truncated.
func (s *ConversationService) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryWindow
	}
	return s.store.RecentMessages(ctx, sessionID, limit)
}

// UpdateState sets the session's conversation state. The session layer does
// not judge transition legality unless EnforceTransitions was switched on;
// the orchestrator owns that decision.
func (s *ConversationService) UpdateState(ctx context.Context, sessionID string, newState model.ConversationState) error {
	if !newState.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, newState)
	}

	if s.enforceTransitions {
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !transitionAllowed(session.State, newState) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, session.State, newState)
		}
	}

	return s.store.UpdateSessionFields(ctx, sessionID, map[string]interface{}{
		"state": newState,
	})
}

func transitionAllowed(from, to model.ConversationState) bool {
	if from == to || to == model.StateCompleted {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// UpdateOrderData merges the partial fields the agent extracted this turn
// into the session's accumulated order data and returns the merged result
func (s *ConversationService) UpdateOrderData(ctx context.Context, sessionID string, partial model.OrderData) (*model.OrderData, error) {
	return s.store.MergeOrderData(ctx, sessionID, partial)
}

// LinkOrder attaches the created order to the session and forces the state
// to completed. Safe to call again for the same session: the later order
// identifier wins and the state stays completed.
func (s *ConversationService) LinkOrder(ctx context.Context, sessionID string, orderID uint) error {
	return s.store.UpdateSessionFields(ctx, sessionID, map[string]interface{}{
		"order_id": orderID,
		"state":    model.StateCompleted,
	})
}

// ResetSession clears a session back to its initial shape while keeping its
// identity: state returns to greeting, the message log and order data are
// emptied and any order link is removed. Participant fields are untouched.
func (s *ConversationService) ResetSession(ctx context.Context, sessionID string) error {
	err := s.store.UpdateSessionFields(ctx, sessionID, map[string]interface{}{
		"state":      model.StateGreeting,
		"order_data": model.OrderData{},
		"order_id":   nil,
		"language":   model.LanguageEnglish,
	})
	if err != nil {
		return err
	}
	return s.store.DeleteMessages(ctx, sessionID)
}

// CleanupExpiredSessions deletes every session whose fixed expiry has passed
// and returns how many were removed. Invoked by the cron sweeper; a mutation
// racing with the sweep on a just-expired session fails with
// database.ErrSessionNotFound and the caller starts a fresh session.
func (s *ConversationService) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, time.Now())
}

// UpdateLanguage sets the session's conversation language
func (s *ConversationService) UpdateLanguage(ctx context.Context, sessionID string, language model.Language) error {
	if !language.IsValid() {
		return fmt.Errorf("unsupported language %q", language)
	}
	return s.store.UpdateSessionFields(ctx, sessionID, map[string]interface{}{
		"language": language,
	})
}

// DetectLanguage returns "ar" when the text contains any character from the
// Arabic Unicode block, otherwise "en". Pure function, no persistence access.
func DetectLanguage(text string) model.Language {
	for _, r := range text {
		if unicode.Is(unicode.Arabic, r) {
			return model.LanguageArabic
		}
	}
	return model.LanguageEnglish
}
