package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sufrahq/sufra-api/database"
	"github.com/sufrahq/sufra-api/model"
)

// memorySessionStore is an in-memory SessionStore for exercising the
// conversation service without PostgreSQL
type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.ConversationSession
	messages map[string][]model.ConversationMessage
	nextID   uint
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{
		sessions: make(map[string]*model.ConversationSession),
		messages: make(map[string][]model.ConversationMessage),
	}
}

func (s *memorySessionStore) CreateSession(ctx context.Context, session *model.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.SessionID] = &copied
	return nil
}

func (s *memorySessionStore) GetSession(ctx context.Context, sessionID string) (*model.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, database.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *memorySessionStore) SessionsByParticipant(ctx context.Context, participantID string, limit int) ([]model.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ConversationSession
	for _, session := range s.sessions {
		if session.ParticipantID == participantID {
			out = append(out, *session)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memorySessionStore) UpdateSessionFields(ctx context.Context, sessionID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return database.ErrSessionNotFound
	}
	for column, value := range fields {
		switch column {
		case "state":
			session.State = value.(model.ConversationState)
		case "language":
			session.Language = value.(model.Language)
		case "order_data":
			session.OrderData = value.(model.OrderData)
		case "order_id":
			if value == nil {
				session.OrderID = nil
			} else {
				id := value.(uint)
				session.OrderID = &id
			}
		case "updated_at":
			session.UpdatedAt = value.(time.Time)
		}
	}
	session.UpdatedAt = time.Now()
	return nil
}

func (s *memorySessionStore) AppendMessage(ctx context.Context, message *model.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[message.SessionID]; !ok {
		return database.ErrSessionNotFound
	}
	s.nextID++
	message.ID = s.nextID
	s.messages[message.SessionID] = append(s.messages[message.SessionID], *message)
	s.sessions[message.SessionID].UpdatedAt = time.Now()
	return nil
}

func (s *memorySessionStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.messages[sessionID]
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]model.ConversationMessage, len(log))
	copy(out, log)
	return out, nil
}

func (s *memorySessionStore) DeleteMessages(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, sessionID)
	return nil
}

func (s *memorySessionStore) MergeOrderData(ctx context.Context, sessionID string, partial model.OrderData) (*model.OrderData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, database.ErrSessionNotFound
	}
	merged := session.OrderData
	merged.Merge(partial)
	session.OrderData = merged
	copied := merged
	return &copied, nil
}

func (s *memorySessionStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memorySessionStore) setExpiry(sessionID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID].ExpiresAt = expiresAt
}

func newTestService() (*ConversationService, *memorySessionStore) {
	store := newMemorySessionStore()
	return NewConversationService(store), store
}

func mustCreate(t *testing.T, svc *ConversationService, participantID string) *model.ConversationSession {
	t.Helper()
	session, err := svc.GetOrCreateSession(context.Background(), GetOrCreateSessionRequest{
		ParticipantID:   participantID,
		ParticipantType: model.ParticipantGuest,
	})
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	return session
}

func TestGetOrCreateSessionIdempotent(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	first := mustCreate(t, svc, "guest-1")
	if first.SessionID == "" {
		t.Fatal("expected a generated session ID")
	}
	if first.State != model.StateGreeting {
		t.Fatalf("expected initial state greeting, got %s", first.State)
	}
	if !first.OrderData.IsEmpty() {
		t.Fatal("expected empty order data on creation")
	}
	if !first.ExpiresAt.After(first.CreatedAt) {
		t.Fatal("expected expiry after creation time")
	}

	second, err := svc.GetOrCreateSession(ctx, GetOrCreateSessionRequest{
		SessionID:     first.SessionID,
		ParticipantID: "guest-1",
	})
	if err != nil {
		t.Fatalf("second GetOrCreateSession failed: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("expected same session, got %s and %s", first.SessionID, second.SessionID)
	}
	if len(store.sessions) != 1 {
		t.Fatalf("expected 1 stored session, got %d", len(store.sessions))
	}
}

func TestGetOrCreateSessionUnknownIDCreatesFresh(t *testing.T) {
	svc, _ := newTestService()

	session, err := svc.GetOrCreateSession(context.Background(), GetOrCreateSessionRequest{
		SessionID:     "no-such-session",
		ParticipantID: "guest-1",
	})
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	if session.SessionID == "no-such-session" {
		t.Fatal("expected a freshly generated identifier, not the stale one")
	}
}

func TestAddMessageAppendLaw(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := mustCreate(t, svc, "guest-1")

	contents := []string{"one", "two", "three", "four", "five"}
	for _, content := range contents {
		_, err := svc.AddMessage(ctx, AddMessageRequest{
			SessionID: session.SessionID,
			Role:      model.MessageRoleUser,
			Content:   content,
		})
		if err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	all, err := svc.GetRecentMessages(ctx, session.SessionID, 100)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(all) != len(contents) {
		t.Fatalf("expected %d messages, got %d", len(contents), len(all))
	}
	for i, msg := range all {
		if msg.Content != contents[i] {
			t.Fatalf("message %d out of order: got %q want %q", i, msg.Content, contents[i])
		}
	}

	// A windowed read returns the tail in chronological order and does not
	// consume the log
	tail, err := svc.GetRecentMessages(ctx, session.SessionID, 2)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(tail) != 2 || tail[0].Content != "four" || tail[1].Content != "five" {
		t.Fatalf("unexpected tail window: %+v", tail)
	}

	again, _ := svc.GetRecentMessages(ctx, session.SessionID, 100)
	if len(again) != len(contents) {
		t.Fatalf("windowed read mutated the log: %d messages left", len(again))
	}
}

func TestAddMessageUnknownSession(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.AddMessage(context.Background(), AddMessageRequest{
		SessionID: "missing",
		Role:      model.MessageRoleUser,
		Content:   "hello",
	})
	if !errors.Is(err, database.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAddMessageRejectsUnknownRole(t *testing.T) {
	svc, _ := newTestService()
	session := mustCreate(t, svc, "guest-1")

	_, err := svc.AddMessage(context.Background(), AddMessageRequest{
		SessionID: session.SessionID,
		Role:      "narrator",
		Content:   "hello",
	})
	if err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}

func TestUpdateOrderDataNestedMerge(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := mustCreate(t, svc, "guest-1")

	name := "A"
	if _, err := svc.UpdateOrderData(ctx, session.SessionID, model.OrderData{
		CustomerInfo: &model.CustomerInfo{Name: &name},
	}); err != nil {
		t.Fatalf("UpdateOrderData failed: %v", err)
	}

	phone := "123"
	merged, err := svc.UpdateOrderData(ctx, session.SessionID, model.OrderData{
		CustomerInfo: &model.CustomerInfo{Phone: &phone},
	})
	if err != nil {
		t.Fatalf("UpdateOrderData failed: %v", err)
	}

	if merged.CustomerInfo == nil {
		t.Fatal("expected customerInfo to survive the merge")
	}
	if merged.CustomerInfo.Name == nil || *merged.CustomerInfo.Name != "A" {
		t.Fatal("merge dropped the existing customer name")
	}
	if merged.CustomerInfo.Phone == nil || *merged.CustomerInfo.Phone != "123" {
		t.Fatal("merge did not apply the incoming phone")
	}
}

func TestUpdateOrderDataScalarOverwrite(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := mustCreate(t, svc, "guest-1")

	x := "X"
	if _, err := svc.UpdateOrderData(ctx, session.SessionID, model.OrderData{CouponCode: &x}); err != nil {
		t.Fatalf("UpdateOrderData failed: %v", err)
	}

	y := "Y"
	merged, err := svc.UpdateOrderData(ctx, session.SessionID, model.OrderData{CouponCode: &y})
	if err != nil {
		t.Fatalf("UpdateOrderData failed: %v", err)
	}
	if merged.CouponCode == nil || *merged.CouponCode != "Y" {
		t.Fatal("expected incoming coupon code to replace the existing one")
	}
}

func TestUpdateOrderDataUnknownSession(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.UpdateOrderData(context.Background(), "missing", model.OrderData{})
	if !errors.Is(err, database.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLinkOrder(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := mustCreate(t, svc, "guest-1")

	if err := svc.LinkOrder(ctx, session.SessionID, 1); err != nil {
		t.Fatalf("LinkOrder failed: %v", err)
	}

	linked, _ := svc.GetSession(ctx, session.SessionID)
	if linked.OrderID == nil || *linked.OrderID != 1 {
		t.Fatalf("expected order 1 linked, got %v", linked.OrderID)
	}
	if linked.State != model.StateCompleted {
		t.Fatalf("expected state completed, got %s", linked.State)
	}

	// A second link must not fail and the session stays completed
	if err := svc.LinkOrder(ctx, session.SessionID, 2); err != nil {
		t.Fatalf("repeat LinkOrder failed: %v", err)
	}
	linked, _ = svc.GetSession(ctx, session.SessionID)
	if linked.State != model.StateCompleted {
		t.Fatalf("expected state to remain completed, got %s", linked.State)
	}
}

func TestResetSession(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := mustCreate(t, svc, "guest-1")

	svc.AddMessage(ctx, AddMessageRequest{SessionID: session.SessionID, Role: model.MessageRoleUser, Content: "hi"})
	svc.UpdateState(ctx, session.SessionID, model.StateOrdering)
	coupon := "SAVE10"
	svc.UpdateOrderData(ctx, session.SessionID, model.OrderData{CouponCode: &coupon})
	svc.LinkOrder(ctx, session.SessionID, 7)

	if err := svc.ResetSession(ctx, session.SessionID); err != nil {
		t.Fatalf("ResetSession failed: %v", err)
	}

	reset, err := svc.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("GetSession after reset failed: %v", err)
	}
	if reset.State != model.StateGreeting {
		t.Fatalf("expected state greeting after reset, got %s", reset.State)
	}
	if !reset.OrderData.IsEmpty() {
		t.Fatal("expected order data emptied by reset")
	}
	if reset.OrderID != nil {
		t.Fatal("expected order link cleared by reset")
	}
	if reset.SessionID != session.SessionID || reset.ParticipantID != session.ParticipantID {
		t.Fatal("reset must not change session identity")
	}

	messages, _ := svc.GetRecentMessages(ctx, session.SessionID, 100)
	if len(messages) != 0 {
		t.Fatalf("expected empty log after reset, got %d messages", len(messages))
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	expired := mustCreate(t, svc, "guest-a")
	alive := mustCreate(t, svc, "guest-b")

	store.setExpiry(expired.SessionID, time.Now().Add(-time.Minute))
	store.setExpiry(alive.SessionID, time.Now().Add(time.Hour))

	deleted, err := svc.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 session deleted, got %d", deleted)
	}

	if _, err := svc.GetSession(ctx, expired.SessionID); !errors.Is(err, database.ErrSessionNotFound) {
		t.Fatalf("expected expired session gone, got %v", err)
	}
	if _, err := svc.GetSession(ctx, alive.SessionID); err != nil {
		t.Fatalf("expected live session untouched, got %v", err)
	}
}

func TestUpdateStateRejectsUnknownState(t *testing.T) {
	svc, _ := newTestService()
	session := mustCreate(t, svc, "guest-1")

	err := svc.UpdateState(context.Background(), session.SessionID, "daydreaming")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestUpdateStatePermissiveByDefault(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := mustCreate(t, svc, "guest-1")

	// Any state is reachable from any other without enforcement
	if err := svc.UpdateState(ctx, session.SessionID, model.StatePayment); err != nil {
		t.Fatalf("permissive update failed: %v", err)
	}
	if err := svc.UpdateState(ctx, session.SessionID, model.StateGreeting); err != nil {
		t.Fatalf("permissive update failed: %v", err)
	}
}

func TestUpdateStateEnforcedTransitions(t *testing.T) {
	svc, _ := newTestService()
	svc.EnforceTransitions(true)
	ctx := context.Background()
	session := mustCreate(t, svc, "guest-1")

	if err := svc.UpdateState(ctx, session.SessionID, model.StatePayment); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected greeting -> payment rejected, got %v", err)
	}
	if err := svc.UpdateState(ctx, session.SessionID, model.StateBrowsing); err != nil {
		t.Fatalf("expected greeting -> browsing allowed, got %v", err)
	}
	// completed is terminal-by-convention and reachable from anywhere
	if err := svc.UpdateState(ctx, session.SessionID, model.StateCompleted); err != nil {
		t.Fatalf("expected browsing -> completed allowed, got %v", err)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		want model.Language
	}{
		{"مرحبا", model.LanguageArabic},
		{"hello", model.LanguageEnglish},
		{"hello مرحبا", model.LanguageArabic},
		{"", model.LanguageEnglish},
		{"123 !?", model.LanguageEnglish},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.text); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestUpdateLanguage(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	session := mustCreate(t, svc, "guest-1")

	if err := svc.UpdateLanguage(ctx, session.SessionID, model.LanguageArabic); err != nil {
		t.Fatalf("UpdateLanguage failed: %v", err)
	}
	updated, _ := svc.GetSession(ctx, session.SessionID)
	if updated.Language != model.LanguageArabic {
		t.Fatalf("expected language ar, got %s", updated.Language)
	}

	if err := svc.UpdateLanguage(ctx, session.SessionID, "fr"); err == nil {
		t.Fatal("expected an error for an unsupported language")
	}
}

func TestEndToEndGuestOrdering(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	session, err := svc.GetOrCreateSession(ctx, GetOrCreateSessionRequest{
		ParticipantID:   "guest-42",
		ParticipantType: model.ParticipantGuest,
	})
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	if session.SessionID == "" {
		t.Fatal("expected a generated session ID")
	}

	if _, err := svc.AddMessage(ctx, AddMessageRequest{
		SessionID: session.SessionID,
		Role:      model.MessageRoleUser,
		Content:   "I want 2 pizzas",
	}); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if err := svc.UpdateState(ctx, session.SessionID, model.StateOrdering); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	pickup := model.ServicePickup
	if _, err := svc.UpdateOrderData(ctx, session.SessionID, model.OrderData{ServiceType: &pickup}); err != nil {
		t.Fatalf("UpdateOrderData failed: %v", err)
	}

	messages, err := svc.GetRecentMessages(ctx, session.SessionID, 10)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(messages))
	}
	if messages[0].Role != model.MessageRoleUser || messages[0].Content != "I want 2 pizzas" {
		t.Fatalf("unexpected message: %+v", messages[0])
	}

	final, _ := svc.GetSession(ctx, session.SessionID)
	if final.State != model.StateOrdering {
		t.Fatalf("expected state ordering, got %s", final.State)
	}
	if final.OrderData.ServiceType == nil || *final.OrderData.ServiceType != model.ServicePickup {
		t.Fatalf("expected pickup service type, got %+v", final.OrderData.ServiceType)
	}
}
