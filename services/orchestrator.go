package services

import (
	"context"
	"strings"

	"github.com/sufrahq/sufra-api/model"
)

// Decision is what the agent decided for one conversational turn: the reply
// to send, the state to move to (empty means stay), any order fields it
// extracted from the customer's message, and whether the accumulated order
// data is ready to be turned into an order.
type Decision struct {
	Reply      string
	NextState  model.ConversationState
	OrderData  *model.OrderData
	OrderReady bool
}

// Orchestrator decides replies and state transitions from the bounded
// conversation history. The session layer never makes these decisions
// itself; it only persists whatever the orchestrator returns. Production
// deployments plug an LLM-backed implementation in here.
type Orchestrator interface {
	Decide(ctx context.Context, session *model.ConversationSession, history []model.ConversationMessage) (*Decision, error)
}

// KeywordOrchestrator is a deterministic fallback orchestrator driven by a
// handful of keyword rules. It keeps the conversation flow runnable without
// an LLM backend and doubles as the orchestrator used in tests.
type KeywordOrchestrator struct{}

// NewKeywordOrchestrator creates the rule-driven fallback orchestrator
func NewKeywordOrchestrator() *KeywordOrchestrator {
	return &KeywordOrchestrator{}
}

var serviceTypeKeywords = map[model.ServiceType][]string{
	model.ServicePickup:   {"pickup", "pick up", "takeaway", "استلام", "سفري"},
	model.ServiceDelivery: {"delivery", "deliver", "توصيل"},
	model.ServiceDineIn:   {"dine in", "dine-in", "table", "محلي", "طاولة"},
}

var replies = map[model.ConversationState]map[model.Language]string{
	model.StateGreeting: {
		model.LanguageEnglish: "Welcome! What would you like to order today?",
		model.LanguageArabic:  "أهلاً وسهلاً! ماذا تحب أن تطلب اليوم؟",
	},
	model.StateOrdering: {
		model.LanguageEnglish: "Got it. Anything else, or shall we review your cart?",
		model.LanguageArabic:  "تمام. هل تريد إضافة شيء آخر أم نراجع طلبك؟",
	},
	model.StateServiceType: {
		model.LanguageEnglish: "Would you like pickup, delivery, or to dine in?",
		model.LanguageArabic:  "هل تفضل الاستلام أم التوصيل أم الطلب المحلي؟",
	},
	model.StateOrderSummary: {
		model.LanguageEnglish: "Here is your order summary. Shall I place the order?",
		model.LanguageArabic:  "هذا ملخص طلبك. هل أؤكد الطلب؟",
	},
}

// Decide applies the keyword rules to the latest user message
func (o *KeywordOrchestrator) Decide(ctx context.Context, session *model.ConversationSession, history []model.ConversationMessage) (*Decision, error) {
	latest := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.MessageRoleUser {
			latest = strings.ToLower(history[i].Content)
			break
		}
	}

	decision := &Decision{}

	// A service-type keyword anywhere in the message sets the field and
	// advances toward the summary
	for serviceType, keywords := range serviceTypeKeywords {
		for _, keyword := range keywords {
			if strings.Contains(latest, keyword) {
				st := serviceType
				decision.OrderData = &model.OrderData{ServiceType: &st}
				decision.NextState = model.StateOrderSummary
				decision.Reply = replyFor(model.StateOrderSummary, session.Language)
				return decision, nil
			}
		}
	}

	switch session.State {
	case model.StateGreeting:
		decision.NextState = model.StateOrdering
		decision.Reply = replyFor(model.StateOrdering, session.Language)
	case model.StateOrdering, model.StateCartReview:
		decision.NextState = model.StateServiceType
		decision.Reply = replyFor(model.StateServiceType, session.Language)
	case model.StateOrderSummary:
		if strings.Contains(latest, "yes") || strings.Contains(latest, "confirm") ||
			strings.Contains(latest, "نعم") || strings.Contains(latest, "أكد") {
			decision.OrderReady = true
			decision.Reply = replyFor(model.StateOrderSummary, session.Language)
		} else {
			decision.Reply = replyFor(model.StateOrderSummary, session.Language)
		}
	default:
		decision.Reply = replyFor(model.StateGreeting, session.Language)
	}

	return decision, nil
}

func replyFor(state model.ConversationState, language model.Language) string {
	byLanguage, ok := replies[state]
	if !ok {
		byLanguage = replies[model.StateGreeting]
	}
	if reply, ok := byLanguage[language]; ok {
		return reply
	}
	return byLanguage[model.LanguageEnglish]
}
