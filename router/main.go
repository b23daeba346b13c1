package router

import (
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sufrahq/sufra-api/database"
	"github.com/sufrahq/sufra-api/handlers"
	conversation_handlers "github.com/sufrahq/sufra-api/handlers/conversation"
	"github.com/sufrahq/sufra-api/services"
	"github.com/sufrahq/sufra-api/utils/cache"
	"github.com/sufrahq/sufra-api/utils/middleware"
	"gorm.io/gorm"
)

func SetupRoutes(app *fiber.App, store database.Storage) {
	// Get DB instance (type assert from interface)
	db, ok := store.GetDB().(*gorm.DB)
	if !ok {
		log.Fatal("Failed to get GORM DB instance")
	}

	// Wire the conversation stack
	sessionStore := database.NewGormSessionStore(db)
	conversationService := services.NewConversationService(sessionStore)
	if os.Getenv("ENFORCE_STATE_TRANSITIONS") == "true" {
		conversationService.EnforceTransitions(true)
	}
	orderService := services.NewOrderService(db, conversationService)
	orchestrator := services.NewKeywordOrchestrator()

	conversationHandler := conversation_handlers.NewConversationHandler(
		conversationService, orderService, orchestrator)

	// Redis-backed message throttle; optional, skipped when Redis is absent
	var throttle *middleware.MessageRateLimit
	redisURL := os.Getenv("REDIS_URL")
	if redisURL != "" {
		redisCache, err := cache.NewRedisCache(redisURL)
		if err != nil {
			log.Printf("Warning: Redis unavailable, message throttling disabled: %v", err)
		} else {
			throttle = middleware.NewMessageRateLimit(redisCache, 30, time.Minute)
		}
	}

	// Health check
	app.Get("/health", handlers.HandleCheckHealth(store))

	v1 := app.Group("/api/v1")

	conversations := v1.Group("/conversations")
	if throttle != nil {
		conversations.Post("/messages", throttle.Handler(), conversationHandler.SendMessage)
	} else {
		conversations.Post("/messages", conversationHandler.SendMessage)
	}
	conversations.Get("/", conversationHandler.ListSessions)
	conversations.Get("/:id", conversationHandler.GetSession)
	conversations.Post("/:id/reset", conversationHandler.ResetSession)
	conversations.Post("/:id/order", conversationHandler.CreateOrder)
}
