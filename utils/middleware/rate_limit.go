package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sufrahq/sufra-api/utils/cache"
	"github.com/sufrahq/sufra-api/utils/response"
)

// MessageRateLimit throttles conversation messages per participant using
// Redis. A stuck client or a runaway bot hammering the message endpoint
// would otherwise grow a session's log without bound.
type MessageRateLimit struct {
	redisCache *cache.RedisCache
	limit      int64
	window     time.Duration
}

// NewMessageRateLimit creates a rate limiter allowing limit messages per
// window for each participant
func NewMessageRateLimit(redisCache *cache.RedisCache, limit int64, window time.Duration) *MessageRateLimit {
	return &MessageRateLimit{
		redisCache: redisCache,
		limit:      limit,
		window:     window,
	}
}

// Handler returns the fiber middleware. The participant identifier comes
// from the request body's participant_id when present, falling back to the
// client IP. If Redis is down the request is allowed through: rate limiting
// is protection, not a dependency.
func (m *MessageRateLimit) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("rate:messages:%s", clientKey(c))

		count, err := m.redisCache.Increment(c.Context(), key)
		if err != nil {
			return c.Next()
		}

		if count == 1 {
			m.redisCache.Expire(c.Context(), key, m.window)
		}

		if count > m.limit {
			ttl, _ := m.redisCache.TTL(c.Context(), key)
			retryAfter := int(ttl.Seconds())
			if retryAfter < 0 {
				retryAfter = int(m.window.Seconds())
			}

			c.Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			return response.TooManyRequests(c, fmt.Sprintf("Too many messages. Try again in %d seconds", retryAfter))
		}

		return c.Next()
	}
}

func clientKey(c *fiber.Ctx) string {
	var body struct {
		ParticipantID string `json:"participant_id"`
	}
	if err := c.BodyParser(&body); err == nil && body.ParticipantID != "" {
		return body.ParticipantID
	}
	return c.IP()
}
