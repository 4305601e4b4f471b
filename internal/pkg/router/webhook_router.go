package router

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/docsignal/DocSignal/app/controllers"
	"github.com/docsignal/DocSignal/internal/pkg/env"
)

// Fixed-window rate limit on webhook intake, keyed by source IP. Exceeding
// it returns 429 before any parsing or storage side effects.
const (
	webhookRateLimit  = 100
	webhookRateWindow = time.Minute
)

type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	webhooks := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        webhookRateLimit,
		Expiration: webhookRateWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Storage: newLimiterStorage(),
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}))

	webhooks.Post("/document-events", controllers.HandleDocumentEventWebhook)
	webhooks.Post("/billing-events", controllers.HandleBillingEventWebhook)
}

// newLimiterStorage backs the fixed window counters with Redis so limits
// hold across instances. Falls back to fiber's in-memory storage when no
// cache host is configured (tests, local runs).
func newLimiterStorage() fiber.Storage {
	host := env.GetEnv("CACHE_HOST", "")
	if host == "" {
		return nil
	}
	port := env.GetEnv("CACHE_PORT", "6379")
	return redis.New(redis.Config{
		URL: fmt.Sprintf("redis://%s:%s/0", host, port),
	})
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
