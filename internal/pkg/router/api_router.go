package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/ManuelReschke/FiscalFox/internal/api/v1"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/middleware"
)

const defaultRateLimitMax = 120

type ApiRouter struct {
	opts Options
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := h.opts.RateLimitMax
	if limit <= 0 {
		limit = defaultRateLimitMax
	}
	app.Use("/fiscal", limiter.New(limiter.Config{
		// Provider callbacks arrive in bursts from a few addresses.
		Next: func(c *fiber.Ctx) bool {
			return strings.TrimSuffix(c.Path(), "/") == apiv1.WebhookPath
		},
		Max:        limit,
		Expiration: time.Minute,
		Storage:    h.opts.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	}))

	apiServer := apiv1.NewAPIServer(h.opts.Fiscal)
	apiv1.RegisterHandlersWithOptions(app, apiServer, apiv1.ServerOptions{
		Internal: []fiber.Handler{middleware.APIKeyAuthMiddleware(h.opts.InternalAPIKey)},
	})
}

func NewApiRouter(opts Options) *ApiRouter {
	return &ApiRouter{opts: opts}
}
