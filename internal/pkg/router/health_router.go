package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
)

type HealthRouter struct {
	ready func(ctx context.Context) error
}

func (h HealthRouter) InstallRouter(app *fiber.App) {
	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint: "/healthz",
		LivenessProbe: func(*fiber.Ctx) bool {
			return true
		},
		ReadinessEndpoint: "/readyz",
		ReadinessProbe: func(c *fiber.Ctx) bool {
			if h.ready == nil {
				return true
			}
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := h.ready(ctx); err != nil {
				log.Warnf("[Health] Not ready: %v", err)
				return false
			}
			return true
		},
	}))
}

func NewHealthRouter(ready func(ctx context.Context) error) *HealthRouter {
	return &HealthRouter{ready: ready}
}
