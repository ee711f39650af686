package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-session/internal/observability"
	"github.com/spec-kit/ticket-session/internal/persistence"
)

// HealthHandler exposes liveness/readiness probes and protocol counters.
type HealthHandler struct {
	redis   *persistence.Redis
	metrics *observability.Metrics
}

// NewHealthHandler constructs handler.
func NewHealthHandler(redis *persistence.Redis, metrics *observability.Metrics) *HealthHandler {
	return &HealthHandler{redis: redis, metrics: metrics}
}

// Live GET /health/live.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready GET /health/ready.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	status := "ok"
	checks := fiber.Map{}
	if h.redis != nil {
		if err := h.redis.Ping(c.Context()); err != nil {
			checks["redis"] = err.Error()
			status = "degraded"
		} else {
			checks["redis"] = "ok"
		}
	}
	return c.JSON(fiber.Map{
		"status":   status,
		"checks":   checks,
		"counters": h.metrics.Snapshot(),
	})
}
