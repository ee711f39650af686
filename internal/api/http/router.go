package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-session/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health   *handlers.HealthHandler
	Tickets  *handlers.TicketsHandler
	Sessions *handlers.StaffSessionsHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	tickets := app.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/lock", cfg.Tickets.GetLockState)
	tickets.Get("/:id/messages", cfg.Tickets.ListMessages)
	tickets.Post("/:id/messages", cfg.Tickets.AddMessage)
	tickets.Post("/:id/read", cfg.Tickets.MarkRead)
	tickets.Get("/:id/unread", cfg.Tickets.UnreadCount)
	tickets.Post("/:id/reopen", cfg.Tickets.Reopen)
	tickets.Post("/:id/rating", cfg.Tickets.Rate)

	staff := app.Group("/staff/tickets/:id")
	staff.Post("/session", cfg.Sessions.OpenSession)
	staff.Delete("/session", cfg.Sessions.CloseSession)
	staff.Post("/status", cfg.Sessions.ChangeStatus)
	staff.Post("/assignee", cfg.Sessions.Reassign)
	staff.Post("/priority", cfg.Sessions.ChangePriority)
	staff.Post("/messages", cfg.Sessions.SendMessage)
	staff.Post("/read", cfg.Sessions.MarkRead)
}
