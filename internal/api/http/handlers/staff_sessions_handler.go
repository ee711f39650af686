package handlers

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-session/internal/api/dto"
	"github.com/spec-kit/ticket-session/internal/domain"
	"github.com/spec-kit/ticket-session/internal/lifecycle"
	"github.com/spec-kit/ticket-session/internal/session"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

// StaffSessionsHandler exposes the staff side of the coordination protocol.
// Open sessions are kept per (ticket, agent); the facade re-validates lock
// ownership on every mutating call, so a stale entry here can deny but
// never corrupt.
type StaffSessionsHandler struct {
	facade *session.Facade

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewStaffSessionsHandler constructs handler.
func NewStaffSessionsHandler(facade *session.Facade) *StaffSessionsHandler {
	return &StaffSessionsHandler{facade: facade, sessions: make(map[string]*session.Session)}
}

func agentFrom(c *fiber.Ctx) (string, error) {
	agentID := strings.TrimSpace(c.Get("X-Agent-Id"))
	if agentID == "" {
		return "", apperrors.NewValidationError("X-Agent-Id header required", nil)
	}
	return agentID, nil
}

func sessionKey(ticketID, agentID string) string {
	return ticketID + "|" + agentID
}

func (h *StaffSessionsHandler) lookup(ticketID, agentID string) (*session.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[sessionKey(ticketID, agentID)]
	if !ok {
		return nil, apperrors.NewNotFound("session", map[string]any{
			"ticket_id": ticketID,
			"agent_id":  agentID,
		})
	}
	return sess, nil
}

// OpenSession POST /staff/tickets/:id/session.
func (h *StaffSessionsHandler) OpenSession(c *fiber.Ctx) error {
	agentID, err := agentFrom(c)
	if err != nil {
		return err
	}
	ticketID := c.Params("id")
	sess, err := h.facade.Open(c.Context(), ticketID, agentID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.sessions[sessionKey(ticketID, agentID)] = sess
	h.mu.Unlock()
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.SessionView(ticketID, agentID, sess.Lease())})
}

// CloseSession DELETE /staff/tickets/:id/session.
func (h *StaffSessionsHandler) CloseSession(c *fiber.Ctx) error {
	agentID, err := agentFrom(c)
	if err != nil {
		return err
	}
	ticketID := c.Params("id")
	sess, err := h.lookup(ticketID, agentID)
	if err != nil {
		return err
	}
	if err := sess.Close(c.Context()); err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.sessions, sessionKey(ticketID, agentID))
	h.mu.Unlock()
	return c.SendStatus(http.StatusNoContent)
}

// ChangeStatus POST /staff/tickets/:id/status.
func (h *StaffSessionsHandler) ChangeStatus(c *fiber.Ctx) error {
	agentID, err := agentFrom(c)
	if err != nil {
		return err
	}
	sess, err := h.lookup(c.Params("id"), agentID)
	if err != nil {
		return err
	}
	var req dto.ChangeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	event := lifecycle.Event(strings.ToUpper(req.Event))
	switch event {
	case lifecycle.EventStartWork, lifecycle.EventClose, lifecycle.EventReturnToOpen:
	default:
		return apperrors.NewValidationError("unknown lifecycle event", map[string]any{"event": req.Event})
	}
	ticket, err := sess.ChangeStatus(c.Context(), event)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketView(ticket)})
}

// Reassign POST /staff/tickets/:id/assignee.
func (h *StaffSessionsHandler) Reassign(c *fiber.Ctx) error {
	agentID, err := agentFrom(c)
	if err != nil {
		return err
	}
	sess, err := h.lookup(c.Params("id"), agentID)
	if err != nil {
		return err
	}
	var req dto.ReassignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	var assignee *domain.Actor
	if req.Assignee != nil {
		if req.Assignee.ID == "" {
			return apperrors.NewValidationError("assignee id required", nil)
		}
		assignee = &domain.Actor{ID: req.Assignee.ID, DisplayName: req.Assignee.DisplayName}
	}
	ticket, err := sess.Reassign(c.Context(), assignee)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketView(ticket)})
}

// ChangePriority POST /staff/tickets/:id/priority.
func (h *StaffSessionsHandler) ChangePriority(c *fiber.Ctx) error {
	agentID, err := agentFrom(c)
	if err != nil {
		return err
	}
	sess, err := h.lookup(c.Params("id"), agentID)
	if err != nil {
		return err
	}
	var req dto.ChangePriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := sess.ChangePriority(c.Context(), req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketView(ticket)})
}

// SendMessage POST /staff/tickets/:id/messages.
func (h *StaffSessionsHandler) SendMessage(c *fiber.Ctx) error {
	agentID, err := agentFrom(c)
	if err != nil {
		return err
	}
	sess, err := h.lookup(c.Params("id"), agentID)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := sess.SendMessage(c.Context(), req.Body, attachmentsFrom(req.Attachments))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.MessageView(msg)})
}

// MarkRead POST /staff/tickets/:id/read.
func (h *StaffSessionsHandler) MarkRead(c *fiber.Ctx) error {
	agentID, err := agentFrom(c)
	if err != nil {
		return err
	}
	sess, err := h.lookup(c.Params("id"), agentID)
	if err != nil {
		return err
	}
	var req dto.MarkReadRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := sess.MarkRead(c.Context(), req.MessageIDs); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
