package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-session/internal/api/dto"
	"github.com/spec-kit/ticket-session/internal/domain"
	"github.com/spec-kit/ticket-session/internal/session"
	apperrors "github.com/spec-kit/ticket-session/pkg/util/errorutil"
)

// TicketsHandler covers author-side and read-only ticket endpoints. The
// caller's identity arrives in X-Actor-Id / X-Actor-Name headers; who
// authenticates that identity is the surrounding portal's concern.
type TicketsHandler struct {
	facade *session.Facade
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(facade *session.Facade) *TicketsHandler {
	return &TicketsHandler{facade: facade}
}

func actorFrom(c *fiber.Ctx) (domain.Actor, error) {
	id := strings.TrimSpace(c.Get("X-Actor-Id"))
	if id == "" {
		return domain.Actor{}, apperrors.NewValidationError("X-Actor-Id header required", nil)
	}
	return domain.Actor{ID: id, DisplayName: c.Get("X-Actor-Name")}, nil
}

func roleFrom(c *fiber.Ctx) (domain.Role, error) {
	switch strings.ToUpper(c.Get("X-Actor-Role", string(domain.RoleStudent))) {
	case string(domain.RoleStudent):
		return domain.RoleStudent, nil
	case string(domain.RoleStaff):
		return domain.RoleStaff, nil
	}
	return "", apperrors.NewValidationError("unknown actor role", nil)
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.facade.CreateTicket(c.Context(), actor, session.CreateTicketInput{
		Subject:     req.Subject,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.TicketView(ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.facade.GetTicket(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketView(ticket)})
}

// GetLockState GET /tickets/:id/lock.
func (h *TicketsHandler) GetLockState(c *fiber.Ctx) error {
	state, err := h.facade.Inspect(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	resp := dto.LockStateResponse{Locked: state.Locked, Holder: state.Holder}
	if state.Locked {
		expiry := state.ExpiresAt
		resp.ExpiresAt = &expiry
	}
	return c.JSON(fiber.Map{"data": resp})
}

// ListMessages GET /tickets/:id/messages.
func (h *TicketsHandler) ListMessages(c *fiber.Ctx) error {
	afterSeq, _ := strconv.ParseInt(c.Query("after_seq", "0"), 10, 64)
	msgs, err := h.facade.ListMessages(c.Context(), c.Params("id"), afterSeq)
	if err != nil {
		return err
	}
	items := make([]dto.MessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, dto.MessageView(&msgs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// AddMessage POST /tickets/:id/messages. Author-side append; staff messages
// go through the staff session endpoints so the lock is enforced.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.facade.AppendMessage(c.Context(), c.Params("id"), domain.RoleStudent, actor.ID, req.Body, attachmentsFrom(req.Attachments))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.MessageView(msg)})
}

// MarkRead POST /tickets/:id/read.
func (h *TicketsHandler) MarkRead(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	role, err := roleFrom(c)
	if err != nil {
		return err
	}
	var req dto.MarkReadRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.facade.MarkRead(c.Context(), c.Params("id"), req.MessageIDs, role, actor.ID); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// UnreadCount GET /tickets/:id/unread.
func (h *TicketsHandler) UnreadCount(c *fiber.Ctx) error {
	role, err := roleFrom(c)
	if err != nil {
		return err
	}
	count, err := h.facade.UnreadCount(c.Context(), c.Params("id"), role)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"unread": count}})
}

// Reopen POST /tickets/:id/reopen.
func (h *TicketsHandler) Reopen(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	role, err := roleFrom(c)
	if err != nil {
		return err
	}
	ticket, err := h.facade.Reopen(c.Context(), c.Params("id"), actor.ID, role)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketView(ticket)})
}

// Rate POST /tickets/:id/rating.
func (h *TicketsHandler) Rate(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.RateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.facade.Rate(c.Context(), c.Params("id"), actor.ID, req.Value)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketView(ticket)})
}

func attachmentsFrom(reqs []dto.AttachmentRequest) []domain.AttachmentReference {
	if len(reqs) == 0 {
		return nil
	}
	attachments := make([]domain.AttachmentReference, 0, len(reqs))
	for _, att := range reqs {
		attachments = append(attachments, domain.AttachmentReference{
			StorageKey: att.StorageKey,
			FileName:   att.FileName,
			MimeType:   att.MimeType,
			SizeBytes:  att.SizeBytes,
		})
	}
	return attachments
}
