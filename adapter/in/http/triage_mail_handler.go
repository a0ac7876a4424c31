package http

import (
	"fmt"
	"strings"

	"triage_server/core/port/in"
	"triage_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultEmailLimit = 20
	maxEmailLimit     = 100
)

// MailHandler exposes the linked mailbox of the current user.
type MailHandler struct {
	mail in.MailService
}

func NewMailHandler(mail in.MailService) *MailHandler {
	return &MailHandler{mail: mail}
}

func (h *MailHandler) Register(router fiber.Router) {
	group := router.Group("/mail")

	group.Get("/mailboxes", h.Mailboxes)
	group.Get("/mailboxes/:labelId/emails", h.ListEmails)
	group.Get("/search", h.Search)
	group.Get("/attachments/:messageId/:attachmentId", h.Attachment)
	group.Post("/send", h.Send)

	group.Get("/emails/:id", h.GetEmail)
	group.Get("/emails/:id/summary", h.Summary)
	group.Post("/emails/:id/modify", h.Modify)
	group.Post("/emails/:id/reply", h.Reply)
	group.Post("/emails/:id/forward", h.Forward)
}

// Mailboxes lists labels with unread counts.
// GET /mail/mailboxes
func (h *MailHandler) Mailboxes(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	boxes, err := h.mail.Mailboxes(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(boxes)
}

// ListEmails returns one page of a mailbox.
// GET /mail/mailboxes/:labelId/emails?limit=&pageToken=&search=
func (h *MailHandler) ListEmails(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	limit := c.QueryInt("limit", defaultEmailLimit)
	if limit < 1 {
		limit = defaultEmailLimit
	}
	if limit > maxEmailLimit {
		limit = maxEmailLimit
	}

	page, err := h.mail.ListEmails(c.UserContext(), userID, &in.ListEmailsRequest{
		LabelID:   c.Params("labelId"),
		Limit:     limit,
		PageToken: c.Query("pageToken"),
		Search:    strings.TrimSpace(c.Query("search")),
	})
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// GetEmail returns the full message.
// GET /mail/emails/:id
func (h *MailHandler) GetEmail(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	detail, err := h.mail.GetEmail(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

// Search queries the local metadata cache.
// GET /mail/search?q=
func (h *MailHandler) Search(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return apperr.InvalidInput("q", "search query is required")
	}

	items, err := h.mail.Search(c.UserContext(), userID, q)
	if err != nil {
		return err
	}
	return c.JSON(items)
}

// Attachment streams one attachment. The filename and mimeType query
// parameters override what the provider reports.
// GET /mail/attachments/:messageId/:attachmentId
func (h *MailHandler) Attachment(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	att, err := h.mail.GetAttachment(c.UserContext(), userID, c.Params("messageId"), c.Params("attachmentId"))
	if err != nil {
		return err
	}

	filename := c.Query("filename", att.Filename)
	if filename == "" {
		filename = "attachment"
	}
	mimeType := c.Query("mimeType", att.MimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	c.Set(fiber.HeaderContentType, mimeType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Send(att.Data)
}

// Send composes a new message.
// POST /mail/send
func (h *MailHandler) Send(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req in.SendRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.To) == "" {
		return apperr.InvalidInput("to", "recipient is required")
	}

	result, err := h.mail.Send(c.UserContext(), userID, &req)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// Modify adds and removes labels.
// POST /mail/emails/:id/modify
func (h *MailHandler) Modify(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req in.ModifyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.mail.Modify(c.UserContext(), userID, c.Params("id"), &req)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// Reply answers in the original thread.
// POST /mail/emails/:id/reply
func (h *MailHandler) Reply(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req in.ReplyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.mail.Reply(c.UserContext(), userID, c.Params("id"), &req)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// Forward sends the message on to another recipient.
// POST /mail/emails/:id/forward
func (h *MailHandler) Forward(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req in.ForwardRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result, err := h.mail.Forward(c.UserContext(), userID, c.Params("id"), &req)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// Summary returns the stored summary, generating it on first request.
// GET /mail/emails/:id/summary
func (h *MailHandler) Summary(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	result, err := h.mail.Summarize(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(result)
}
