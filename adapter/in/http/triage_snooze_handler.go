package http

import (
	"strings"
	"time"

	"triage_server/core/port/in"
	"triage_server/pkg/apperr"
	"triage_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type SnoozeHandler struct {
	snooze in.SnoozeService
}

func NewSnoozeHandler(snooze in.SnoozeService) *SnoozeHandler {
	return &SnoozeHandler{snooze: snooze}
}

func (h *SnoozeHandler) Register(router fiber.Router) {
	group := router.Group("/snooze")
	group.Post("/", h.Create)
	group.Get("/", h.List)
	group.Delete("/:id", h.Cancel)
}

type snoozeBody struct {
	MessageID  string `json:"messageId"`
	WakeUpTime string `json:"wakeUpTime"`
}

// Create hides a message until wakeUpTime.
// POST /snooze
func (h *SnoozeHandler) Create(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var body snoozeBody
	if err := parseBody(c, &body); err != nil {
		return err
	}
	if strings.TrimSpace(body.WakeUpTime) == "" {
		return apperr.InvalidInput("wakeUpTime", "wakeUpTime is required")
	}
	wakeAt, err := time.Parse(time.RFC3339, body.WakeUpTime)
	if err != nil {
		return apperr.InvalidInput("wakeUpTime", "wakeUpTime must be an RFC3339 timestamp")
	}

	log, err := h.snooze.Snooze(c.UserContext(), userID, &in.SnoozeRequest{
		MessageID:  strings.TrimSpace(body.MessageID),
		WakeUpTime: wakeAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(log)
}

// List pages through the active snoozes.
// GET /snooze?page=&limit=
func (h *SnoozeHandler) List(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	p := response.GetPagination(c, 10, 100)
	page, err := h.snooze.List(c.UserContext(), userID, p.Page, p.Limit)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// Cancel restores a snoozed message before its wake time.
// DELETE /snooze/:id
func (h *SnoozeHandler) Cancel(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	log, err := h.snooze.Cancel(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(log)
}
