// Package response holds the JSON shapes shared by every handler.
package response

import (
	"time"

	"triage_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// ErrorBody is the envelope for every failed request.
type ErrorBody struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// PageMeta describes one page of a paginated list.
type PageMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// Page is a paginated list payload.
type Page[T any] struct {
	Data []T      `json:"data"`
	Meta PageMeta `json:"meta"`
}

// NewPage computes TotalPages from total and limit.
func NewPage[T any](data []T, total int64, page, limit int) Page[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Page[T]{
		Data: data,
		Meta: PageMeta{Total: total, Page: page, Limit: limit, TotalPages: totalPages},
	}
}

// Pagination is the parsed page/limit query.
type Pagination struct {
	Page  int
	Limit int
}

// Skip is the number of rows before the page.
func (p Pagination) Skip() int {
	return (p.Page - 1) * p.Limit
}

// GetPagination reads page and limit, clamping limit to maxLimit.
func GetPagination(c *fiber.Ctx, defaultLimit, maxLimit int) Pagination {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", defaultLimit)
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return Pagination{Page: page, Limit: limit}
}

// Error writes an error envelope with the given status and code.
func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(newErrorBody(c, ErrorDetail{Code: code, Message: message}))
}

// AppError renders err through its AppError form. Unknown errors become 500s.
func AppError(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return c.Status(appErr.Status).JSON(newErrorBody(c, ErrorDetail{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}))
}

// Body builds the envelope for callers that need to write it themselves.
func Body(c *fiber.Ctx, code, message string) ErrorBody {
	return newErrorBody(c, ErrorDetail{Code: code, Message: message})
}

func newErrorBody(c *fiber.Ctx, detail ErrorDetail) ErrorBody {
	requestID, _ := c.Locals("request_id").(string)
	return ErrorBody{
		Success:   false,
		Error:     detail,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// StatusCode maps an HTTP status to the error code clients see.
func StatusCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return apperr.CodeBadRequest
	case fiber.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case fiber.StatusForbidden:
		return apperr.CodeForbidden
	case fiber.StatusNotFound:
		return apperr.CodeNotFound
	case fiber.StatusConflict:
		return apperr.CodeConflict
	case fiber.StatusTooManyRequests:
		return apperr.CodeRateLimited
	case fiber.StatusBadGateway, fiber.StatusServiceUnavailable, fiber.StatusGatewayTimeout:
		return "SERVICE_UNAVAILABLE"
	case fiber.StatusInternalServerError:
		return apperr.CodeInternalError
	default:
		return "UNKNOWN_ERROR"
	}
}
