package response

import (
	"io"
	"net/http/httptest"
	"testing"

	"triage_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

func TestNewPage(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		limit     int
		wantPages int
	}{
		{"empty", 0, 10, 0},
		{"exact", 20, 10, 2},
		{"partial", 21, 10, 3},
		{"zero limit", 5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPage[int](nil, tt.total, 1, tt.limit)
			if p.Meta.TotalPages != tt.wantPages {
				t.Errorf("TotalPages = %d, want %d", p.Meta.TotalPages, tt.wantPages)
			}
			if p.Data == nil {
				t.Error("Data must serialize as an empty list")
			}
		})
	}
}

func TestGetPagination(t *testing.T) {
	app := fiber.New()
	var got Pagination
	app.Get("/", func(c *fiber.Ctx) error {
		got = GetPagination(c, 10, 100)
		return nil
	})

	tests := []struct {
		query string
		want  Pagination
	}{
		{"", Pagination{Page: 1, Limit: 10}},
		{"?page=3&limit=5", Pagination{Page: 3, Limit: 5}},
		{"?page=0&limit=-1", Pagination{Page: 1, Limit: 10}},
		{"?limit=1000", Pagination{Page: 1, Limit: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if _, err := app.Test(httptest.NewRequest("GET", "/"+tt.query, nil)); err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
	if (Pagination{Page: 3, Limit: 5}).Skip() != 10 {
		t.Error("Skip should be (page-1)*limit")
	}
}

func TestAppError_RendersEnvelope(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return AppError(c, apperr.NotFoundMessage("Google account not linked"))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatal(err)
	}
	if body.Success || body.Error.Code != apperr.CodeNotFound || body.Error.Message != "Google account not linked" {
		t.Errorf("unexpected body %+v", body)
	}
}
