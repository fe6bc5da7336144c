package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestPaginated_ComputesTotalPagesCorrectly(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	c := e.NewContext(req, rec)

	// 45 entries at 20 per page span 3 pages
	data := []int{1, 2, 3}
	page := 2
	pageSize := 20
	var totalCount int64 = 45

	if err := Paginated(c, data, page, pageSize, totalCount); err != nil {
		t.Fatalf("Paginated returned error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body PaginatedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if !body.Success {
		t.Errorf("expected Success=true, got false")
	}
	if body.Page != page {
		t.Errorf("expected Page=%d, got %d", page, body.Page)
	}
	if body.PageSize != pageSize {
		t.Errorf("expected PageSize=%d, got %d", pageSize, body.PageSize)
	}
	if body.TotalCount != totalCount {
		t.Errorf("expected TotalCount=%d, got %d", totalCount, body.TotalCount)
	}
	if body.TotalPages != 3 {
		t.Errorf("expected TotalPages=3, got %d", body.TotalPages)
	}
}

func TestErrorHelpers_UseMatchingStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		write  func(c echo.Context) error
		status int
	}{
		{"not found", func(c echo.Context) error { return NotFound(c, "entry not found") }, http.StatusNotFound},
		{"conflict", func(c echo.Context) error { return Conflict(c, errors.New("already enrolled")) }, http.StatusConflict},
		{"unavailable", func(c echo.Context) error { return ServiceUnavailable(c, "batch caller disabled") }, http.StatusServiceUnavailable},
		{"unauthorized", Unauthorized, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/test", nil), rec)

		if err := tc.write(c); err != nil {
			t.Fatalf("%s: helper returned error: %v", tc.name, err)
		}
		if rec.Code != tc.status {
			t.Errorf("%s: expected status %d, got %d", tc.name, tc.status, rec.Code)
		}

		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: failed to unmarshal response: %v", tc.name, err)
		}
		if body.Success || body.Error == "" {
			t.Errorf("%s: unexpected body %+v", tc.name, body)
		}
	}
}

func TestAccepted_Returns202WithData(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/test", nil), rec)

	if err := Accepted(c, "queued", map[string]string{"callId": "call-1"}); err != nil {
		t.Fatalf("Accepted returned error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}

	var body SuccessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !body.Success || body.Message != "queued" {
		t.Errorf("unexpected body %+v", body)
	}
}
