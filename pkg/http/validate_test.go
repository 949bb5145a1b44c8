package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type quoteRequest struct {
	Symbol    string  `json:"symbol" validate:"required"`
	Timeframe string  `json:"timeframe" default:"M1" validate:"oneof=M1 H1"`
	Bid       float64 `json:"bid" validate:"gt=0"`
	Ask       float64 `json:"ask" validate:"gt=0,gtefield=Bid"`
}

func bind(t *testing.T, body string, req interface{}) []ValidationError {
	t.Helper()
	e := echo.New()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return ReadAndValidateRequest(e.NewContext(r, httptest.NewRecorder()), req)
}

func TestReadAndValidateRequest(t *testing.T) {
	req := &quoteRequest{}
	if errs := bind(t, `{"symbol":"EURUSD","bid":1.1,"ask":1.1}`, req); errs != nil {
		t.Fatalf("unexpected errors %+v", errs)
	}
	if req.Timeframe != "M1" {
		t.Fatalf("default not applied: %q", req.Timeframe)
	}

	errs := bind(t, `{"bid":1.2,"ask":1.1,"timeframe":"M2"}`, &quoteRequest{})
	rules := map[string]string{}
	for _, e := range errs {
		rules[e.Field] = e.Rule
	}
	if rules["symbol"] != "required" || rules["timeframe"] != "oneof" || rules["ask"] != "gtefield" {
		t.Fatalf("unexpected rules %+v", errs)
	}

	errs = bind(t, `{"symbol":`, &quoteRequest{})
	if len(errs) != 1 || errs[0].Rule != "bind" {
		t.Fatalf("want bind error, got %+v", errs)
	}
}

func TestErrorResponses(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	_ = AppErrorResponse(c, TooManyRequestsError("slow down"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d", rec.Code)
	}
	var body ErrorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Kind != KindBadInput || body.Message != "slow down" {
		t.Fatalf("body %+v", body)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = AppErrorResponse(c, errTest("boom"))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), `"Internal"`) {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
