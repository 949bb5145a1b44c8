package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestClientDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tick":
			if r.URL.Query().Get("symbol") != "EURUSD" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"bid":1.1,"ask":1.1002}`))
		case "/order":
			var in map[string]float64
			_ = json.NewDecoder(r.Body).Decode(&in)
			if r.Header.Get("Content-Type") != "application/json" || in["volume"] != 0.1 {
				w.WriteHeader(http.StatusTeapot)
				return
			}
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"invalid_stops"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	var tick struct{ Bid, Ask float64 }
	if err := c.Do(ctx, MethodGet, "/tick", url.Values{"symbol": {"EURUSD"}}, nil, &tick); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if tick.Ask != 1.1002 {
		t.Fatalf("unexpected tick %+v", tick)
	}

	err := c.Do(ctx, MethodPost, "/order", nil, map[string]float64{"volume": 0.1}, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusConflict || se.Temporary() {
		t.Fatalf("want 409 status error, got %v", err)
	}
	if string(se.Body) != `{"code":"invalid_stops"}` {
		t.Fatalf("body %q", se.Body)
	}

	err = c.Do(ctx, MethodGet, "/health", nil, nil, nil)
	if !errors.As(err, &se) || !se.Temporary() {
		t.Fatalf("want temporary error, got %v", err)
	}
}
