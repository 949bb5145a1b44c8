package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"TradeLoop/internal/domain/models"

	"github.com/gorilla/websocket"
)

func TestSymbolInfoCachedAndDefaulted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/symbol_info" || r.URL.Query().Get("symbol") != "EURUSD" {
			t.Errorf("unexpected request %s", r.URL)
		}
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"point": 0.00001})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, time.Second)
	for i := 0; i < 3; i++ {
		info, err := g.SymbolInfo(context.Background(), "EURUSD")
		if err != nil {
			t.Fatalf("symbol info: %v", err)
		}
		if info.Symbol != "EURUSD" || info.Digits != models.DefaultDigits {
			t.Fatalf("unexpected info %+v", info)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one upstream call, got %d", n)
	}
}

func TestMarketTickRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"bid":1.1,"ask":1.10002,"time":1700000000}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, time.Second, WithAttempts(3))
	tick, err := g.MarketTick(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if tick.Bid != 1.1 || tick.Time.Unix() != 1700000000 {
		t.Fatalf("unexpected tick %+v", tick)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestPlaceOrderRejectionIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"invalid_stops","message":"stops too close"}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, time.Second)
	_, err := g.PlaceOrder(context.Background(), &models.OrderRequest{Symbol: "EURUSD", Side: models.ActionBuy, Volume: 0.1, Type: models.OrderMarket})
	if !models.IsKind(err, models.KindBrokerRejected) {
		t.Fatalf("expected BrokerRejected, got %v", err)
	}
	rej, ok := models.AsRejection(err)
	if !ok || rej.Code != models.RejectInvalidStops {
		t.Fatalf("expected invalid_stops rejection, got %+v", rej)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("rejection must not be retried")
	}
}

func TestPlaceOrderPlainTextRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "market closed", http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, time.Second)
	_, err := g.PlaceOrder(context.Background(), &models.OrderRequest{Symbol: "EURUSD"})
	rej, ok := models.AsRejection(err)
	if !ok || rej.Message != "market closed" {
		t.Fatalf("unexpected rejection %+v (%v)", rej, err)
	}
}

func TestGatewayUnconfigured(t *testing.T) {
	g := NewHTTPGateway("", time.Second)
	if err := g.Health(context.Background()); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestStreamDeliversPositionClosed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"position_closed","data":{"symbol":"EURUSD","decision_id":"D7","entry_price":1.1,"exit_price":1.11,"profit":12,"close_time":"2024-01-02T10:00:00Z","side":"buy"}}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	s := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), "", 10*time.Millisecond, time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if !s.IsConnected() {
		t.Fatalf("expected connected")
	}

	events, _ := s.Read(ctx)
	select {
	case ev := <-events:
		if ev == nil || ev.DecisionID != "D7" || ev.Profit != 12 || ev.Side != models.ActionBuy {
			t.Fatalf("unexpected event %+v", ev)
		}
		if !ev.Outcome().IsWin {
			t.Fatalf("positive profit must be a win")
		}
	case <-ctx.Done():
		t.Fatalf("no event received")
	}
}
