package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	applogger "TradeLoop/pkg/logger"

	"github.com/gorilla/websocket"
)

const eventPositionClosed = "position_closed"

// Stream implements BrokerStream over the bridge's websocket event feed.
type Stream struct {
	url            string
	token          string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	logger         *applogger.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
}

var _ domrepo.BrokerStream = (*Stream)(nil)

// NewStream creates a position event stream for url.
func NewStream(url, token string, reconnectDelay, pingInterval time.Duration, logger *applogger.Logger) *Stream {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &Stream{url: url, token: token, reconnectDelay: reconnectDelay, pingInterval: pingInterval, logger: logger}
}

// Connect dials the event feed.
func (s *Stream) Connect(ctx context.Context) error {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("broker stream connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.logger.Info("broker stream connected", applogger.String("url", s.url))
	return nil
}

type streamMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Stream) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Read streams position_closed events until ctx ends or the connection
// fails. The error channel receives at most one error.
func (s *Stream) Read(ctx context.Context) (<-chan *models.PositionClosed, <-chan error) {
	events := make(chan *models.PositionClosed, 256)
	errs := make(chan error, 1)
	conn := s.current()
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if conn != nil {
					s.writeMu.Lock()
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
					s.writeMu.Unlock()
				}
			}
		}
	}()

	go func() {
		defer close(done)
		defer close(events)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("broker stream not connected")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("broker stream read: %w", err)
				}
				return
			}
			var m streamMessage
			if err := json.Unmarshal(b, &m); err != nil || m.Type != eventPositionClosed {
				continue
			}
			var ev models.PositionClosed
			if err := json.Unmarshal(m.Data, &ev); err != nil {
				s.logger.Warn("broker stream: bad position_closed payload", applogger.Error(err))
				continue
			}
			select {
			case events <- &ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, errs
}

// Reconnect closes the connection, waits and dials again.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-time.After(s.reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Connect(ctx)
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
