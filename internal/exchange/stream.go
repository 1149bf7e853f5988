package exchange

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mercer-quant/sporttrader/internal/events"
	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

// Stream is an optional push-price feed: the Price Poll loop works without
// it, but when configured it publishes PriceUpdateEvent onto the bus faster
// than polling would, with the poll loop remaining as a correctness
// backstop. Gorilla/websocket supports one concurrent reader and one
// concurrent writer, so writes are serialized through mu.
type Stream struct {
	url    string
	signer Signer
	bus    *events.Bus
	conn   *websocket.Conn
	done   chan struct{}

	mu      sync.Mutex
	tickers map[string]bool
}

func NewStream(wsURL string, signer Signer, bus *events.Bus) *Stream {
	if signer == nil {
		signer = NoopSigner{}
	}
	return &Stream{
		url:     wsURL,
		signer:  signer,
		bus:     bus,
		done:    make(chan struct{}),
		tickers: make(map[string]bool),
	}
}

func (s *Stream) Connect(ctx context.Context) error {
	if err := s.dial(ctx); err != nil {
		return err
	}
	go s.runLoop(ctx)
	return nil
}

func (s *Stream) dial(ctx context.Context) error {
	parsed, _ := url.Parse(s.url)
	wsPath := parsed.Path
	if wsPath == "" {
		wsPath = "/trade-api/ws/v2"
	}
	header := s.signer.Headers("GET", wsPath)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// SubscribeTickers adds tickers and subscribes on the live connection.
// Safe to call from any goroutine at any time; tickers added before connect
// is established are subscribed once it is.
func (s *Stream) SubscribeTickers(tickers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []string
	for _, t := range tickers {
		if !s.tickers[t] {
			s.tickers[t] = true
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 || s.conn == nil {
		return nil
	}
	return s.conn.WriteJSON(map[string]any{
		"cmd":     "subscribe",
		"channel": "ticker",
		"tickers": fresh,
	})
}

func (s *Stream) resubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tickers) == 0 || s.conn == nil {
		return
	}
	tickers := make([]string, 0, len(s.tickers))
	for t := range s.tickers {
		tickers = append(tickers, t)
	}
	_ = s.conn.WriteJSON(map[string]any{
		"cmd":     "subscribe",
		"channel": "ticker",
		"tickers": tickers,
	})
}

// runLoop reads messages and reconnects on failure with doubling backoff.
func (s *Stream) runLoop(ctx context.Context) {
	defer close(s.done)

	first := true
	for {
		if !first {
			telemetry.Infow("exchange stream: reconnected")
		}
		first = false

		s.resubscribeAll()
		s.readLoop(ctx)

		if ctx.Err() != nil {
			return
		}

		backoff := 1 * time.Second
		const maxBackoff = 30 * time.Second
		for attempt := 1; ; attempt++ {
			telemetry.Warnw("exchange stream: reconnecting", "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := s.dial(ctx); err != nil {
				telemetry.Warnw("exchange stream: dial failed", "err", err)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			break
		}
	}
}

type streamTickerMessage struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string `json:"market_ticker"`
		YesBid       int    `json:"yes_bid"`
		YesAsk       int    `json:"yes_ask"`
		Volume       int64  `json:"volume"`
	} `json:"msg"`
}

func (s *Stream) readLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			telemetry.Warnw("exchange stream: read failed", "err", err)
			return
		}

		var msg streamTickerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "ticker" {
			continue
		}

		telemetry.Metrics.PriceStreamUpdates.Inc()
		s.bus.Publish(events.Event{
			Type:      events.EventPriceUpdate,
			Timestamp: time.Now(),
			Payload: events.PriceUpdateEvent{
				ConditionID: msg.Msg.MarketTicker,
				YesBid:      centsToDecimal(msg.Msg.YesBid).InexactFloat64(),
				YesAsk:      centsToDecimal(msg.Msg.YesAsk).InexactFloat64(),
				Volume24h:   msg.Msg.Volume,
			},
		})
	}
}

func (s *Stream) Close() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
}
