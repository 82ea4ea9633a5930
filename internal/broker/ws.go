package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/tradeengine/internal/domain"
)

// streamKind selects which of the broker's two long-lived streams a
// StreamClient manages.
type streamKind string

const (
	StreamOrderUpdates streamKind = "order_update"
	StreamTrades       streamKind = "trade"
)

// publishFailureBudget is the consecutive-send-failure budget on the event
// publisher before a stream cancels the shutdown token, per spec.md §4.2.
const publishFailureBudget = 5

// StreamClient owns exactly one WebSocket connection, started lazily on the
// first Subscribe call. It runs an event loop with three arms: incoming
// subscription requests, incoming frames (translated into domain.Event and
// fanned out on the Publisher), and shutdown.
type StreamClient struct {
	url       string
	kind      streamKind
	publisher *Publisher
	shutdown  ShutdownFunc
	log       *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]bool
	subReq     chan []string
	started    bool
}

// NewStreamClient returns a StreamClient for the given stream kind. It does
// not connect until the first Subscribe call.
func NewStreamClient(url string, kind streamKind, publisher *Publisher, shutdown ShutdownFunc, log *slog.Logger) *StreamClient {
	return &StreamClient{
		url:        url,
		kind:       kind,
		publisher:  publisher,
		shutdown:   shutdown,
		log:        log.With("stream", string(kind)),
		subscribed: make(map[string]bool),
		subReq:     make(chan []string, 16),
	}
}

// Subscribe adds symbols to the stream's subscription set, connecting lazily
// on the first call. Subsequent calls are multiplexed onto the already
// running stream task via the internal request channel.
func (c *StreamClient) Subscribe(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	for _, s := range symbols {
		c.subscribed[s] = true
	}
	alreadyStarted := c.started
	c.started = true
	c.mu.Unlock()

	if !alreadyStarted {
		go c.run(ctx)
		return nil
	}

	select {
	case c.subReq <- symbols:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the stream task's event loop, reconnecting until ctx is cancelled.
func (c *StreamClient) run(ctx context.Context) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		failures++
		c.log.Warn("stream disconnected", "error", err, "attempt", failures)
		if failures >= publishFailureBudget {
			c.shutdown(fmt.Errorf("broker: %s stream exhausted reconnect budget: %w", c.kind, err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (c *StreamClient) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	symbols := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		symbols = append(symbols, s)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		conn.Close()
		c.conn = nil
		c.mu.Unlock()
	}()

	if len(symbols) > 0 {
		if err := c.writeSubscribe(symbols); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				close(frames)
				return
			}
			frames <- msg
		}
	}()

	publishFailures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case symbols, ok := <-c.subReq:
			if !ok {
				continue
			}
			if err := c.writeSubscribe(symbols); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}

		case msg, ok := <-frames:
			if !ok {
				return <-readErr
			}
			ev, ok := c.translate(msg)
			if !ok {
				continue
			}
			if c.publisher.Publish(ev) {
				publishFailures = 0
			} else {
				publishFailures++
				if publishFailures >= publishFailureBudget {
					c.shutdown(fmt.Errorf("broker: %s publisher exhausted send budget", c.kind))
					return fmt.Errorf("publisher send budget exhausted")
				}
			}
		}
	}
}

func (c *StreamClient) writeSubscribe(symbols []string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	msg := map[string]any{
		"action": "subscribe",
		string(c.kind) + "s": symbols,
	}
	return conn.WriteJSON(msg)
}

type wireOrderUpdate struct {
	Event          string          `json:"event"`
	Order          OrderWire       `json:"order"`
	LimitPrice     decimal.Decimal `json:"limit_price"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	FilledAt       time.Time       `json:"filled_at"`
}

type wireTrade struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"timestamp"`
}

// translate decodes a raw frame into a domain.Event using the wire shape of
// this stream's kind. Frames that fail to decode are logged and dropped — a
// malformed frame is a state-inconsistency case (spec.md §7 kind e), not
// fatal.
func (c *StreamClient) translate(raw []byte) (domain.Event, bool) {
	switch c.kind {
	case StreamOrderUpdates:
		var wire wireOrderUpdate
		if err := json.Unmarshal(raw, &wire); err != nil {
			c.log.Warn("malformed order-update frame", "error", err)
			return domain.Event{}, false
		}
		// Strategy/action/direction aren't carried on the wire; the Engine
		// hydrates them from the `orders` table by LocalID once it receives
		// this event.
		order := wire.Order.toDomain("", "", "")
		return domain.Event{
			Kind: domain.EventOrderUpdate,
			OrderUpdate: domain.OrderUpdate{
				Order:            order,
				Event:            domain.OrderState(wire.Event),
				LimitPrice:       wire.LimitPrice,
				AverageFillPrice: wire.FilledAvgPrice,
				FilledAt:         wire.FilledAt,
			},
		}, true

	case StreamTrades:
		var wire wireTrade
		if err := json.Unmarshal(raw, &wire); err != nil {
			c.log.Warn("malformed trade frame", "error", err)
			return domain.Event{}, false
		}
		return domain.Event{
			Kind: domain.EventTrade,
			Trade: domain.Trade{
				Symbol: wire.Symbol,
				Bid:    wire.Bid,
				Ask:    wire.Ask,
				Price:  wire.Price,
				Time:   wire.Time,
			},
		}, true
	}
	return domain.Event{}, false
}
