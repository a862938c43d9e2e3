package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrSignalClosed = errors.New("signal connection closed")
)

// signalClient is the outgoing side of the room's JSON signaling channel.
type signalClient struct {
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

func newSignalClient(conn *websocket.Conn, writeTimeout time.Duration) *signalClient {
	return &signalClient{
		conn:         conn,
		send:         make(chan []byte, 32),
		writeTimeout: writeTimeout,
	}
}

func (c *signalClient) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrSignalClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *signalClient) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

// goodbye tells the room we are leaving. Control frames may be written
// concurrently with the write pump.
func (c *signalClient) goodbye() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (c *signalClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// writePump drains the send queue and emits a ping every pingPeriod.
func (c *signalClient) writePump(ctx context.Context, pingPeriod time.Duration) {
	ping, _ := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: "ping"})
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "rtc").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.write(ping); err != nil {
				log.Warn().Err(err).Str("module", "rtc").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(data); err != nil {
				log.Error().Err(err).Str("module", "rtc").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *signalClient) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump delivers every inbound frame to handle until the socket fails.
func (c *signalClient) readPump(ctx context.Context, handle func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(data)
	}
}
