// Package events streams session progress to the browser over a websocket and
// accepts call commands on the same connection.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/app"
	"github.com/dkeye/SupportCall/internal/app/orch"
)

const sendBuffer = 32

type Controller struct {
	Orch         *orch.Orchestrator
	ReadLimit    int64
	WriteTimeout time.Duration
}

func NewController(o *orch.Orchestrator, readLimit int64) *Controller {
	return &Controller{Orch: o, ReadLimit: readLimit, WriteTimeout: 5 * time.Second}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleEvents upgrades the request and serves the client until either side
// closes. ctx outlives the request.
func (ctl *Controller) HandleEvents(ctx context.Context, c *gin.Context) {
	client := app.ClientID(c.GetString("client_token"))
	log.Info().Str("module", "events").Str("client", string(client)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "events").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := NewConn(ws, sendBuffer)
	unsubscribe, err := ctl.Orch.Registry.Subscribe(client, conn)
	if err != nil {
		log.Error().Err(err).Str("module", "events").Str("client", string(client)).Msg("subscribe")
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.sendSnapshot(client, conn)

	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		defer unsubscribe()
		ctl.readPump(ctx, client, conn)
	}()
}

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "events").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "events").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "events").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, client app.ClientID, c *Conn) {
	defer func() {
		log.Info().Str("module", "events").Str("client", string(client)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "events").Str("client", string(client)).Msg("readPump read error")
				}
				return
			}
			ctl.handleCommand(ctx, client, c, data)
		}
	}
}

func (ctl *Controller) sendJSON(c *Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "events").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
