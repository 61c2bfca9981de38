package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/app"
	"github.com/thespecialone1/sharedrop/internal/config"
	"github.com/thespecialone1/sharedrop/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch *app.Orchestrator
	Cfg  *config.Config
}

func NewController(orch *app.Orchestrator, cfg *config.Config) *Controller {
	return &Controller{Orch: orch, Cfg: cfg}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and binds the connection into the
// registry under the client token minted by the router middleware.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	conn := core.ConnID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("conn", string(conn)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.Cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Cfg.ReadLimit)
	}

	wc := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Cfg.SendBuffer),
	}
	ctl.Orch.Registry.Bind(conn, wc)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, wc)
	go ctl.readPump(ctx, cancel, conn, wc)
}
