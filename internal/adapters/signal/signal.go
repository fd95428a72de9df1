package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mkrajcer/castroom/internal/app/orch"
	"github.com/mkrajcer/castroom/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Orch      *orch.Orchestrator
	ReadLimit int64

	limiter *messageLimiter
}

func NewController(o *orch.Orchestrator, readLimit int64) *Controller {
	return &Controller{
		Orch:      o,
		ReadLimit: readLimit,
		limiter:   newMessageLimiter(defaultMessageLimit, defaultMessageWindow),
	}
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

func (c *wsConn) Open() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

// HandleSignal upgrades the request and runs the signaling session
// until the connection goes away.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	sid := core.SessionID(uuid.NewString())
	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctl.Orch.Connect(sid, conn)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("client connected")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.sendJSON(conn, evConnectionSuccess, struct{}{})
		ctl.readPump(ctx, sid, conn)
		ctl.teardown(sid, conn)
	}()
}

// teardown runs once the connection is gone, for whatever reason, and
// fans the departure out to the remaining room members.
func (ctl *Controller) teardown(sid core.SessionID, conn *wsConn) {
	res := ctl.Orch.Disconnect(sid)
	conn.Close()
	ctl.limiter.Forget(sid)
	if res == nil {
		return
	}
	if res.ProducerID != "" {
		ctl.fanOut(res.Notify, evClientDisconnected, disconnectData{
			UserID:             string(sid),
			DisconnectedClient: res.ProducerID,
		})
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(res.RoomID)).Msg("client disconnected")
}
