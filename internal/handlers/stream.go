package handlers

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	app "mentalmath/internal/app"
	util "mentalmath/internal/util"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
)

const defaultStreamHeartbeat = 15 * time.Second

// heartbeatInterval paces pings on open streams. Each ping also refreshes
// the session so a watching client does not expire.
func heartbeatInterval(a *app.App) time.Duration {
	if a.Config.StreamHeartbeat > 0 {
		return a.Config.StreamHeartbeat
	}
	return defaultStreamHeartbeat
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// EventsHandler streams state snapshots as server-sent events until the
// client goes away or the session is closed.
func EventsHandler(a *app.App, c *gin.Context) {
	sess := currentSession(a, c)
	updates, cancel := sess.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval(a))
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	util.LogInfoCtx(ctx, "SSE stream opened for session %s", sess.ID())
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case st, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("state", NewStateView(st))
			return true
		case <-heartbeat.C:
			a.Sessions.Touch(sess.ID())
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
	util.LogInfoCtx(ctx, "SSE stream closed for session %s", sess.ID())
}

// WebSocketHandler pushes the same snapshots over a websocket. Incoming
// messages are discarded; reading only keeps pongs flowing.
func WebSocketHandler(a *app.App, c *gin.Context) {
	sess := currentSession(a, c)
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarnCtx(ctx, "[WS] Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := sess.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(heartbeatInterval(a))
	defer ping.Stop()

	util.LogInfoCtx(ctx, "[WS] Stream opened for session %s", sess.ID())
	for {
		select {
		case <-done:
			return
		case st, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := conn.WriteJSON(gin.H{"type": "state", "state": NewStateView(st)}); err != nil {
				util.LogWarnCtx(ctx, "[WS] Write error: %v", err)
				return
			}
		case <-ping.C:
			a.Sessions.Touch(sess.ID())
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
