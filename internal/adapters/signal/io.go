package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/protocol"
)

func (ctl *Controller) writePump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	defer cancel()
	pingPeriod := ctl.Cfg.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, conn core.ConnID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(conn)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(conn, c)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(conn)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(conn)).Msg("readPump read error")
				return
			}
			ctl.dispatch(conn, c, data)
		}
	}
}

// dispatch validates the frame at the boundary and routes it. Every
// message past this point is a well-formed protocol type.
func (ctl *Controller) dispatch(conn core.ConnID, c *wsConn, data []byte) {
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(conn)).Msg("rejected frame")
		return
	}

	switch m := msg.(type) {
	case protocol.Ping:
		ctl.sendJSON(c, protocol.Pong{Type: protocol.TypePong})
	case protocol.JoinSession:
		ctl.handleJoinSession(conn, c, m)
	case protocol.Start:
		ctl.handleStart(conn, c, m)
	case protocol.Join:
		ctl.handleJoin(conn, c, m)
	case protocol.Leave:
		ctl.handleLeave(conn, c, m)
	case protocol.Stop:
		ctl.handleEnd(conn, c, m.Seq)
	case protocol.End:
		ctl.handleEnd(conn, c, m.Seq)
	case protocol.Lock:
		ctl.withEntry(conn, func(e core.RosterEntry) {
			ctl.Orch.Calls.SetLocked(conn, e.Room, true)
		})
	case protocol.Unlock:
		ctl.withEntry(conn, func(e core.RosterEntry) {
			ctl.Orch.Calls.SetLocked(conn, e.Room, false)
		})
	case protocol.MuteAll:
		ctl.withEntry(conn, func(e core.RosterEntry) {
			ctl.Orch.Calls.MuteAll(conn, e.Room)
		})
	case protocol.Kick:
		ctl.withEntry(conn, func(e core.RosterEntry) {
			ctl.Orch.Calls.KickFromCall(conn, e.Room, core.ConnID(m.Target))
		})
	case protocol.Speaking:
		ctl.withEntry(conn, func(e core.RosterEntry) {
			ctl.Orch.Calls.SetSpeaking(conn, e.Room, m.Speaking)
		})
	case protocol.Offer:
		ctl.withEntry(conn, func(e core.RosterEntry) {
			ctl.Orch.Relay.Offer(e, core.ConnID(m.To), m.SDP)
		})
	case protocol.Answer:
		ctl.withEntry(conn, func(e core.RosterEntry) {
			ctl.Orch.Relay.Answer(e, core.ConnID(m.To), m.SDP)
		})
	case protocol.Candidate:
		ctl.withEntry(conn, func(e core.RosterEntry) {
			ctl.Orch.Relay.Candidate(e, core.ConnID(m.To), m.Candidate)
		})
	case protocol.IceRestart:
		ctl.withEntry(conn, func(e core.RosterEntry) {
			ctl.Orch.Relay.Restart(e, core.ConnID(m.To), m.SDP)
		})
	}
}

// withEntry runs fn only for connections with a registered guest.
// Unregistered traffic is dropped quietly.
func (ctl *Controller) withEntry(conn core.ConnID, fn func(core.RosterEntry)) {
	entry, ok := ctl.Orch.Registry.Lookup(conn)
	if !ok {
		log.Debug().Str("module", "signal").Str("conn", string(conn)).Msg("message from unregistered connection")
		return
	}
	fn(entry)
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendResult(c *wsConn, res protocol.Result) {
	res.Type = protocol.TypeResult
	ctl.sendJSON(c, res)
}
