package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/domain"
	"github.com/thespecialone1/sharedrop/internal/protocol"
)

func (ctl *Controller) handleStart(conn core.ConnID, c *wsConn, m protocol.Start) {
	entry, ok := ctl.Orch.Registry.Lookup(conn)
	if !ok {
		ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: false, Error: protocol.ErrNotRegistered})
		return
	}

	kind := domain.MediaKind(m.Kind)
	if kind == "" {
		kind = domain.MediaAudio
	}
	if !kind.Valid() {
		ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: false, Error: "unknown media kind"})
		return
	}

	if err := ctl.Orch.Calls.Start(conn, entry.Guest, entry.Room, kind); err != nil {
		ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: false, Error: err.Error()})
		return
	}
	ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: true, HostConn: string(conn)})
}

func (ctl *Controller) handleJoin(conn core.ConnID, c *wsConn, m protocol.Join) {
	entry, ok := ctl.Orch.Registry.Lookup(conn)
	if !ok {
		ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: false, Error: protocol.ErrNotRegistered})
		return
	}

	existing, hostConn, err := ctl.Orch.Calls.Join(conn, entry.Guest, entry.Room)
	if err != nil {
		ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: false, Error: err.Error()})
		return
	}
	ctl.sendResult(c, protocol.Result{
		Seq:          m.Seq,
		Success:      true,
		HostConn:     string(hostConn),
		Participants: existing,
	})
}

func (ctl *Controller) handleLeave(conn core.ConnID, c *wsConn, m protocol.Leave) {
	entry, ok := ctl.Orch.Registry.Lookup(conn)
	if !ok {
		ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: false, Error: protocol.ErrNotRegistered})
		return
	}

	if err := ctl.Orch.Calls.Leave(conn, entry.Room); err != nil {
		ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: false, Error: err.Error()})
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(conn)).Msg("left call")
	ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: true})
}

func (ctl *Controller) handleEnd(conn core.ConnID, c *wsConn, seq uint64) {
	entry, ok := ctl.Orch.Registry.Lookup(conn)
	if !ok {
		ctl.sendResult(c, protocol.Result{Seq: seq, Success: false, Error: protocol.ErrNotRegistered})
		return
	}

	if err := ctl.Orch.Calls.End(conn, entry.Room); err != nil {
		ctl.sendResult(c, protocol.Result{Seq: seq, Success: false, Error: err.Error()})
		return
	}
	ctl.sendResult(c, protocol.Result{Seq: seq, Success: true})
}
