package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/domain"
	"github.com/thespecialone1/sharedrop/internal/protocol"
)

func (ctl *Controller) handleJoinSession(conn core.ConnID, c *wsConn, m protocol.JoinSession) {
	room := domain.RoomID(m.Room)
	if room == "" {
		room = "main"
	}

	guest, err := ctl.Orch.JoinSession(conn, room, m.Name, m.Color)
	if err != nil {
		ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: false, Error: errCode(err)})
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(conn)).Str("name", guest.Name).Str("room", string(room)).Msg("session joined")
	ctl.sendResult(c, protocol.Result{Seq: m.Seq, Success: true, You: string(conn)})

	// Late arrivals get the current call picture right away.
	ctl.sendJSON(c, ctl.Orch.Calls.Snapshot(room))
}

// errCode turns a precondition failure into its wire code. Domain
// validation errors map onto the invalid-name code.
func errCode(err error) string {
	switch err {
	case domain.ErrNameTooShort, domain.ErrNameTooLong:
		return protocol.ErrInvalidName
	default:
		return err.Error()
	}
}
