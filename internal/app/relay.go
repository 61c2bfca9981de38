package app

import (
	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/protocol"
)

// Relay forwards signaling envelopes between connections verbatim,
// tagging them with the sender's connection id and identity. It never
// interprets SDP or candidate contents. A missing target is a silent
// drop: the sender self-heals via retries or an ICE restart.
type Relay struct {
	roster core.Roster
	sender core.Sender
}

func NewRelay(roster core.Roster, sender core.Sender) *Relay {
	return &Relay{roster: roster, sender: sender}
}

func (r *Relay) Offer(from core.RosterEntry, to core.ConnID, sdp string) {
	if !r.deliverable(from, to) {
		return
	}
	r.sender.SendTo(to, protocol.RelayedOffer{
		Type:     protocol.TypeOffer,
		From:     string(from.Conn),
		FromName: from.Guest.Name,
		SDP:      sdp,
	})
}

func (r *Relay) Answer(from core.RosterEntry, to core.ConnID, sdp string) {
	if !r.deliverable(from, to) {
		return
	}
	r.sender.SendTo(to, protocol.RelayedAnswer{
		Type:     protocol.TypeAnswer,
		From:     string(from.Conn),
		FromName: from.Guest.Name,
		SDP:      sdp,
	})
}

func (r *Relay) Candidate(from core.RosterEntry, to core.ConnID, cand protocol.ICECandidate) {
	if !r.deliverable(from, to) {
		return
	}
	r.sender.SendTo(to, protocol.RelayedCandidate{
		Type:      protocol.TypeCandidate,
		From:      string(from.Conn),
		Candidate: cand,
	})
}

func (r *Relay) Restart(from core.RosterEntry, to core.ConnID, sdp string) {
	if !r.deliverable(from, to) {
		return
	}
	r.sender.SendTo(to, protocol.RelayedRestart{
		Type:     protocol.TypeIceRestart,
		From:     string(from.Conn),
		FromName: from.Guest.Name,
		SDP:      sdp,
	})
}

// deliverable requires the target to be a live member of the sender's
// room. Anything else is dropped without surfacing an error.
func (r *Relay) deliverable(from core.RosterEntry, to core.ConnID) bool {
	target, ok := r.roster.Lookup(to)
	if !ok || target.Room != from.Room {
		log.Debug().Str("module", "app.relay").Str("to", string(to)).Msg("relay target gone, dropping")
		return false
	}
	return true
}
