package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/domain"
)

// Bans is the in-process identity/ban store. Session bans and temp
// kicks clear on restart; global bans are seeded from outside and
// survive sessions.
type Bans struct {
	mu      sync.RWMutex
	session map[domain.Canonical]struct{}
	kicked  map[domain.Canonical]struct{}
	global  map[domain.Canonical]struct{}
}

func NewBans(global []domain.Canonical) *Bans {
	b := &Bans{
		session: make(map[domain.Canonical]struct{}),
		kicked:  make(map[domain.Canonical]struct{}),
		global:  make(map[domain.Canonical]struct{}),
	}
	for _, c := range global {
		b.global[c] = struct{}{}
	}
	return b
}

func (b *Bans) IsBanned(c domain.Canonical) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.session[c]; ok {
		return true
	}
	_, ok := b.global[c]
	return ok
}

func (b *Bans) IsKicked(c domain.Canonical) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.kicked[c]
	return ok
}

func (b *Bans) BanSession(c domain.Canonical) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session[c] = struct{}{}
	log.Info().Str("module", "app.bans").Str("identity", string(c)).Msg("session ban")
}

func (b *Bans) MarkKicked(c domain.Canonical) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kicked[c] = struct{}{}
}

// Unban lifts both the session ban and any temp kick. Global bans are
// managed elsewhere and stay.
func (b *Bans) Unban(c domain.Canonical) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.session, c)
	delete(b.kicked, c)
	log.Info().Str("module", "app.bans").Str("identity", string(c)).Msg("unbanned")
}

type BanSnapshot struct {
	SessionBans []string `json:"sessionBans"`
	TempKicked  []string `json:"tempKicked"`
}

func (b *Bans) Snapshot() BanSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := BanSnapshot{
		SessionBans: make([]string, 0, len(b.session)),
		TempKicked:  make([]string, 0, len(b.kicked)),
	}
	for c := range b.session {
		snap.SessionBans = append(snap.SessionBans, string(c))
	}
	for c := range b.kicked {
		snap.TempKicked = append(snap.TempKicked, string(c))
	}
	return snap
}
