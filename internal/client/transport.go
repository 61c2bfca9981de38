// Package client implements the guest-side call machinery: the signal
// transport, the per-peer connection orchestrator, and voice activity
// detection. One Orchestrator runs per client; every participant runs
// the same symmetric logic.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/protocol"
)

var ErrTransportClosed = errors.New("transport closed")

// Transport is the bidirectional signal channel to the server.
// Request performs a seq-correlated round trip; Send is fire and
// forget; Events delivers server pushes in arrival order.
type Transport interface {
	Request(ctx context.Context, msg protocol.ClientMessage) (protocol.Result, error)
	Send(msg protocol.ClientMessage) error
	Events() <-chan protocol.ServerMessage
	Close() error
}

// WSTransport is the production Transport over a websocket.
type WSTransport struct {
	conn *websocket.Conn

	seq     atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan protocol.Result
	closed  bool

	events chan protocol.ServerMessage
}

func Dial(ctx context.Context, url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	t := &WSTransport{
		conn:    conn,
		pending: make(map[uint64]chan protocol.Result),
		events:  make(chan protocol.ServerMessage, 64),
	}
	go t.readLoop()
	return t, nil
}

func (t *WSTransport) Request(ctx context.Context, msg protocol.ClientMessage) (protocol.Result, error) {
	seq := t.seq.Add(1)
	msg = withSeq(msg, seq)

	ch := make(chan protocol.Result, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return protocol.Result{}, ErrTransportClosed
	}
	t.pending[seq] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, seq)
		t.mu.Unlock()
	}()

	if err := t.Send(msg); err != nil {
		return protocol.Result{}, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return protocol.Result{}, ctx.Err()
	}
}

func (t *WSTransport) Send(msg protocol.ClientMessage) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(msg)
}

func (t *WSTransport) Events() <-chan protocol.ServerMessage { return t.events }

func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *WSTransport) readLoop() {
	defer func() {
		t.mu.Lock()
		t.closed = true
		for seq, ch := range t.pending {
			close(ch)
			delete(t.pending, seq)
		}
		t.mu.Unlock()
		close(t.events)
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "client.transport").Msg("read loop done")
			return
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.transport").Msg("dropping unreadable frame")
			continue
		}
		if res, ok := msg.(protocol.Result); ok && res.Seq != 0 {
			t.mu.Lock()
			ch, waiting := t.pending[res.Seq]
			t.mu.Unlock()
			if waiting {
				ch <- res
			}
			continue
		}
		select {
		case t.events <- msg:
		default:
			// Slow consumer; signaling loss self-heals, same as on
			// the server side.
			log.Warn().Str("module", "client.transport").Msg("event buffer full, dropping")
		}
	}
}

// withSeq stamps the correlation id onto request-style messages.
func withSeq(m protocol.ClientMessage, seq uint64) protocol.ClientMessage {
	switch v := m.(type) {
	case protocol.JoinSession:
		v.Seq = seq
		return v
	case protocol.Start:
		v.Seq = seq
		return v
	case protocol.Join:
		v.Seq = seq
		return v
	case protocol.Leave:
		v.Seq = seq
		return v
	case protocol.Stop:
		v.Seq = seq
		return v
	case protocol.End:
		v.Seq = seq
		return v
	default:
		return m
	}
}
