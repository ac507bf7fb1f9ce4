package relay

import (
	"context"

	"github.com/docsync/docsync/internal/protocol"
)

// Engine consumes frames from authenticated peers after the relay has
// checked rate limits and document access. The relay never looks inside
// Payload; routing is entirely on the envelope fields. PeerConnected and
// PeerDisconnected bracket a peer's lifetime on the connection.
type Engine interface {
	PeerConnected(ctx context.Context, p *Peer)
	HandleFrame(ctx context.Context, from *Peer, msg *protocol.Message)
	PeerDisconnected(ctx context.Context, p *Peer, docs []string)
}

// BroadcastEngine fans frames out to the other peers of a document. A frame
// with a target id is delivered to that peer alone; otherwise it goes to
// every subscribed peer except the sender. Frames addressed to documents
// the sender is not subscribed to are dropped.
type BroadcastEngine struct {
	reg *Registry
}

func NewBroadcastEngine(reg *Registry) *BroadcastEngine {
	return &BroadcastEngine{reg: reg}
}

// PeerConnected is where a stateful engine would allocate per-peer state.
// The broadcast engine keeps nothing until the peer subscribes.
func (e *BroadcastEngine) PeerConnected(ctx context.Context, p *Peer) {}

func (e *BroadcastEngine) HandleFrame(ctx context.Context, from *Peer, msg *protocol.Message) {
	if msg.DocumentID == "" || !e.reg.Subscribed(from.ID, msg.DocumentID) {
		return
	}
	if msg.TargetID != "" {
		e.reg.Send(ctx, msg.TargetID, msg)
		return
	}
	e.reg.Broadcast(ctx, msg.DocumentID, from.ID, msg)
}

// PeerDisconnected announces the departure to every document the peer was
// in so remaining peers can drop its presence state.
func (e *BroadcastEngine) PeerDisconnected(ctx context.Context, p *Peer, docs []string) {
	for _, docID := range docs {
		e.reg.Broadcast(ctx, docID, p.ID, &protocol.Message{
			Type:       protocol.TypePresence,
			DocumentID: docID,
			PeerID:     p.ID,
		})
	}
}
