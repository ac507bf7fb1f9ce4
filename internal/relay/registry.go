package relay

import (
	"context"
	"sync"

	"nhooyr.io/websocket"

	"github.com/docsync/docsync/internal/protocol"
)

// Peer is one authenticated websocket connection. UserID is empty for
// anonymous peers. Writes to the connection are serialized through send.
type Peer struct {
	ID     string
	UserID string

	conn  *websocket.Conn
	codec protocol.Codec

	writeMu sync.Mutex
}

func (p *Peer) Anonymous() bool { return p.UserID == "" }

func (p *Peer) send(ctx context.Context, msg *protocol.Message) error {
	data, err := p.codec.Encode(msg)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.Write(ctx, websocket.MessageBinary, data)
}

// Registry tracks connected peers and their document subscriptions.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	docs  map[string]map[string]*Peer
	subs  map[string]map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[string]*Peer),
		docs:  make(map[string]map[string]*Peer),
		subs:  make(map[string]map[string]bool),
	}
}

func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID] = p
	r.subs[p.ID] = make(map[string]bool)
}

// Remove drops a peer and returns the documents it was subscribed to.
func (r *Registry) Remove(peerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
	var docs []string
	for docID := range r.subs[peerID] {
		docs = append(docs, docID)
		delete(r.docs[docID], peerID)
		if len(r.docs[docID]) == 0 {
			delete(r.docs, docID)
		}
	}
	delete(r.subs, peerID)
	return docs
}

func (r *Registry) Subscribe(peerID, docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return
	}
	if r.docs[docID] == nil {
		r.docs[docID] = make(map[string]*Peer)
	}
	r.docs[docID][peerID] = p
	r.subs[peerID][docID] = true
}

// Unsubscribe detaches a peer from a document. No-op when the peer was
// never subscribed.
func (r *Registry) Unsubscribe(peerID, docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs[peerID], docID)
	delete(r.docs[docID], peerID)
	if len(r.docs[docID]) == 0 {
		delete(r.docs, docID)
	}
}

func (r *Registry) Subscribed(peerID, docID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[peerID][docID]
}

// Send delivers a frame to one peer. Returns false when the peer is gone.
func (r *Registry) Send(ctx context.Context, peerID string, msg *protocol.Message) bool {
	r.mu.RLock()
	p, ok := r.peers[peerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return p.send(ctx, msg) == nil
}

// Broadcast delivers a frame to every peer subscribed to docID except
// exclude. Returns the number of peers reached.
func (r *Registry) Broadcast(ctx context.Context, docID, exclude string, msg *protocol.Message) int {
	r.mu.RLock()
	targets := make([]*Peer, 0, len(r.docs[docID]))
	for id, p := range r.docs[docID] {
		if id != exclude {
			targets = append(targets, p)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, p := range targets {
		if p.send(ctx, msg) == nil {
			sent++
		}
	}
	return sent
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
