package ephemeral

import (
	"sync"
	"time"

	"github.com/docsync/docsync/pkg/metrics"
)

// document is the in-memory record for one ephemeral (eph:) document. These
// records never persist: the whole map is lost on restart by design.
type document struct {
	id        string
	createdAt time.Time
	expiresAt *time.Time
	peers     map[string]struct{}
	cleanup   *time.Timer
}

// Stats is a point-in-time snapshot of the manager.
type Stats struct {
	Documents int `json:"documents"`
	Peers     int `json:"peers"`
}

// Manager tracks which peers reference which ephemeral documents and
// garbage-collects a document once it has been peerless for the idle
// timeout. Cleanup timers are cancelable: re-adding a peer before the timer
// fires keeps the document alive.
type Manager struct {
	mu          sync.Mutex
	docs        map[string]*document
	idleTimeout time.Duration
	closed      bool
	now         func() time.Time
}

func NewManager(idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	return &Manager{
		docs:        make(map[string]*document),
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// AddPeer attaches peerID to docID, creating the document record on first
// reference and canceling any pending cleanup.
func (m *Manager) AddPeer(docID, peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	d, ok := m.docs[docID]
	if !ok {
		d = &document{id: docID, createdAt: m.now(), peers: make(map[string]struct{})}
		m.docs[docID] = d
		metrics.EphemeralDocuments.Inc()
	}
	if d.cleanup != nil {
		d.cleanup.Stop()
		d.cleanup = nil
	}
	d.peers[peerID] = struct{}{}
}

// RemovePeer detaches peerID from docID. When the last peer leaves, cleanup
// is scheduled after the idle timeout; the document stays queryable until
// the timer fires.
func (m *Manager) RemovePeer(docID, peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok {
		return
	}
	delete(d.peers, peerID)
	if len(d.peers) == 0 {
		m.scheduleCleanupLocked(d)
	}
}

// Exists reports whether docID is currently tracked.
func (m *Manager) Exists(docID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[docID]
	return ok
}

// SetExpiration sets (or clears, with nil) the absolute expiry of docID.
// A pending cleanup is rescheduled so it never outlives the expiry; an
// expiry already in the past removes the document immediately.
func (m *Manager) SetExpiration(docID string, at *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok {
		return
	}
	d.expiresAt = at
	if at != nil && !at.After(m.now()) {
		m.deleteLocked(d)
		return
	}
	if len(d.peers) == 0 {
		m.scheduleCleanupLocked(d)
	}
}

// Stats returns the number of live documents and attached peers.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Documents: len(m.docs)}
	for _, d := range m.docs {
		s.Peers += len(d.peers)
	}
	return s
}

// Shutdown stops all pending timers and drops every record.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, d := range m.docs {
		if d.cleanup != nil {
			d.cleanup.Stop()
		}
		metrics.EphemeralDocuments.Dec()
	}
	m.docs = make(map[string]*document)
}

// scheduleCleanupLocked arms (or re-arms) the cleanup timer for d. The idle
// delay is clamped so the timer never fires later than an explicit expiry.
func (m *Manager) scheduleCleanupLocked(d *document) {
	if d.cleanup != nil {
		d.cleanup.Stop()
		d.cleanup = nil
	}
	delay := m.idleTimeout
	if d.expiresAt != nil {
		if until := d.expiresAt.Sub(m.now()); until < delay {
			delay = until
		}
	}
	if delay <= 0 {
		m.deleteLocked(d)
		return
	}
	id := d.id
	d.cleanup = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if doc, ok := m.docs[id]; ok && len(doc.peers) == 0 {
			m.deleteLocked(doc)
		}
	})
}

func (m *Manager) deleteLocked(d *document) {
	if d.cleanup != nil {
		d.cleanup.Stop()
	}
	if _, ok := m.docs[d.id]; ok {
		delete(m.docs, d.id)
		metrics.EphemeralDocuments.Dec()
	}
}
