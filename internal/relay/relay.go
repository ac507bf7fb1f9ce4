package relay

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/docsync/docsync/internal/acl"
	"github.com/docsync/docsync/internal/ephemeral"
	"github.com/docsync/docsync/internal/models"
	"github.com/docsync/docsync/internal/protocol"
	"github.com/docsync/docsync/internal/ratelimit"
	"github.com/docsync/docsync/internal/sessions"
	"github.com/docsync/docsync/internal/tokens"
	"github.com/docsync/docsync/pkg/logger"
	"github.com/docsync/docsync/pkg/metrics"
)

// Rate-limit stores owned by the relay. Anonymous connections are limited
// per client IP, anonymous message flow per peer.
const (
	storeAnonConn = "anon_conn"
	storeAnonMsg  = "anon_msg"
)

// Config carries the relay tunables.
type Config struct {
	AuthTimeout   time.Duration
	AnonConnLimit ratelimit.Limit
	AnonMsgLimit  ratelimit.Limit
}

// Relay owns the websocket endpoint: it runs the auth handshake, enforces
// anonymous rate limits and document read access, and hands gated frames to
// the engine. Every connection must authenticate within Config.AuthTimeout
// or it is closed with auth_timeout.
type Relay struct {
	acl      *acl.Resolver
	eph      *ephemeral.Manager
	sessions *sessions.Service
	tokens   *tokens.Manager
	limiter  *ratelimit.Limiter
	registry *Registry
	engine   Engine
	codec    protocol.Codec
	cfg      Config
}

func New(aclResolver *acl.Resolver, eph *ephemeral.Manager, sess *sessions.Service, tok *tokens.Manager, limiter *ratelimit.Limiter, codec protocol.Codec, cfg Config) *Relay {
	limiter.Register(storeAnonConn, cfg.AnonConnLimit)
	limiter.Register(storeAnonMsg, cfg.AnonMsgLimit)
	reg := NewRegistry()
	return &Relay{
		acl:      aclResolver,
		eph:      eph,
		sessions: sess,
		tokens:   tok,
		limiter:  limiter,
		registry: reg,
		engine:   NewBroadcastEngine(reg),
		codec:    codec,
		cfg:      cfg,
	}
}

// Registry exposes the peer registry, mainly for stats endpoints.
func (r *Relay) Registry() *Registry { return r.registry }

// ServeHTTP upgrades the connection and runs the relay loop. The endpoint
// must be mounted on the raw mux, not behind gin: the upgrade hijacks the
// connection and gin's buffered response writer refuses to hijack once
// headers are written.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.serve(w, req, clientIP(req))
}

// clientIP resolves the caller address the same way the REST routes do,
// honoring the first X-Forwarded-For hop before falling back to the
// socket address.
func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func (r *Relay) serve(w http.ResponseWriter, req *http.Request, ip string) {
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Debugf("relay: websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")
	metrics.ConnectionsOpened.Inc()

	ctx := req.Context()
	peer, ok := r.handshake(ctx, conn, ip)
	if !ok {
		return
	}

	r.registry.Add(peer)
	r.engine.PeerConnected(ctx, peer)
	logger.Debugf("relay: peer %s connected (user=%q)", peer.ID, peer.UserID)
	defer func() {
		docs := r.registry.Remove(peer.ID)
		for _, docID := range docs {
			if models.IsEphemeralID(docID) {
				r.eph.RemovePeer(docID, peer.ID)
			}
		}
		r.engine.PeerDisconnected(context.Background(), peer, docs)
		logger.Debugf("relay: peer %s disconnected", peer.ID)
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		r.dispatch(ctx, peer, data)
	}
}

// handshake reads the first frame, which must be an auth message, and
// resolves its token. An empty token admits the peer anonymously subject to
// the per-IP connection limit.
func (r *Relay) handshake(ctx context.Context, conn *websocket.Conn, clientIP string) (*Peer, bool) {
	hctx, cancel := context.WithTimeout(ctx, r.cfg.AuthTimeout)
	defer cancel()

	_, data, err := conn.Read(hctx)
	if err != nil {
		r.writeDirect(conn, protocol.NewAuthError(protocol.ErrAuthTimeout, "no auth message received", 0))
		conn.Close(websocket.StatusPolicyViolation, protocol.ErrAuthTimeout)
		return nil, false
	}
	msg, err := r.codec.Decode(data)
	if err != nil {
		r.writeDirect(conn, protocol.NewAuthError(protocol.ErrInvalidMessage, "undecodable frame", 0))
		conn.Close(websocket.StatusPolicyViolation, protocol.ErrInvalidMessage)
		return nil, false
	}
	if msg.Type != protocol.TypeAuth {
		r.writeDirect(conn, protocol.NewAuthError(protocol.ErrNotAuthenticated, "authenticate first", 0))
		conn.Close(websocket.StatusPolicyViolation, protocol.ErrNotAuthenticated)
		return nil, false
	}

	var user *protocol.UserInfo
	userID := ""
	if msg.Token != "" {
		userID, err = r.resolveToken(ctx, msg.Token)
		if err != nil {
			r.writeDirect(conn, protocol.NewAuthError(protocol.ErrInvalidToken, "token rejected", 0))
			conn.Close(websocket.StatusPolicyViolation, protocol.ErrInvalidToken)
			return nil, false
		}
		user = &protocol.UserInfo{ID: userID}
	} else {
		res := r.limiter.Allow(storeAnonConn, clientIP)
		if !res.Allowed {
			retry := int(res.RetryAfter / time.Second)
			r.writeDirect(conn, protocol.NewAuthError(protocol.ErrRateLimited, "too many anonymous connections", retry))
			conn.Close(websocket.StatusPolicyViolation, protocol.ErrRateLimited)
			return nil, false
		}
	}

	peer := &Peer{ID: uuid.NewString(), UserID: userID, conn: conn, codec: r.codec}
	if err := peer.send(ctx, &protocol.Message{Type: protocol.TypeAuthOK, PeerID: peer.ID, User: user}); err != nil {
		return nil, false
	}
	return peer, true
}

// resolveToken tries the token as a session token first, then as a signed
// API token.
func (r *Relay) resolveToken(ctx context.Context, token string) (string, error) {
	sess, err := r.sessions.Validate(ctx, token)
	if err == nil && sess != nil {
		return sess.UserID, nil
	}
	return r.tokens.Verify(token)
}

func (r *Relay) dispatch(ctx context.Context, peer *Peer, data []byte) {
	msg, err := r.codec.Decode(data)
	if err != nil {
		peer.send(ctx, protocol.NewError(protocol.ErrInvalidMessage, "undecodable frame", 0))
		return
	}

	switch {
	case msg.Type == protocol.TypeAuth:
		peer.send(ctx, protocol.NewError(protocol.ErrAlreadyAuthenticated, "connection is already authenticated", 0))
	case msg.Type.IsEngineFrame():
		r.relayFrame(ctx, peer, msg)
	default:
		peer.send(ctx, protocol.NewError(protocol.ErrInvalidMessage, "unknown frame type "+string(msg.Type), 0))
	}
}

func (r *Relay) relayFrame(ctx context.Context, peer *Peer, msg *protocol.Message) {
	if peer.Anonymous() {
		res := r.limiter.Allow(storeAnonMsg, peer.ID)
		if !res.Allowed {
			retry := int(res.RetryAfter / time.Second)
			peer.send(ctx, protocol.NewError(protocol.ErrRateLimited, "message rate exceeded", retry))
			return
		}
	}

	if msg.Type.NeedsDocumentAccess() && msg.DocumentID != "" {
		if !r.admit(ctx, peer, msg.DocumentID) {
			return
		}
	}

	msg.SenderID = peer.ID
	metrics.MessagesRelayed.WithLabelValues(string(msg.Type)).Inc()
	r.engine.HandleFrame(ctx, peer, msg)
}

// admit gates a frame addressed to a document. Ephemeral documents are open
// to everyone and register the peer with the lifecycle manager on first
// contact. Everything else goes back to the resolver on every frame, so a
// revoked grant cuts off a live connection with the next message; denial
// also drops any standing subscription so the peer stops receiving
// broadcasts for the document.
func (r *Relay) admit(ctx context.Context, peer *Peer, docID string) bool {
	if models.IsEphemeralID(docID) {
		if !r.registry.Subscribed(peer.ID, docID) {
			r.eph.AddPeer(docID, peer.ID)
			r.registry.Subscribe(peer.ID, docID)
		}
		return true
	}

	ok, err := r.acl.CheckPermission(ctx, docID, peer.UserID, models.PermissionRead)
	if err != nil {
		logger.Errorf("relay: permission resolve failed for %s on %s: %v", peer.ID, docID, err)
		ok = false
	}
	if !ok {
		r.registry.Unsubscribe(peer.ID, docID)
		metrics.PermissionDenied.Inc()
		peer.send(ctx, &protocol.Message{
			Type:       protocol.TypeError,
			Error:      protocol.ErrPermissionDenied,
			Message:    "no read access to document",
			DocumentID: docID,
		})
		return false
	}
	r.registry.Subscribe(peer.ID, docID)
	return true
}

// writeDirect writes a frame on a connection that has no peer yet. The
// write gets its own deadline because the caller's context may already be
// expired.
func (r *Relay) writeDirect(conn *websocket.Conn, msg *protocol.Message) {
	data, err := r.codec.Encode(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn.Write(wctx, websocket.MessageBinary, data)
}
