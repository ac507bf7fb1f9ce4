package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/docsync/docsync/internal/acl"
	"github.com/docsync/docsync/internal/documents"
	"github.com/docsync/docsync/internal/ephemeral"
	"github.com/docsync/docsync/internal/models"
	"github.com/docsync/docsync/internal/protocol"
	"github.com/docsync/docsync/internal/ratelimit"
	"github.com/docsync/docsync/internal/sessions"
	"github.com/docsync/docsync/internal/tokens"
)

type relayFixture struct {
	relay    *Relay
	server   *httptest.Server
	docs     *documents.MemoryRepository
	sessions *sessions.Service
	tokens   *tokens.Manager
	eph      *ephemeral.Manager
}

func newFixture(t *testing.T, cfg Config) *relayFixture {
	t.Helper()

	docs := documents.NewMemoryRepository()
	eph := ephemeral.NewManager(time.Minute)
	t.Cleanup(eph.Shutdown)
	sess := sessions.NewService(sessions.NewMemoryRepository())
	tok := tokens.NewManager("test-secret", time.Hour)

	r := New(acl.NewResolver(docs), eph, sess, tok, ratelimit.New(), protocol.JSONCodec{}, cfg)

	// The relay mounts on the raw mux in production, same here.
	mux := http.NewServeMux()
	mux.Handle("/sync", r)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &relayFixture{relay: r, server: server, docs: docs, sessions: sess, tokens: tok, eph: eph}
}

func defaultConfig() Config {
	return Config{
		AuthTimeout:   2 * time.Second,
		AnonConnLimit: ratelimit.Limit{Max: 100, Window: time.Minute},
		AnonMsgLimit:  ratelimit.Limit{Max: 100, Window: time.Minute},
	}
}

func (f *relayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, f.server.URL+"/sync", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg *protocol.Message) {
	t.Helper()
	data, err := protocol.JSONCodec{}.Encode(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, data))
}

func recv(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	msg, err := protocol.JSONCodec{}.Decode(data)
	require.NoError(t, err)
	return msg
}

// authenticate runs the handshake and returns the assigned peer id.
func authenticate(t *testing.T, conn *websocket.Conn, token string) *protocol.Message {
	t.Helper()
	send(t, conn, &protocol.Message{Type: protocol.TypeAuth, Token: token})
	return recv(t, conn)
}

func TestAnonymousHandshake(t *testing.T) {
	f := newFixture(t, defaultConfig())
	conn := f.dial(t)

	ok := authenticate(t, conn, "")
	assert.Equal(t, protocol.TypeAuthOK, ok.Type)
	assert.NotEmpty(t, ok.PeerID)
	assert.Nil(t, ok.User)
}

func TestSessionTokenHandshake(t *testing.T) {
	f := newFixture(t, defaultConfig())
	token, err := f.sessions.CreateSession(context.Background(), "alice", time.Hour)
	require.NoError(t, err)

	conn := f.dial(t)
	ok := authenticate(t, conn, token)
	assert.Equal(t, protocol.TypeAuthOK, ok.Type)
	require.NotNil(t, ok.User)
	assert.Equal(t, "alice", ok.User.ID)
}

func TestAPITokenHandshake(t *testing.T) {
	f := newFixture(t, defaultConfig())
	token, err := f.tokens.Generate("bob")
	require.NoError(t, err)

	conn := f.dial(t)
	ok := authenticate(t, conn, token)
	assert.Equal(t, protocol.TypeAuthOK, ok.Type)
	require.NotNil(t, ok.User)
	assert.Equal(t, "bob", ok.User.ID)
}

func TestInvalidTokenRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())
	conn := f.dial(t)

	reply := authenticate(t, conn, "not-a-token")
	assert.Equal(t, protocol.TypeAuthError, reply.Type)
	assert.Equal(t, protocol.ErrInvalidToken, reply.Error)
}

func TestFrameBeforeAuthRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())
	conn := f.dial(t)

	send(t, conn, &protocol.Message{Type: protocol.TypeSync, DocumentID: "doc:unauthd"})
	reply := recv(t, conn)
	assert.Equal(t, protocol.TypeAuthError, reply.Type)
	assert.Equal(t, protocol.ErrNotAuthenticated, reply.Error)
}

func TestAuthTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.AuthTimeout = 100 * time.Millisecond
	f := newFixture(t, cfg)
	conn := f.dial(t)

	reply := recv(t, conn)
	assert.Equal(t, protocol.TypeAuthError, reply.Type)
	assert.Equal(t, protocol.ErrAuthTimeout, reply.Error)
}

func TestAnonymousConnectionLimit(t *testing.T) {
	cfg := defaultConfig()
	cfg.AnonConnLimit = ratelimit.Limit{Max: 1, Window: time.Minute}
	f := newFixture(t, cfg)

	first := f.dial(t)
	ok := authenticate(t, first, "")
	require.Equal(t, protocol.TypeAuthOK, ok.Type)

	second := f.dial(t)
	reply := authenticate(t, second, "")
	assert.Equal(t, protocol.TypeAuthError, reply.Type)
	assert.Equal(t, protocol.ErrRateLimited, reply.Error)
	assert.Greater(t, reply.RetryAfter, 0)
}

func TestDoubleAuthRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())
	conn := f.dial(t)
	require.Equal(t, protocol.TypeAuthOK, authenticate(t, conn, "").Type)

	send(t, conn, &protocol.Message{Type: protocol.TypeAuth})
	reply := recv(t, conn)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrAlreadyAuthenticated, reply.Error)
}

func TestPermissionDenied(t *testing.T) {
	f := newFixture(t, defaultConfig())
	require.NoError(t, f.docs.Create(context.Background(), &models.DocumentMetadata{
		ID:      "doc:private-1",
		OwnerID: "bob",
	}))

	conn := f.dial(t)
	require.Equal(t, protocol.TypeAuthOK, authenticate(t, conn, "").Type)

	send(t, conn, &protocol.Message{Type: protocol.TypeSync, DocumentID: "doc:private-1", Payload: []byte{1}})
	reply := recv(t, conn)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrPermissionDenied, reply.Error)
	assert.Equal(t, "doc:private-1", reply.DocumentID)
}

func TestRevokedAccessCutsOffPeer(t *testing.T) {
	f := newFixture(t, defaultConfig())
	require.NoError(t, f.docs.Create(context.Background(), &models.DocumentMetadata{
		ID:      "doc:revoked-1",
		OwnerID: "bob",
		ACL:     []models.ACLEntry{{Principal: models.PrincipalPublic, Permission: models.PermissionRead}},
	}))

	conn := f.dial(t)
	require.Equal(t, protocol.TypeAuthOK, authenticate(t, conn, "").Type)

	// First frame is admitted under the public grant.
	send(t, conn, &protocol.Message{Type: protocol.TypeSync, DocumentID: "doc:revoked-1", Payload: []byte{1}})
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, f.docs.DeleteACLEntry(context.Background(), "doc:revoked-1", models.PrincipalPublic))

	send(t, conn, &protocol.Message{Type: protocol.TypeSync, DocumentID: "doc:revoked-1", Payload: []byte{2}})
	reply := recv(t, conn)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrPermissionDenied, reply.Error)
	assert.Equal(t, "doc:revoked-1", reply.DocumentID)
}

func TestRelayBetweenPeers(t *testing.T) {
	f := newFixture(t, defaultConfig())
	require.NoError(t, f.docs.Create(context.Background(), &models.DocumentMetadata{
		ID:      "doc:shared-1",
		OwnerID: "bob",
		ACL:     []models.ACLEntry{{Principal: models.PrincipalPublic, Permission: models.PermissionRead}},
	}))

	connA := f.dial(t)
	require.Equal(t, protocol.TypeAuthOK, authenticate(t, connA, "").Type)
	connB := f.dial(t)
	okB := authenticate(t, connB, "")
	require.Equal(t, protocol.TypeAuthOK, okB.Type)

	// A subscribes by sending its first frame into the empty document.
	send(t, connA, &protocol.Message{Type: protocol.TypeSync, DocumentID: "doc:shared-1", Payload: []byte{1}})
	// Give the server time to register the subscription before B sends.
	time.Sleep(50 * time.Millisecond)

	send(t, connB, &protocol.Message{Type: protocol.TypeSync, DocumentID: "doc:shared-1", Payload: []byte{2, 3}})

	got := recv(t, connA)
	assert.Equal(t, protocol.TypeSync, got.Type)
	assert.Equal(t, "doc:shared-1", got.DocumentID)
	assert.Equal(t, okB.PeerID, got.SenderID)
	assert.Equal(t, []byte{2, 3}, got.Payload)
}

func TestEphemeralDocumentOpenToAnonymous(t *testing.T) {
	f := newFixture(t, defaultConfig())

	connA := f.dial(t)
	require.Equal(t, protocol.TypeAuthOK, authenticate(t, connA, "").Type)
	connB := f.dial(t)
	okB := authenticate(t, connB, "")
	require.Equal(t, protocol.TypeAuthOK, okB.Type)

	send(t, connA, &protocol.Message{Type: protocol.TypeEphemeral, DocumentID: "eph:temp-1", Payload: []byte{9}})
	time.Sleep(50 * time.Millisecond)
	assert.True(t, f.eph.Exists("eph:temp-1"))

	send(t, connB, &protocol.Message{Type: protocol.TypeEphemeral, DocumentID: "eph:temp-1", Payload: []byte{7}})
	got := recv(t, connA)
	assert.Equal(t, protocol.TypeEphemeral, got.Type)
	assert.Equal(t, okB.PeerID, got.SenderID)
	assert.Equal(t, []byte{7}, got.Payload)
}

func TestAnonymousMessageLimit(t *testing.T) {
	cfg := defaultConfig()
	cfg.AnonMsgLimit = ratelimit.Limit{Max: 2, Window: time.Minute}
	f := newFixture(t, cfg)

	conn := f.dial(t)
	require.Equal(t, protocol.TypeAuthOK, authenticate(t, conn, "").Type)

	for i := 0; i < 2; i++ {
		send(t, conn, &protocol.Message{Type: protocol.TypeEphemeral, DocumentID: "eph:limited-1", Payload: []byte{1}})
	}
	send(t, conn, &protocol.Message{Type: protocol.TypeEphemeral, DocumentID: "eph:limited-1", Payload: []byte{1}})
	reply := recv(t, conn)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrRateLimited, reply.Error)
}

func TestAuthenticatedPeerNotMessageLimited(t *testing.T) {
	cfg := defaultConfig()
	cfg.AnonMsgLimit = ratelimit.Limit{Max: 1, Window: time.Minute}
	f := newFixture(t, cfg)
	token, err := f.tokens.Generate("alice")
	require.NoError(t, err)

	conn := f.dial(t)
	require.Equal(t, protocol.TypeAuthOK, authenticate(t, conn, token).Type)

	for i := 0; i < 5; i++ {
		send(t, conn, &protocol.Message{Type: protocol.TypeEphemeral, DocumentID: "eph:open-1", Payload: []byte{1}})
	}
	// No error frame arrives; the next read times out cleanly.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err = conn.Read(ctx)
	assert.Error(t, err)
}

func TestDisconnectReleasesEphemeralPeer(t *testing.T) {
	f := newFixture(t, defaultConfig())

	conn := f.dial(t)
	require.Equal(t, protocol.TypeAuthOK, authenticate(t, conn, "").Type)
	send(t, conn, &protocol.Message{Type: protocol.TypeEphemeral, DocumentID: "eph:short-1", Payload: []byte{1}})
	time.Sleep(50 * time.Millisecond)
	require.True(t, f.eph.Exists("eph:short-1"))

	stats := f.eph.Stats()
	assert.Equal(t, 1, stats.Documents)

	conn.Close(websocket.StatusNormalClosure, "")
	// The peer leaves; the document idles until the cleanup timer fires.
	assert.Eventually(t, func() bool {
		return f.eph.Stats().Peers == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUnknownFrameTypeRejected(t *testing.T) {
	f := newFixture(t, defaultConfig())
	conn := f.dial(t)
	require.Equal(t, protocol.TypeAuthOK, authenticate(t, conn, "").Type)

	send(t, conn, &protocol.Message{Type: protocol.Type("bogus"), Payload: []byte{1}})
	reply := recv(t, conn)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, protocol.ErrInvalidMessage, reply.Error)
}

// recordingEngine captures the lifecycle callbacks a stateful engine
// would receive.
type recordingEngine struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (e *recordingEngine) PeerConnected(ctx context.Context, p *Peer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = append(e.connected, p.ID)
}

func (e *recordingEngine) HandleFrame(ctx context.Context, from *Peer, msg *protocol.Message) {}

func (e *recordingEngine) PeerDisconnected(ctx context.Context, p *Peer, docs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, p.ID)
}

func (e *recordingEngine) peers() (connected, disconnected []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.connected...), append([]string(nil), e.disconnected...)
}

func TestEngineSeesPeerLifecycle(t *testing.T) {
	f := newFixture(t, defaultConfig())
	rec := &recordingEngine{}
	f.relay.engine = rec

	conn := f.dial(t)
	ok := authenticate(t, conn, "")
	require.Equal(t, protocol.TypeAuthOK, ok.Type)

	assert.Eventually(t, func() bool {
		connected, _ := rec.peers()
		return len(connected) == 1 && connected[0] == ok.PeerID
	}, 2*time.Second, 20*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool {
		_, disconnected := rec.peers()
		return len(disconnected) == 1 && disconnected[0] == ok.PeerID
	}, 2*time.Second, 20*time.Millisecond)
}
