package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCBORCodec_RoundTrip(t *testing.T) {
	c, err := NewCBORCodec()
	require.NoError(t, err)

	msg := &Message{
		Type:       TypeSync,
		DocumentID: "doc:abc",
		SenderID:   "peer-1",
		Payload:    []byte{0x01, 0x02, 0x03},
	}
	data, err := c.Encode(msg)
	require.NoError(t, err)

	got, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestCBORCodec_RejectsGarbage(t *testing.T) {
	c, err := NewCBORCodec()
	require.NoError(t, err)

	_, err = c.Decode(nil)
	require.ErrorIs(t, err, ErrEmptyFrame)

	_, err = c.Decode([]byte{0xff, 0x00, 0x13})
	require.Error(t, err)
}

func TestCBORCodec_RequiresType(t *testing.T) {
	c, err := NewCBORCodec()
	require.NoError(t, err)

	data, err := c.Encode(&Message{PeerID: "p"})
	require.NoError(t, err)
	_, err = c.Decode(data)
	require.Error(t, err)
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	c := JSONCodec{}
	msg := &Message{Type: TypeAuth, Token: "tok"}

	data, err := c.Encode(msg)
	require.NoError(t, err)
	got, err := c.Decode(data)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestTypePredicates(t *testing.T) {
	require.True(t, TypeSync.IsEngineFrame())
	require.True(t, TypePresence.IsEngineFrame())
	require.False(t, TypeAuth.IsEngineFrame())

	require.True(t, TypeSync.NeedsDocumentAccess())
	require.True(t, TypeEphemeral.NeedsDocumentAccess())
	require.False(t, TypePresence.NeedsDocumentAccess())
}
