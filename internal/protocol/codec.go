package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var ErrEmptyFrame = errors.New("empty frame")

// Codec is the serialization boundary between the relay and the wire. The
// relay never touches raw bytes directly, so the framing can change without
// touching permission or rate-limit code.
type Codec interface {
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

// CBORCodec frames messages as canonical CBOR maps. This is the production
// codec: frames are binary and carry opaque engine payloads without base64
// overhead.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Encode(msg *Message) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c *CBORCodec) Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	var msg Message
	if err := c.dec.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return nil, errors.New("frame missing type")
	}
	return &msg, nil
}

// JSONCodec frames messages as JSON. Used by tests and debugging tools; the
// field layout is identical to the CBOR framing.
type JSONCodec struct{}

func (JSONCodec) Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return nil, errors.New("frame missing type")
	}
	return &msg, nil
}
