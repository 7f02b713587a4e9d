// Package protocol defines the envelopes exchanged over a peer data channel
// and their msgpack encoding.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/BioHazard786/warpmesh/internal/filetransfer"
)

const (
	TypeKeyExchange      = "key_exchange"
	TypeEncryptedMessage = "encrypted_message"
	TypeFileChunk        = "file_chunk"
)

var ErrMalformed = errors.New("malformed envelope")

// Ciphertext carries one sealed payload and the nonce it was sealed with.
type Ciphertext struct {
	IV         []byte `msgpack:"iv"`
	Ciphertext []byte `msgpack:"ciphertext"`
}

// Envelope is the single frame type on the wire. Which fields are set
// depends on Type.
type Envelope struct {
	Type string `msgpack:"type"`

	// key_exchange
	Key []byte `msgpack:"key,omitempty"`

	// encrypted_message
	Payload *Ciphertext `msgpack:"payload,omitempty"`

	// file_chunk; IV and Ciphertext are base64 (std encoding)
	FileID      string `msgpack:"fileId,omitempty"`
	Index       int    `msgpack:"index,omitempty"`
	TotalChunks int    `msgpack:"totalChunks,omitempty"`
	FileName    string `msgpack:"fileName,omitempty"`
	FileType    string `msgpack:"fileType,omitempty"`
	IV          string `msgpack:"iv,omitempty"`
	Ciphertext  string `msgpack:"ciphertext,omitempty"`
}

// Message is the application payload carried inside encrypted_message.
type Message struct {
	Sender    string    `msgpack:"sender"`
	Text      string    `msgpack:"text"`
	Timestamp time.Time `msgpack:"timestamp"`
}

// NewKeyExchange wraps a raw key for the unencrypted key_exchange frame.
func NewKeyExchange(raw []byte) Envelope {
	return Envelope{Type: TypeKeyExchange, Key: raw}
}

// NewEncryptedMessage wraps a sealed application message.
func NewEncryptedMessage(iv, ciphertext []byte) Envelope {
	return Envelope{
		Type:    TypeEncryptedMessage,
		Payload: &Ciphertext{IV: iv, Ciphertext: ciphertext},
	}
}

// Encode serializes an envelope for Conn.Send.
func Encode(env Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return data, nil
}

// Decode parses and validates a frame received from a peer.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that the fields required by the envelope type are present.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeKeyExchange:
		if len(e.Key) == 0 {
			return fmt.Errorf("%w: key_exchange without key", ErrMalformed)
		}
	case TypeEncryptedMessage:
		if e.Payload == nil || len(e.Payload.IV) == 0 {
			return fmt.Errorf("%w: encrypted_message without payload", ErrMalformed)
		}
	case TypeFileChunk:
		if e.FileID == "" || e.IV == "" {
			return fmt.Errorf("%w: file_chunk without id or iv", ErrMalformed)
		}
		if e.TotalChunks <= 0 || e.TotalChunks > filetransfer.MaxTotalChunks || e.Index < 0 || e.Index >= e.TotalChunks {
			return fmt.Errorf("%w: file_chunk index %d of %d", ErrMalformed, e.Index, e.TotalChunks)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Type)
	}
	return nil
}

// EncodeMessage serializes an application message before encryption.
func EncodeMessage(msg Message) ([]byte, error) {
	return msgpack.Marshal(msg)
}

// DecodeMessage parses a decrypted application message.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}
