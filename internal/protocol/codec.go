package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyType = errors.New("protocol: message type is empty")
	ErrNoPayload = errors.New("protocol: message has no data")
)

// Encode wraps payload into an envelope. Opaque json.RawMessage fields are
// written without HTML escaping so relayed blobs keep their bytes.
func Encode(t MessageType, payload any) ([]byte, error) {
	env := struct {
		Type MessageType `json:"type"`
		Data any         `json:"data,omitempty"`
	}{Type: t, Data: payload}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(t MessageType, payload any) []byte {
	b, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return b
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrEmptyType
	}
	return env, nil
}

// Payload unmarshals the envelope data into v.
func (e Envelope) Payload(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return ErrNoPayload
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
