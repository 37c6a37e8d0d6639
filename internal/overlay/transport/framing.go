// Package transport is Overlay Transport (spec §4.8): mutually-verified
// TLS connections between peers, framed with a length-prefixed JSON
// protocol. Grounded on doublezero's internal/liveness session shape
// (typed State enum with String(), struct holding per-connection mutable
// state guarded by its own lock) and internal/liveness/packet.go's
// explicit Marshal/Unmarshal pairing, retargeted from a fixed-size BFD
// binary header to a variable-length JSON frame.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameBytes is the hard cap on a single frame's JSON payload (spec
// §4.8 "Reject length <= 0 or length > 1_000_000").
const MaxFrameBytes = 1_000_000

// writeFrame writes a little-endian u32 length prefix followed by the
// JSON encoding of v (spec §4.8 "Framing").
func writeFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}
	if len(payload) > MaxFrameBytes {
		return fmt.Errorf("transport: frame of %d bytes exceeds %d byte cap", len(payload), MaxFrameBytes)
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("transport: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("transport: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame and unmarshals its JSON body
// into v. No message spans frames (spec §4.8).
func readFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	length := binary.LittleEndian.Uint32(prefix[:])
	if length == 0 || length > MaxFrameBytes {
		return fmt.Errorf("transport: invalid frame length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("transport: read frame payload: %w", err)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("transport: unmarshal frame: %w", err)
	}
	return nil
}

// envelope is the minimal shape every frame shares: a discriminating
// Type plus the rest of the message left as raw JSON, so handle_messages
// can dispatch before committing to a concrete struct.
type envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func (e *envelope) UnmarshalJSON(b []byte) error {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &peek); err != nil {
		return err
	}
	e.Type = peek.Type
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Message types in the overlay vocabulary (spec §4.8 "Message
// vocabulary").
const (
	TypeChallenge           = "CHALLENGE"
	TypePeerIdentification  = "PEER_IDENTIFICATION"
	TypeGraphSync           = "GRAPH_SYNC"
	TypeDeviceUpdate        = "DEVICE_UPDATE"
	TypePing                = "PING"
	TypePong                = "PONG"
)

type challengeMessage struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

type peerIdentificationMessage struct {
	Type         string `json:"type"`
	Username     string `json:"username"`
	SSHPublicKey string `json:"ssh_public_key"`
	Signature    string `json:"signature"`
}

type pingMessage struct {
	Type string `json:"type"`
}

type graphSyncMessage struct {
	Type        string            `json:"type"`
	Devices     []json.RawMessage `json:"devices"`
	Connections []json.RawMessage `json:"connections"`
}

type deviceUpdateMessage struct {
	Type   string          `json:"type"`
	Device json.RawMessage `json:"device"`
}
