package transport

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// challengeSize is the number of random bytes signed in the
// challenge-response handshake (spec §4.8 "32 random bytes base64").
const challengeSize = 32

func newChallenge() ([]byte, error) {
	b := make([]byte, challengeSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("transport: generate challenge: %w", err)
	}
	return b, nil
}

func encodeChallenge(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func decodeChallenge(encoded string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transport: decode challenge: %w", err)
	}
	return b, nil
}

func encodeSignature(sig *ssh.Signature) string {
	return base64.StdEncoding.EncodeToString(ssh.Marshal(sig))
}

func decodeSignature(encoded string) (*ssh.Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transport: decode signature: %w", err)
	}
	var sig ssh.Signature
	if err := ssh.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("transport: unmarshal signature: %w", err)
	}
	return &sig, nil
}
