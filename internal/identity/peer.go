// Package identity is Peer Identity (spec §3): the overlay participant
// record, keyed by SSH public key, plus the SSH key loading/signing
// helpers Overlay Discovery and Overlay Transport both depend on.
// Grounded on aldrin-isaac-newtron's
// pkg/newtlab/boot.go (golang.org/x/crypto/ssh key generation/marshaling
// idiom), generalized from lab-bootstrap key minting to loading an
// operator-supplied key and deriving a self-signed certificate from it.
package identity

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// Peer is a TLScope overlay participant (spec §3 "Peer Identity").
type Peer struct {
	Username                string
	IP                      string
	TLSPort                 int
	SSHPublicKeyFingerprint string
	SSHPublicKey            ssh.PublicKey
	AvatarType              string
	AvatarColor             string
	CombinedRandomart       string
	Version                 string
	IsConnected             bool
	IsVerified              bool
	FirstSeen               time.Time
	LastConnected           time.Time
	LastVerified            time.Time
}

// Fingerprint returns the SHA256 fingerprint of key in the conventional
// "SHA256:base64" form, used as the authoritative peer identifier (spec
// §3 "SSH public key (authoritative identifier)").
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

// KeyPair is a loaded SSH identity: the private signer plus its public
// key, ready to sign challenges and derive a self-signed certificate.
// Raw is the underlying crypto.Signer (ed25519/ecdsa/rsa), needed
// separately from Signer because crypto/x509 certificate generation
// operates on the raw key, not the SSH wire-format wrapper.
type KeyPair struct {
	Signer    ssh.Signer
	PublicKey ssh.PublicKey
	Raw       crypto.Signer
}

// LoadPrivateKey reads and parses an OpenSSH-format private key file. If
// password is non-empty the key is assumed to be passphrase-protected.
// Mirrors the parse side of aldrin-isaac-newtron's
// ssh.MarshalPrivateKey/ssh.NewPublicKey pairing.
func LoadPrivateKey(path, password string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read private key %s: %w", path, err)
	}

	var signer ssh.Signer
	var rawKey any
	if password != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(raw, []byte(password))
		if err == nil {
			rawKey, err = ssh.ParseRawPrivateKeyWithPassphrase(raw, []byte(password))
		}
	} else {
		signer, err = ssh.ParsePrivateKey(raw)
		if err == nil {
			rawKey, err = ssh.ParseRawPrivateKey(raw)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("identity: parse private key %s: %w", path, err)
	}

	cryptoSigner, ok := rawKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("identity: private key %s is not a crypto.Signer", path)
	}

	return &KeyPair{Signer: signer, PublicKey: signer.PublicKey(), Raw: cryptoSigner}, nil
}

// GenerateEphemeralKey mints a fresh Ed25519 SSH key pair that lives only
// as long as the process. No CLI subcommand calls it: `start` with the
// overlay enabled and no SSH key configured fails at startup instead, and
// `uitest` does not run the overlay. The package tests use it for
// throwaway identities.
func GenerateEphemeralKey() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate ephemeral key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("identity: wrap ephemeral key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal ephemeral public key: %w", err)
	}
	return &KeyPair{Signer: signer, PublicKey: sshPub, Raw: priv}, nil
}

// Sign produces a detached signature over challenge using the key pair's
// private key (spec §4.8 client step 3: "Sign the challenge with our SSH
// private key").
func (k *KeyPair) Sign(challenge []byte) (*ssh.Signature, error) {
	sig, err := k.Signer.Sign(rand.Reader, challenge)
	if err != nil {
		return nil, fmt.Errorf("identity: sign challenge: %w", err)
	}
	return sig, nil
}

// VerifySignature checks sig against challenge under the presented SSH
// public key (spec §4.8 server step 5).
func VerifySignature(pub ssh.PublicKey, challenge []byte, sig *ssh.Signature) bool {
	return pub.Verify(challenge, sig) == nil
}
