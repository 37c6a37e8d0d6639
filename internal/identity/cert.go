package identity

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/ssh"
)

// certSerial is fixed rather than random: the certificate is derived
// deterministically from the SSH key material alone (spec §4.8
// "Certificates"), so every peer that loads the same key produces the
// same certificate bytes.
var certSerial = big.NewInt(1)

// SelfSignedCertificate builds an X.509 certificate for k, subject set to
// username, self-signed with k's own raw key (spec §4.8: "derived
// deterministically from its SSH private key ... subject = username").
func SelfSignedCertificate(k *KeyPair, username string) (tls.Certificate, error) {
	template := &x509.Certificate{
		SerialNumber: certSerial,
		Subject:      pkix.Name{CommonName: username},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(100, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(noRandReader{}, template, template, k.Raw.Public(), k.Raw)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: create self-signed certificate for %s: %w", username, err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  k.Raw,
	}, nil
}

// noRandReader feeds x509.CreateCertificate a deterministic all-zero
// stream; Ed25519/ECDSA signing here is deterministic regardless (the
// randomness x509 requests is only used for RSA PKCS1v15 padding, which
// this overlay never uses), so the certificate's signature is reproducible
// across processes holding the same key, matching the "derived
// deterministically" requirement.
type noRandReader struct{}

func (noRandReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// VerifyCertificateMatchesSSHKey implements spec §4.8's client-side
// server-certificate callback: the presented certificate's public key
// must match expectedFingerprint, the SHA256 fingerprint of the peer's
// known SSH public key.
func VerifyCertificateMatchesSSHKey(cert *x509.Certificate, expectedFingerprint string) error {
	sshPub, err := ssh.NewPublicKey(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("identity: certificate key is not SSH-compatible: %w", err)
	}
	got := Fingerprint(sshPub)
	if got != expectedFingerprint {
		return fmt.Errorf("identity: certificate fingerprint %s does not match expected %s", got, expectedFingerprint)
	}
	return nil
}

// parseCertificate parses the leaf DER certificate out of a tls.Certificate.
// Only tests call it; the transport's client-side verification parses the
// raw wire certificate with x509.ParseCertificate directly.
func parseCertificate(cert tls.Certificate) (*x509.Certificate, error) {
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("identity: certificate has no leaf bytes")
	}
	return x509.ParseCertificate(cert.Certificate[0])
}

// certificatesEqual is a small helper used by tests to compare DER bytes
// without pulling in a diff library for a one-off byte comparison.
func certificatesEqual(a, b tls.Certificate) bool {
	if len(a.Certificate) != len(b.Certificate) {
		return false
	}
	for i := range a.Certificate {
		if !bytes.Equal(a.Certificate[i], b.Certificate[i]) {
			return false
		}
	}
	return true
}
