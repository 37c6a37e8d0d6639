package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateEphemeralKeyProducesUsableSigner(t *testing.T) {
	k, err := GenerateEphemeralKey()
	require.NoError(t, err)
	require.NotNil(t, k.Signer)
	require.NotNil(t, k.PublicKey)
	require.NotNil(t, k.Raw)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	k, err := GenerateEphemeralKey()
	require.NoError(t, err)

	challenge := []byte("0123456789abcdef0123456789abcdef")
	sig, err := k.Sign(challenge)
	require.NoError(t, err)
	require.True(t, VerifySignature(k.PublicKey, challenge, sig))
}

func TestVerifyRejectsTamperedChallenge(t *testing.T) {
	k, err := GenerateEphemeralKey()
	require.NoError(t, err)

	sig, err := k.Sign([]byte("original"))
	require.NoError(t, err)
	require.False(t, VerifySignature(k.PublicKey, []byte("tampered"), sig))
}

func TestFingerprintIsStableForSameKey(t *testing.T) {
	k, err := GenerateEphemeralKey()
	require.NoError(t, err)

	f1 := Fingerprint(k.PublicKey)
	f2 := Fingerprint(k.PublicKey)
	require.Equal(t, f1, f2)
	require.Contains(t, f1, "SHA256:")
}

func TestSelfSignedCertificateDeterministicForSameKey(t *testing.T) {
	k, err := GenerateEphemeralKey()
	require.NoError(t, err)

	cert1, err := SelfSignedCertificate(k, "alice")
	require.NoError(t, err)
	cert2, err := SelfSignedCertificate(k, "alice")
	require.NoError(t, err)

	require.True(t, certificatesEqual(cert1, cert2))
}

func TestVerifyCertificateMatchesSSHKeyRejectsMismatch(t *testing.T) {
	k, err := GenerateEphemeralKey()
	require.NoError(t, err)
	cert, err := SelfSignedCertificate(k, "alice")
	require.NoError(t, err)
	x509Cert, err := parseCertificate(cert)
	require.NoError(t, err)

	other, err := GenerateEphemeralKey()
	require.NoError(t, err)

	require.NoError(t, VerifyCertificateMatchesSSHKey(x509Cert, Fingerprint(k.PublicKey)))
	require.Error(t, VerifyCertificateMatchesSSHKey(x509Cert, Fingerprint(other.PublicKey)))
}
