package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testPassword = "s3cr3t"

func withCertPassword(t *testing.T, value string) {
	t.Helper()
	if value == "" {
		t.Setenv(CertPasswordEnvVar, "")
		require.NoError(t, os.Unsetenv(CertPasswordEnvVar))
		return
	}
	t.Setenv(CertPasswordEnvVar, value)
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutPathUsesDefaults(t *testing.T) {
	withCertPassword(t, testPassword)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().DiscoveryPort, cfg.DiscoveryPort)
	require.Equal(t, testPassword, cfg.CertPassword)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	withCertPassword(t, testPassword)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().TransportPort, cfg.TransportPort)
}

func TestLoadAppliesYAMLOverride(t *testing.T) {
	withCertPassword(t, testPassword)

	dir := t.TempDir()
	path := filepath.Join(dir, "tlscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interface: eth0\ndiscovery_port: 9001\nping_concurrency: 8\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "eth0", cfg.Interface)
	require.Equal(t, 9001, cfg.DiscoveryPort)
	require.Equal(t, 8, cfg.PingConcurrency)
	// Fields untouched by the override keep their defaults.
	require.Equal(t, Default().TransportPort, cfg.TransportPort)
}

func TestLoadMalformedYAMLReturnsError(t *testing.T) {
	withCertPassword(t, testPassword)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interface: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRequiresCertPasswordEnvVar(t *testing.T) {
	withCertPassword(t, "")

	_, err := Load("")
	require.Error(t, err)
}

func TestValidateRejectsBadPorts(t *testing.T) {
	cfg := Default()
	cfg.DiscoveryPort = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.TransportPort = 70000
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DiscoveryPort = cfg.TransportPort
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadPingRange(t *testing.T) {
	cfg := Default()
	cfg.PingConcurrency = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.PingStartHost = 200
	cfg.PingEndHost = 10
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveDurations(t *testing.T) {
	cfg := Default()
	cfg.EvictionHorizon = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RateResetWindow = -time.Second
	require.Error(t, cfg.Validate())
}
