package server

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commonName(t *testing.T, cm *CertManager) string {
	t.Helper()

	cert, err := cm.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	return x509Cert.Subject.CommonName
}

// rewrite replaces the pair in dir with one for cn and bumps its mtime.
func rewrite(t *testing.T, dir, cn string) {
	t.Helper()

	certPath, keyPath, err := mock.WriteCertificate(dir, cn)
	require.NoError(t, err)

	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(certPath, future, future))
	require.NoError(t, os.Chtimes(keyPath, future, future))
}

func TestCertManager(t *testing.T) {
	dir := t.TempDir()

	certPath, keyPath, err := mock.WriteCertificate(dir, "test1.example.com")
	require.NoError(t, err)

	cm, err := NewCertManager(certPath, keyPath)
	require.NoError(t, err)
	defer cm.Stop()

	tlsConfig := cm.GetTLSConfig()
	require.NotNil(t, tlsConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
	assert.Equal(t, []string{"h2", "http/1.1"}, cm.HTTPSConfig().NextProtos)

	assert.Equal(t, "test1.example.com", commonName(t, cm))

	rewrite(t, dir, "test2.example.com")

	assert.Eventually(t, func() bool {
		return commonName(t, cm) == "test2.example.com"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCertManagerReload(t *testing.T) {
	dir := t.TempDir()

	certPath, keyPath, err := mock.WriteCertificate(dir, "reload1.example.com")
	require.NoError(t, err)

	cm, err := NewCertManager(certPath, keyPath)
	require.NoError(t, err)
	defer cm.Stop()

	_, _, err = mock.WriteCertificate(dir, "reload2.example.com")
	require.NoError(t, err)

	require.NoError(t, cm.Reload())
	assert.Equal(t, "reload2.example.com", commonName(t, cm))

	// a broken pair keeps the previous certificate
	require.NoError(t, os.WriteFile(keyPath, []byte("garbage"), 0o600))
	assert.Error(t, cm.Reload())
	assert.Equal(t, "reload2.example.com", commonName(t, cm))

	cm.Stop()
	cm.Stop()
}

func TestLoadCertificate(t *testing.T) {
	dir := t.TempDir()

	_, _, err := mock.WriteCertificate(dir, "dns.example.com")
	require.NoError(t, err)

	cm, err := LoadCertificate(&config.TLSCertConfig{
		Path:         "tls.crt",
		PrivateKey:   "tls.key",
		EndpointName: "dns.example.com",
	}, dir)
	require.NoError(t, err)
	defer cm.Stop()

	certPath, keyPath := cm.Paths()
	assert.Equal(t, filepath.Join(dir, "tls.crt"), certPath)
	assert.Equal(t, filepath.Join(dir, "tls.key"), keyPath)
	assert.Equal(t, "dns.example.com", cm.EndpointName)

	_, err = LoadCertificate(nil, dir)
	assert.Error(t, err)

	_, err = LoadCertificate(&config.TLSCertConfig{Path: "missing.crt", PrivateKey: "tls.key"}, dir)
	assert.ErrorContains(t, err, "missing.crt")
}
