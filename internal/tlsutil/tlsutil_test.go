package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/aura/testutil"
)

func TestServerConfig(t *testing.T) {
	certFile, keyFile := testutil.WriteSelfSigned(t, t.TempDir(), "first")
	kp, err := LoadKeypair(certFile, keyFile, nil)
	require.NoError(t, err)

	cfg := ServerConfig(kp)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, []string{"http/1.1"}, cfg.NextProtos)
	assert.ElementsMatch(t, aeadSuites, cfg.CipherSuites)
	require.NotNil(t, cfg.GetCertificate)

	// 调用方修改不影响包内列表
	cfg.CipherSuites[0] = 0
	assert.NotZero(t, aeadSuites[0])
}

func TestWebSocketClient(t *testing.T) {
	client := WebSocketClient()
	assert.Zero(t, client.Timeout)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.TLSClientConfig)
	assert.False(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, []string{"http/1.1"}, tr.TLSClientConfig.NextProtos)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
}

func TestLoadKeypair_Invalid(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := testutil.WriteSelfSigned(t, dir, "first")

	_, err := LoadKeypair(certFile, dir+"/missing.pem", nil)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(keyFile, []byte("not a key"), 0o600))
	_, err = LoadKeypair(certFile, keyFile, nil)
	assert.Error(t, err)
}

func commonName(t *testing.T, cert *tls.Certificate) string {
	t.Helper()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf.Subject.CommonName
}

func TestKeypair_Reload(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := testutil.WriteSelfSigned(t, dir, "first")

	kp, err := LoadKeypair(certFile, keyFile, zaptest.NewLogger(t))
	require.NoError(t, err)
	now := time.Now()
	kp.now = func() time.Time { return now }
	kp.checkedAt = now

	cert, err := kp.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "first", commonName(t, cert))

	// 新文件写入，但还没到检查间隔
	testutil.WriteSelfSigned(t, dir, "second")
	later := now.Add(time.Minute)
	require.NoError(t, os.Chtimes(certFile, later, later))
	require.NoError(t, os.Chtimes(keyFile, later, later))

	cert, _ = kp.GetCertificate(nil)
	assert.Equal(t, "first", commonName(t, cert))

	now = now.Add(DefaultRecheck)
	cert, _ = kp.GetCertificate(nil)
	assert.Equal(t, "second", commonName(t, cert))

	// 损坏的新文件不替换当前证书
	require.NoError(t, os.WriteFile(keyFile, []byte("garbage"), 0o600))
	evenLater := later.Add(time.Minute)
	require.NoError(t, os.Chtimes(keyFile, evenLater, evenLater))
	now = now.Add(DefaultRecheck)
	cert, err = kp.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "second", commonName(t, cert))
}
