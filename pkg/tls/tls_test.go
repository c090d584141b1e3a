package tls

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSelfSignedOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	cert, key := filepath.Join(dir, "tls", "cert.pem"), filepath.Join(dir, "tls", "key.pem")

	created, err := EnsureSelfSigned(cert, key, "rife.example", "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, created)

	first, err := os.ReadFile(cert)
	require.NoError(t, err)

	created, err = EnsureSelfSigned(cert, key)
	require.NoError(t, err)
	assert.False(t, created)
	second, err := os.ReadFile(cert)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := os.Stat(key)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestServerAndClientConfig(t *testing.T) {
	dir := t.TempDir()
	cert, key := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")
	require.NoError(t, GenerateSelfSignedCert(cert, key))

	serverCfg, err := ServerConfig(cert, key)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	srv.TLS = serverCfg
	srv.StartTLS()
	defer srv.Close()

	clientCfg, err := ClientConfig(cert, false)
	require.NoError(t, err)
	c := &http.Client{Transport: &http.Transport{TLSClientConfig: clientCfg}}

	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))

	// the system pool does not know a fresh self-signed cert
	untrusted, err := ClientConfig("", false)
	require.NoError(t, err)
	c = &http.Client{Transport: &http.Transport{TLSClientConfig: untrusted}}
	_, err = c.Get(srv.URL)
	assert.Error(t, err)
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := ServerConfig(filepath.Join(dir, "missing.pem"), filepath.Join(dir, "missing.key"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o644))
	_, err = ClientConfig(bad, false)
	assert.Error(t, err)

	cfg, err := ClientConfig("", true)
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
}
