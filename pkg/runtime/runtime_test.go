package runtime

import (
	"context"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := generateSelfSignedCert("chat.internal")
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "localhost")
	assert.Contains(t, leaf.DNSNames, "chat.internal")
	assert.Equal(t, "chatkit-local", leaf.Subject.CommonName)
}

func TestUniqueStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, uniqueStrings([]string{"a", " ", "b", "a "}))
}

func TestNewAndShutdown(t *testing.T) {
	root := t.TempDir()
	conf := "http_addr: 127.0.0.1:0\ntls_disable: true\nlog:\n  stdout: false\n  file:\n    enabled: false\n"
	path := filepath.Join(root, "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o644))

	srv, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", srv.Addr())
	assert.DirExists(t, filepath.Join(root, "data", "channels"))

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-done)
}
