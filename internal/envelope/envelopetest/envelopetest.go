// Package envelopetest builds signed package envelopes for tests.
package envelopetest

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"sort"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope"
)

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
	keyErr  error
)

// Key returns a process-wide 1024-bit signing key.
func Key(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		key, keyErr = rsa.GenerateKey(rand.Reader, 1024)
	})
	require.NoError(t, keyErr)
	return key
}

// Zip packs files into an archive. Names are written in sorted order.
func Zip(t testing.TB, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Package returns a signed envelope holding files.
func Package(t testing.TB, files map[string]string) []byte {
	t.Helper()
	data, err := envelope.Build(Zip(t, files), Key(t))
	require.NoError(t, err)
	return data
}

// Manifest returns a package.json body with the given version and
// dependencies.
func Manifest(version string, deps ...string) string {
	var b bytes.Buffer
	b.WriteString(`{"version":"` + version + `"`)
	if len(deps) > 0 {
		b.WriteString(`,"dependencies":{`)
		for i, dep := range deps {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(`"` + dep + `":"*"`)
		}
		b.WriteByte('}')
	}
	b.WriteByte('}')
	return b.String()
}
