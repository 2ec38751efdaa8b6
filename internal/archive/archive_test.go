package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
)

type entry struct {
	name string
	body string
}

func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if e.body != "" {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractBuffer(t *testing.T) {
	data := buildZip(t,
		entry{name: "add/"},
		entry{name: "add/package.json", body: `{"version":"1.0.0"}`},
		entry{name: "add/lib/index.js", body: "exports.add = (a, b) => a + b;"},
	)
	dest := filepath.Join(t.TempDir(), "out")

	require.NoError(t, NewExtractor(nil).ExtractBuffer(data, dest))

	got, err := os.ReadFile(filepath.Join(dest, "add", "package.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.0.0"}`, string(got))

	got, err = os.ReadFile(filepath.Join(dest, "add", "lib", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "exports.add = (a, b) => a + b;", string(got))
}

func TestExtractBufferClearsDestination(t *testing.T) {
	dest := t.TempDir()
	stale := filepath.Join(dest, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	data := buildZip(t, entry{name: "fresh.txt", body: "new"})
	require.NoError(t, NewExtractor(nil).ExtractBuffer(data, dest))

	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(dest, "fresh.txt"))
}

func TestExtractBufferRejectsEscapingEntries(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")
	data := buildZip(t,
		entry{name: "ok.txt", body: "fine"},
		entry{name: "../evil.txt", body: "nope"},
	)

	err := NewExtractor(nil).ExtractBuffer(data, dest)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.ExtractionFailure))
	assert.NoDirExists(t, dest)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil.txt"))
}

func TestExtractBufferRejectsNonZip(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")
	err := NewExtractor(nil).ExtractBuffer([]byte("definitely not an archive"), dest)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.ExtractionFailure))
	assert.NoDirExists(t, dest)
}

func TestExtractBufferWriteFailureRemovesDest(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")
	// The second entry needs "a" to be a directory, but the first made it a file.
	data := buildZip(t,
		entry{name: "a", body: "file"},
		entry{name: "a/b.txt", body: "child"},
	)

	err := NewExtractor(nil).ExtractBuffer(data, dest)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.ExtractionFailure))
	assert.NoDirExists(t, dest)
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "pkg.zip")
	require.NoError(t, os.WriteFile(src, buildZip(t, entry{name: "x.js", body: "1"}), 0644))

	dest := filepath.Join(dir, "out")
	require.NoError(t, NewExtractor(nil).ExtractFile(src, dest))
	assert.FileExists(t, filepath.Join(dest, "x.js"))

	err := NewExtractor(nil).ExtractFile(filepath.Join(dir, "missing.zip"), dest)
	assert.True(t, errdefs.Is(err, errdefs.ExtractionFailure))
}

func TestReadFile(t *testing.T) {
	data := buildZip(t,
		entry{name: "package.json", body: `{"version":"2.1.0"}`},
		entry{name: "index.js", body: "module.exports = 1;"},
	)

	got, err := ReadFile(data, "package.json")
	require.NoError(t, err)
	assert.Equal(t, `{"version":"2.1.0"}`, string(got))

	_, err = ReadFile(data, "missing.json")
	assert.True(t, errdefs.Is(err, errdefs.NotFound))
}

func TestPackRoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"package.json":   `{"version":"1.0.0"}`,
		"lib/add.js":     "exports.add = (a, b) => a + b;",
		"lib/deep/x.txt": "x",
	}
	for name, body := range files {
		p := filepath.Join(src, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}

	data, err := Pack(src)
	require.NoError(t, err)

	again, err := Pack(src)
	require.NoError(t, err)
	assert.Equal(t, data, again, "packing is deterministic")

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, NewExtractor(nil).ExtractBuffer(data, dest))
	for name, body := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	}

	manifest, err := ReadFile(data, "package.json")
	require.NoError(t, err)
	assert.Equal(t, files["package.json"], string(manifest))
}

func TestPackEmptyDir(t *testing.T) {
	_, err := Pack(t.TempDir())
	assert.True(t, errdefs.Is(err, errdefs.InvalidArguments))

	_, err = Pack(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
