package archive

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/zip"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
)

// Pack zips the regular files below dir. Entry names are slash-separated,
// relative to dir and written in sorted order so equal trees give equal
// archives.
func Pack(dir string) ([]byte, error) {
	var (
		mu    sync.Mutex
		names []string
	)
	err := fastwalk.Walk(&fastwalk.Config{Follow: false}, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		mu.Lock()
		names = append(names, filepath.ToSlash(rel))
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.InvalidArguments, "", "walking "+dir, err)
	}
	if len(names) == 0 {
		return nil, errdefs.Newf(errdefs.InvalidArguments, "", "%s has no files", dir)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			return nil, err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
