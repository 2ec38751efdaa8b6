// Package archive unpacks the zip payload carried inside a package envelope.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/paths"
)

const zipMIME = "application/zip"

// Extractor writes archive entries below a destination directory.
type Extractor struct {
	logger *logging.Logger
}

// NewExtractor creates an extractor. A nil logger discards output.
func NewExtractor(logger *logging.Logger) *Extractor {
	return &Extractor{logger: logging.OrNop(logger).Component("archive")}
}

// ExtractFile reads an archive from disk and extracts it into dest.
func (e *Extractor) ExtractFile(path, dest string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errdefs.Wrap(errdefs.ExtractionFailure, "", "reading archive", err)
	}
	return e.ExtractBuffer(data, dest)
}

// ExtractBuffer extracts an in-memory archive into dest. Whatever was at
// dest is removed first; on any failure dest is removed again so a partial
// tree is never left behind.
func (e *Extractor) ExtractBuffer(data []byte, dest string) (err error) {
	if dest == "" {
		return errdefs.New(errdefs.InvalidArguments, "", "destination cannot be empty")
	}
	dest = filepath.Clean(dest) + string(filepath.Separator)

	if err := os.RemoveAll(dest); err != nil {
		return errdefs.Wrap(errdefs.ExtractionFailure, "", "clearing destination", err)
	}

	defer func() {
		if p := recover(); p != nil {
			err = errdefs.Newf(errdefs.ExtractionFailure, "", "extraction aborted: %v", p)
		}
		if err != nil {
			_ = os.RemoveAll(dest)
			e.logger.Warn("Extraction failed", zap.String("dest", dest), zap.Error(err))
		}
	}()

	zr, err := openZip(data)
	if err != nil {
		return err
	}

	written := 0
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		if err := extractEntry(f, dest); err != nil {
			return err
		}
		written++
	}

	e.logger.Debug("Archive extracted", zap.String("dest", dest), zap.Int("files", written))
	return nil
}

// ReadFile returns the contents of the entry called name.
func ReadFile(data []byte, name string) ([]byte, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		b, err := readEntry(f)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.ExtractionFailure, "", "reading "+name, err)
		}
		return b, nil
	}
	return nil, errdefs.Newf(errdefs.NotFound, "", "%s not in archive", name)
}

func openZip(data []byte) (*zip.Reader, error) {
	if !isZip(data) {
		return nil, errdefs.New(errdefs.ExtractionFailure, "", "payload is not a zip archive")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ExtractionFailure, "", "opening archive", err)
	}
	return zr, nil
}

// isZip accepts zip and every format mimetype derives from it.
func isZip(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is(zipMIME) {
			return true
		}
	}
	return false
}

func extractEntry(f *zip.File, dest string) error {
	target := filepath.Join(dest, filepath.FromSlash(f.Name))
	if !paths.Within(dest, target) || filepath.Clean(target) == filepath.Clean(dest) {
		return errdefs.Newf(errdefs.ExtractionFailure, "", "entry %q escapes destination", f.Name)
	}

	data, err := readEntry(f)
	if err != nil {
		return errdefs.Wrap(errdefs.ExtractionFailure, "", fmt.Sprintf("reading entry %q", f.Name), err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errdefs.Wrap(errdefs.ExtractionFailure, "", "creating directory", err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return errdefs.Wrap(errdefs.ExtractionFailure, "", "writing file", err)
	}
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
