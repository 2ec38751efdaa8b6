package index

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/archive"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/envelope"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/manifest"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/paths"
)

// Entry describes one published package.
type Entry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Digest  string `json:"digest"`
	Size    int64  `json:"size"`
}

type cached struct {
	modTime time.Time
	size    int64
	entry   Entry
}

// Store reads envelopes from a directory. Parsed entries are cached until
// the file's size or modification time changes.
type Store struct {
	dir    string
	ext    string
	logger *logging.Logger

	mu      sync.Mutex
	entries map[string]cached // Protected by mu
}

// NewStore creates a store over dir for files ending in ext.
func NewStore(dir, ext string, logger *logging.Logger) *Store {
	return &Store{
		dir:     dir,
		ext:     ext,
		logger:  logging.OrNop(logger).Component("index"),
		entries: make(map[string]cached),
	}
}

// Dir returns the envelope directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the envelope path for name.
func (s *Store) Path(name string) (string, error) {
	if err := paths.ValidatePackageName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+s.ext), nil
}

// Lookup returns the published entry for name.
func (s *Store) Lookup(name string) (Entry, error) {
	path, err := s.Path(name)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, errdefs.New(errdefs.NotFound, name, "module not found")
		}
		return Entry{}, err
	}

	s.mu.Lock()
	c, ok := s.entries[name]
	s.mu.Unlock()
	if ok && c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
		return c.entry, nil
	}

	entry, err := s.read(name, path)
	if err != nil {
		return Entry{}, err
	}
	entry.Size = info.Size()

	s.mu.Lock()
	s.entries[name] = cached{modTime: info.ModTime(), size: info.Size(), entry: entry}
	s.mu.Unlock()
	return entry, nil
}

// read parses the envelope and the package.json inside its archive.
func (s *Store) read(name, path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	env, err := envelope.Parse(data)
	if err != nil {
		return Entry{}, err
	}
	raw, err := archive.ReadFile(env.Archive, paths.ManifestName)
	if err != nil {
		return Entry{}, err
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return Entry{}, errdefs.Wrap(errdefs.InvalidArguments, name, "error parsing manifest", err)
	}
	return Entry{Name: name, Version: m.Version, Digest: env.Digest()}, nil
}

// Version returns the published version of name, or false when the
// package is unknown or unreadable.
func (s *Store) Version(name string) (string, bool) {
	entry, err := s.Lookup(name)
	if err != nil {
		if !errdefs.Is(err, errdefs.NotFound) {
			s.logger.Warn("Unreadable package", zap.String("package", name), zap.Error(err))
		}
		return "", false
	}
	return entry.Version, true
}

// List returns every readable entry sorted by name.
func (s *Store) List() ([]Entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), s.ext) {
			continue
		}
		name := strings.TrimSuffix(f.Name(), s.ext)
		entry, err := s.Lookup(name)
		if err != nil {
			s.logger.Warn("Skipping package", zap.String("file", f.Name()), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
