package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/manifest"
)

// PackageInfo summarizes one installed package.
type PackageInfo struct {
	Name         string
	Version      string
	Dependencies []string
	Files        int
	Bytes        int64
}

// Inventory lists the installed packages with their manifest version and
// on-disk footprint.
func (m *Manager) Inventory() ([]PackageInfo, error) {
	names, err := m.layout.Installed()
	if err != nil {
		return nil, err
	}

	infos := make(map[string]*PackageInfo, len(names))
	for _, name := range names {
		info := &PackageInfo{Name: name}
		if mf, err := manifest.Load(m.layout.ManifestPath(name)); err == nil {
			info.Version = mf.Version
			info.Dependencies = mf.DependencyNames()
		}
		infos[name] = info
	}
	if len(infos) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	root := m.layout.Packages
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		pkg, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		fi, err := d.Info()
		if err != nil {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		if info, ok := infos[pkg]; ok {
			info.Files++
			info.Bytes += fi.Size()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking packages: %w", err)
	}

	out := make([]PackageInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
