// Package paths provides the standardized filesystem layout for installed
// packages, in-flight downloads and version-check state.
//
// Every component derives its paths from one Layout so the install tree,
// the temp root and the confinement root never drift apart.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Directory and file names under the data directory
const (
	PackagesDir    = "packages"
	TempDir        = "temp"
	UpdateFileName = "lastUpdate.log"
	ManifestName   = "package.json"
)

// Layout describes where packages live on disk.
type Layout struct {
	// Root is the data directory holding everything below.
	Root string
	// Packages is the installation root and the module confinement root.
	Packages string
	// Temp holds downloads and staged extractions.
	Temp string
	// UpdateFile persists the last version-check time.
	UpdateFile string
}

// NewLayout builds the layout under dataDir. dataDir is made absolute so
// confinement checks compare absolute paths.
func NewLayout(dataDir string) (Layout, error) {
	if dataDir == "" {
		return Layout{}, fmt.Errorf("data dir cannot be empty")
	}
	root, err := filepath.Abs(dataDir)
	if err != nil {
		return Layout{}, fmt.Errorf("resolving data dir: %w", err)
	}
	return Layout{
		Root:       root,
		Packages:   filepath.Join(root, PackagesDir),
		Temp:       filepath.Join(root, TempDir),
		UpdateFile: filepath.Join(root, UpdateFileName),
	}, nil
}

// Ensure creates the packages and temp directories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Packages, l.Temp} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// PackageDir returns the installation directory of a package.
func (l Layout) PackageDir(name string) string {
	return filepath.Join(l.Packages, name)
}

// ManifestPath returns the manifest path of an installed package.
func (l Layout) ManifestPath(name string) string {
	return filepath.Join(l.Packages, name, ManifestName)
}

// DownloadPath returns the temp file a package envelope is streamed into.
func (l Layout) DownloadPath(name, ext string) string {
	return filepath.Join(l.Temp, name+ext)
}

// StagingRoot returns the per-package temp root that holds the staged tree.
func (l Layout) StagingRoot(name string) string {
	return filepath.Join(l.Temp, "staging-"+name)
}

// StagingDir returns the directory a package is extracted into before it
// is swapped into place.
func (l Layout) StagingDir(name string) string {
	return filepath.Join(l.StagingRoot(name), name)
}

// IsInstalled reports whether the package manifest exists.
func (l Layout) IsInstalled(name string) bool {
	info, err := os.Stat(l.ManifestPath(name))
	return err == nil && !info.IsDir()
}

// Installed lists the package directories under the installation root.
func (l Layout) Installed() ([]string, error) {
	entries, err := os.ReadDir(l.Packages)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing installed packages: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Within reports whether path lies inside root (root itself included).
// Both are cleaned; neither is resolved through symlinks.
func Within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// ValidatePackageName checks that a package name is usable as a single
// directory name under the installation root.
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("package name cannot be an absolute path")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("package name %q contains path components", name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("package name %q cannot start with a dot", name)
	}
	return nil
}
