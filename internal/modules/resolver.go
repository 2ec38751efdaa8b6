package modules

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/manifest"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/paths"
)

// Resolver maps require requests to files below Root.
type Resolver struct {
	root string

	mu         sync.RWMutex
	extensions []string
	pathCache  map[string]string             // Protected by mu
	pkgCache   map[string]*manifest.Manifest // Protected by mu
}

// NewResolver creates a resolver confined to root.
func NewResolver(root string, extensions ...string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.InvalidArguments, "", "resolving module root", err)
	}
	return &Resolver{
		root:       abs,
		extensions: append([]string(nil), extensions...),
		pathCache:  make(map[string]string),
		pkgCache:   make(map[string]*manifest.Manifest),
	}, nil
}

// Root returns the confinement root.
func (r *Resolver) Root() string {
	return r.root
}

// SetExtensions replaces the extension search order and drops cached hits.
func (r *Resolver) SetExtensions(exts []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions = append([]string(nil), exts...)
	r.pathCache = make(map[string]string)
}

// Extensions returns the extension search order.
func (r *Resolver) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.extensions...)
}

// Reset drops the path and package caches.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pathCache = make(map[string]string)
	r.pkgCache = make(map[string]*manifest.Manifest)
}

// LookupPaths returns the directories request is resolved against.
func (r *Resolver) LookupPaths(request string, parent *Module) []string {
	switch {
	case filepath.IsAbs(request):
		return []string{r.root}
	case isRelative(request):
		if parent == nil || parent.Filename == "" {
			return []string{r.root}
		}
		return []string{filepath.Dir(parent.Filename)}
	default:
		var lookup []string
		if parent != nil {
			lookup = append(lookup, parent.Paths...)
		}
		return append(lookup, r.root)
	}
}

// Resolve returns the absolute, symlink-free filename request refers to.
func (r *Resolver) Resolve(request string, parent *Module) (string, error) {
	if request == "" {
		return "", errdefs.New(errdefs.InvalidArguments, "", "empty module request")
	}

	lookup := r.LookupPaths(request, parent)
	key := request + "\x00" + strings.Join(lookup, "\x00")

	r.mu.RLock()
	cached, ok := r.pathCache[key]
	exts := r.extensions
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	trailingSlash := strings.HasSuffix(request, "/")
	for _, dir := range lookup {
		base := filepath.Join(dir, request)
		if filepath.IsAbs(request) {
			base = filepath.Clean(request)
		}
		if !r.contains(base) {
			return "", errdefs.Newf(errdefs.AccessDenied, "", "access denied: %s", request)
		}

		filename, err := r.find(base, exts, trailingSlash)
		if err != nil {
			return "", err
		}
		if filename == "" {
			continue
		}
		if !r.contains(filename) {
			return "", errdefs.Newf(errdefs.AccessDenied, "", "access denied: %s", request)
		}

		r.mu.Lock()
		r.pathCache[key] = filename
		r.mu.Unlock()
		return filename, nil
	}

	return "", errdefs.Newf(errdefs.NotFound, "", "could not find module %s", request)
}

func (r *Resolver) find(base string, exts []string, trailingSlash bool) (string, error) {
	if !trailingSlash {
		if f := tryFile(base); f != "" {
			return f, nil
		}
		if f := tryExtensions(base, exts); f != "" {
			return f, nil
		}
	}
	f, err := r.tryPackage(base, exts)
	if err != nil || f != "" {
		return f, err
	}
	return tryExtensions(filepath.Join(base, "index"), exts), nil
}

// tryPackage follows the "main" entry of dir/package.json.
func (r *Resolver) tryPackage(dir string, exts []string) (string, error) {
	pkg, err := r.readPackage(dir)
	if err != nil || pkg == nil || pkg.Main == "" {
		return "", err
	}
	main := pkg.Main
	if !filepath.IsAbs(main) {
		main = filepath.Join(dir, main)
	}
	if f := tryFile(main); f != "" {
		return f, nil
	}
	if f := tryExtensions(main, exts); f != "" {
		return f, nil
	}
	return tryExtensions(filepath.Join(main, "index"), exts), nil
}

// readPackage returns the parsed manifest of dir, or nil when there is
// none. Only parsed manifests are cached so a package installed later is
// still found.
func (r *Resolver) readPackage(dir string) (*manifest.Manifest, error) {
	r.mu.RLock()
	pkg, ok := r.pkgCache[dir]
	r.mu.RUnlock()
	if ok {
		return pkg, nil
	}

	jsonPath := filepath.Join(dir, paths.ManifestName)
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, nil
	}
	pkg, err = manifest.Parse(data)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.InvalidArguments, "", "error parsing "+jsonPath, err)
	}

	r.mu.Lock()
	r.pkgCache[dir] = pkg
	r.mu.Unlock()
	return pkg, nil
}

// contains reports whether p lies under the root, comparing against the
// root both as configured and with its symlinks evaluated.
func (r *Resolver) contains(p string) bool {
	if paths.Within(r.root, p) {
		return true
	}
	real, err := filepath.EvalSymlinks(r.root)
	return err == nil && paths.Within(real, p)
}

// tryFile returns the real path of p if it is an existing non-directory.
func tryFile(p string) string {
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return ""
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return ""
	}
	return real
}

func tryExtensions(p string, exts []string) string {
	for _, ext := range exts {
		if f := tryFile(p + ext); f != "" {
			return f
		}
	}
	return ""
}

func isRelative(request string) bool {
	return strings.HasPrefix(request, "./") || strings.HasPrefix(request, "..")
}

// PackageName returns the package a bare request refers to, or "" for
// absolute and relative requests.
func PackageName(request string) string {
	if request == "" || filepath.IsAbs(request) || isRelative(request) || request == "." {
		return ""
	}
	name, _, _ := strings.Cut(request, "/")
	if paths.ValidatePackageName(name) != nil {
		return ""
	}
	return name
}
