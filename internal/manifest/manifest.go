// Package manifest reads package.json files and compares package versions.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// Manifest is the subset of package.json the package manager reads.
type Manifest struct {
	Name         string            `json:"name,omitempty"`
	Version      string            `json:"version"`
	Main         string            `json:"main,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Parse decodes a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// Load reads and decodes the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

// DependencyNames returns the dependency keys in sorted order. Version
// ranges in the values are ignored.
func (m *Manifest) DependencyNames() []string {
	if m == nil || len(m.Dependencies) == 0 {
		return nil
	}
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Version is a parsed major.minor.patch triple.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion splits s on dots and reads the leading digits of the first
// three parts. Missing or non-numeric parts are 0, so "1.2" is 1.2.0 and
// "2.x.7-beta" is 2.0.7.
func ParseVersion(s string) Version {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	var nums [3]int
	for i, part := range parts {
		nums[i] = leadingInt(part)
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}
}

func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// Compare returns -1, 0 or +1 as v is older than, equal to or newer than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Newer reports whether server is strictly newer than local.
func Newer(local, server string) bool {
	return ParseVersion(server).Compare(ParseVersion(local)) > 0
}
