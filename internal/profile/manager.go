package profile

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/brunoga/deep"
	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

//go:embed builtin
var builtinFS embed.FS

var extensions = []string{".yaml", ".yml", ".json"}

// ErrNotFound is wrapped by Load when no source holds the named profile.
var ErrNotFound = errors.New("vessel profile not found")

const cacheSize = 64

// Builtin returns the profiles shipped with the binary.
func Builtin() fs.FS {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		panic(err)
	}
	return sub
}

// Manager resolves profiles by name from an ordered list of sources; earlier
// sources shadow later ones.
type Manager struct {
	sources []fs.FS

	mu    sync.Mutex
	cache *lru.Cache[string, *Profile]
}

// NewManager layers dir (if non-empty) over the built-in profiles.
func NewManager(dir string) (*Manager, error) {
	var sources []fs.FS
	if dir != "" {
		st, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("profiles dir: %w", err)
		}
		if !st.IsDir() {
			return nil, fmt.Errorf("profiles dir %s is not a directory", dir)
		}
		sources = append(sources, os.DirFS(dir))
	}
	sources = append(sources, Builtin())
	return NewManagerFS(sources...)
}

func NewManagerFS(sources ...fs.FS) (*Manager, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one profile source is required")
	}
	cache, err := lru.New[string, *Profile](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Manager{sources: sources, cache: cache}, nil
}

// AvailableProfiles lists every profile name known to the sources, sorted.
func (m *Manager) AvailableProfiles() ([]string, error) {
	seen := make(map[string]struct{})
	for _, src := range m.sources {
		entries, err := fs.ReadDir(src, ".")
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := path.Ext(e.Name())
			if !hasExtension(ext) {
				continue
			}
			seen[strings.TrimSuffix(e.Name(), ext)] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Load returns the validated profile for name. Repeated loads of the same
// name return the same *Profile; callers must treat it as read-only and use
// ApplyOverrides to derive variants.
func (m *Manager) Load(name string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.cache.Get(name); ok {
		return p, nil
	}

	b, err := m.read(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			avail, _ := m.AvailableProfiles()
			return nil, fmt.Errorf("%w: %q (available: %s)", ErrNotFound, name, strings.Join(avail, ", "))
		}
		return nil, fmt.Errorf("read vessel profile %q: %w", name, err)
	}

	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse vessel profile %q: %w", name, err)
	}
	if err := m.finish(&p); err != nil {
		return nil, err
	}
	m.cache.Add(name, &p)
	return &p, nil
}

// ApplyOverrides deep-merges overrides (nested maps keyed like the YAML
// schema) into a copy of p. p itself is never modified.
func (m *Manager) ApplyOverrides(p *Profile, overrides map[string]any) (*Profile, error) {
	if p == nil {
		return nil, fmt.Errorf("profile is nil")
	}
	out, err := deep.Copy(p)
	if err != nil {
		return nil, fmt.Errorf("copy vessel profile %q: %w", p.Name, err)
	}
	if len(overrides) == 0 {
		return out, nil
	}

	b, err := yaml.Marshal(overrides)
	if err != nil {
		return nil, fmt.Errorf("encode overrides: %w", err)
	}
	// Decoding into the populated copy merges: absent keys keep their values.
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return nil, &FieldError{Profile: p.Name, Field: "overrides", Reason: err.Error()}
	}
	if out.Performance.PolarDiagram != p.Performance.PolarDiagram || out.Type != p.Type {
		out.Polar = nil
	}
	if err := m.finish(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) finish(p *Profile) error {
	if err := validate(p); err != nil {
		return err
	}
	if p.Type == Sailboat && p.Polar == nil {
		polar, err := m.loadPolar(p.Performance.PolarDiagram)
		if err != nil {
			return &FieldError{Profile: p.Name, Field: "performance.polar_diagram", Reason: err.Error()}
		}
		p.Polar = polar
	}
	if p.Type == Powerboat {
		p.Polar = nil
	}
	p.Derived = derive(p)
	return nil
}

func (m *Manager) loadPolar(ref string) (*Polar, error) {
	b, err := m.read(path.Join("polars", ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("references unknown polar %q", ref)
		}
		return nil, err
	}
	var p Polar
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("polar %q: %w", ref, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("polar %q: %w", ref, err)
	}
	return &p, nil
}

func (m *Manager) read(name string) ([]byte, error) {
	if name == "" || strings.Contains(name, "..") {
		return nil, fs.ErrNotExist
	}
	for _, src := range m.sources {
		for _, ext := range extensions {
			b, err := fs.ReadFile(src, name+ext)
			if err == nil {
				return b, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}
	return nil, fs.ErrNotExist
}

func hasExtension(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}
