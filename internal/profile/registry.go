package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// registryFile is the on-disk layout: one active pointer plus a mapping of
// profile name to record. The file is owned by the profile CRUD layer; the
// core reads it and writes back only to persist generated secrets.
type registryFile struct {
	Active   string              `json:"active"`
	Profiles map[string]*Profile `json:"profiles"`
}

// Registry is JSON-backed storage for server profiles.
type Registry struct {
	mu   sync.RWMutex
	path string
	data registryFile
}

// OpenRegistry loads the registry at path, creating an empty one when the
// file does not exist. Profiles are normalized and validated on load;
// normalization changes (generated secrets, defaults) are written back.
func OpenRegistry(path string) (*Registry, error) {
	r := &Registry{path: path, data: registryFile{Profiles: map[string]*Profile{}}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read profile registry: %w", err)
	}
	if err := json.Unmarshal(raw, &r.data); err != nil {
		return nil, fmt.Errorf("parse profile registry %s: %w", path, err)
	}
	if r.data.Profiles == nil {
		r.data.Profiles = map[string]*Profile{}
	}
	changed := false
	for name, p := range r.data.Profiles {
		if p.Name == "" {
			p.Name = name
			changed = true
		}
		if p.Normalize() {
			changed = true
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	if changed {
		if err := r.save(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Active returns the active profile, or nil when none is selected.
func (r *Registry) Active() *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data.Active == "" {
		return nil
	}
	return r.data.Profiles[r.data.Active]
}

// Get returns the named profile, or nil.
func (r *Registry) Get(name string) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Profiles[name]
}

// Names returns all profile names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.data.Profiles))
	for n := range r.data.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Upsert validates and stores a profile and persists the registry.
func (r *Registry) Upsert(p *Profile) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Profiles[p.Name] = p
	return r.save()
}

// SetActive marks the named profile active and persists the registry.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name != "" {
		if _, ok := r.data.Profiles[name]; !ok {
			return fmt.Errorf("unknown profile: %s", name)
		}
	}
	r.data.Active = name
	return r.save()
}

// Save persists the registry; used after in-place profile mutation such as
// secret generation.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save()
}

func (r *Registry) save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(&r.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
