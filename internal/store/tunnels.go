package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/agenttunnel/gateway/internal/gwerrors"
)

// TunnelRegistry is the Tunnel Registry (§3, §6.2): named policy bundles,
// keyed by tunnel name, guarded by a single RWMutex. Reads dominate writes
// by a wide margin (every request reads one tunnel; tunnels change only
// through the orchestrator API), so a single coarse lock is the right
// shape here rather than the striping the Pipeline Run Store needs.
type TunnelRegistry struct {
	mu     sync.RWMutex
	path   string
	byName map[string]Tunnel
}

// LoadTunnelRegistry reads path (if it exists) into a new TunnelRegistry.
func LoadTunnelRegistry(path string) (*TunnelRegistry, error) {
	r := &TunnelRegistry{path: path, byName: make(map[string]Tunnel)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading tunnels file: %w", err)
	}

	var raw map[string]Tunnel
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing tunnels file: %w", err)
	}
	for name, t := range raw {
		t.Name = name
		r.byName[name] = t
	}
	return r, nil
}

// Get returns the named tunnel, or ErrTunnelUnknown if it doesn't exist.
func (r *TunnelRegistry) Get(name string) (Tunnel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return Tunnel{}, gwerrors.ErrTunnelUnknown
	}
	return t, nil
}

// List returns every tunnel, sorted by name.
func (r *TunnelRegistry) List() []Tunnel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tunnel, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Put creates or replaces a tunnel definition.
func (r *TunnelRegistry) Put(t Tunnel) error {
	if t.Name == "" {
		return fmt.Errorf("tunnel name is required")
	}

	r.mu.Lock()
	existing, had := r.byName[t.Name]
	if had {
		t.CreatedAt = existing.CreatedAt
	} else {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = time.Now().UTC()
	r.byName[t.Name] = t
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	return r.persist(snapshot)
}

// Delete removes a tunnel definition.
func (r *TunnelRegistry) Delete(name string) error {
	r.mu.Lock()
	if _, ok := r.byName[name]; !ok {
		r.mu.Unlock()
		return gwerrors.ErrNotFound
	}
	delete(r.byName, name)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	return r.persist(snapshot)
}

// ReplaceAll swaps the entire registry contents atomically — used by
// internal/watcher when the tunnels file changes on disk out-of-band.
func (r *TunnelRegistry) ReplaceAll(tunnels map[string]Tunnel) {
	r.mu.Lock()
	r.byName = tunnels
	r.mu.Unlock()
}

// Snapshot returns this registry's contents as a plain map, for handing to
// another registry's ReplaceAll.
func (r *TunnelRegistry) Snapshot() map[string]Tunnel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *TunnelRegistry) snapshotLocked() map[string]Tunnel {
	out := make(map[string]Tunnel, len(r.byName))
	for k, v := range r.byName {
		out[k] = v
	}
	return out
}

func (r *TunnelRegistry) persist(snapshot map[string]Tunnel) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tunnels: %w", err)
	}
	return writeFileAtomic(r.path, data, 0o644)
}
