package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenttunnel/gateway/internal/gwerrors"
)

// CredentialStore is the Credential Store (§3, §6.1): a read-mostly
// collection of API keys keyed by the opaque key string itself, guarded by
// a single RWMutex following the in-memory map pattern this gateway's
// ancestor framework uses for its component registry.
type CredentialStore struct {
	mu    sync.RWMutex
	path  string
	byKey map[string]Credential
}

// LoadCredentialStore reads path (if it exists) into a new CredentialStore.
// A missing file is treated as an empty store so a fresh deployment can
// start with no credentials provisioned yet.
func LoadCredentialStore(path string) (*CredentialStore, error) {
	s := &CredentialStore{path: path, byKey: make(map[string]Credential)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var raw map[string]Credential
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	for key, c := range raw {
		c.Key = key
		s.byKey[key] = c
	}
	return s, nil
}

// Lookup returns the credential for key, or ErrAuthInvalid if it doesn't
// exist. The caller distinguishes "unknown" from "revoked" themselves via
// Active.
func (s *CredentialStore) Lookup(key string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byKey[key]
	if !ok {
		return Credential{}, gwerrors.ErrAuthInvalid
	}
	return c, nil
}

// List returns every credential, redacted, sorted by name for stable
// output. tunnelFilter, if non-empty, restricts the result to credentials
// scoped to that tunnel (§9's ?tunnel= filter).
func (s *CredentialStore) List(tunnelFilter string) []Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Credential, 0, len(s.byKey))
	for _, c := range s.byKey {
		if tunnelFilter != "" && c.Tunnel != tunnelFilter {
			continue
		}
		out = append(out, c.Redacted())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Create mints a new opaque API key and persists it. The key is the only
// place the plaintext secret is ever returned to a caller.
func (s *CredentialStore) Create(name string, tier Tier, tunnel string, dailyLimit int, createdBy string) (Credential, error) {
	key := generateKey(tier)

	c := Credential{
		Key:        key,
		Name:       name,
		Tier:       tier,
		Tunnel:     tunnel,
		DailyLimit: dailyLimit,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
		CreatedBy:  createdBy,
	}

	s.mu.Lock()
	s.byKey[key] = c
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.persist(snapshot); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// Revoke marks a credential inactive without deleting it, so its usage
// history and audit trail survive.
func (s *CredentialStore) Revoke(key string) error {
	s.mu.Lock()
	c, ok := s.byKey[key]
	if !ok {
		s.mu.Unlock()
		return gwerrors.ErrNotFound
	}
	c.Active = false
	s.byKey[key] = c
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(snapshot)
}

// Delete removes a credential entirely.
func (s *CredentialStore) Delete(key string) error {
	s.mu.Lock()
	if _, ok := s.byKey[key]; !ok {
		s.mu.Unlock()
		return gwerrors.ErrNotFound
	}
	delete(s.byKey, key)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	return s.persist(snapshot)
}

// ReplaceAll swaps the entire store contents atomically — used by
// internal/watcher when the credentials file changes on disk out-of-band.
func (s *CredentialStore) ReplaceAll(creds map[string]Credential) {
	s.mu.Lock()
	s.byKey = creds
	s.mu.Unlock()
}

// Snapshot returns this store's contents as a plain map, for handing to
// another store's ReplaceAll.
func (s *CredentialStore) Snapshot() map[string]Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// snapshotLocked copies the map for persistence outside the lock. Caller
// must hold s.mu (read or write).
func (s *CredentialStore) snapshotLocked() map[string]Credential {
	out := make(map[string]Credential, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}

func (s *CredentialStore) persist(snapshot map[string]Credential) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	return writeFileAtomic(s.path, data, 0o600)
}

// generateKey produces an opaque, tier-prefixed API key. The prefix is
// purely cosmetic (aids operators skimming a credential list); nothing in
// the Policy Evaluator parses it.
func generateKey(tier Tier) string {
	prefix := "wk"
	if tier == TierOrchestrator {
		prefix = "orch"
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UTC().Unix(), uuid.NewString())
}
