// Package watcher implements the Config Watcher (§4.6): it monitors the
// directories containing the tunnel and credential files for out-of-band
// edits and reloads them atomically. It watches directories rather than
// the files themselves because most editors (and `kubectl cp`, and
// ConfigMap projections) replace a file by renaming a new one over it,
// which a file-level watch can silently miss once the original inode is
// gone.
package watcher

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/agenttunnel/gateway/internal/gwlog"
	"github.com/agenttunnel/gateway/internal/store"
)

// Watcher reloads the Tunnel Registry and Credential Store when their
// backing files change on disk.
type Watcher struct {
	fsw         *fsnotify.Watcher
	tunnels     *store.TunnelRegistry
	credentials *store.CredentialStore
	tunnelsPath string
	credsPath   string
	log         gwlog.Logger
	done        chan struct{}
}

// New creates a Watcher and starts watching the directories containing
// tunnelsPath and credsPath. It does not reload on creation — the stores
// passed in are assumed already loaded from disk once at startup.
func New(tunnels *store.TunnelRegistry, credentials *store.CredentialStore, tunnelsPath, credsPath string, log gwlog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := map[string]struct{}{
		filepath.Dir(tunnelsPath): {},
		filepath.Dir(credsPath):   {},
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &Watcher{
		fsw:         fsw,
		tunnels:     tunnels,
		credentials: credentials,
		tunnelsPath: filepath.Clean(tunnelsPath),
		credsPath:   filepath.Clean(credsPath),
		log:         log.WithComponent("watcher"),
		done:        make(chan struct{}),
	}
	return w, nil
}

// Run processes filesystem events until Stop is called. Intended to be
// run in its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", map[string]interface{}{"error": err.Error()})
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	path := filepath.Clean(event.Name)
	switch path {
	case w.tunnelsPath:
		w.reloadTunnels()
	case w.credsPath:
		w.reloadCredentials()
	}
}

func (w *Watcher) reloadTunnels() {
	fresh, err := store.LoadTunnelRegistry(w.tunnelsPath)
	if err != nil {
		w.log.Warn("failed to reload tunnels file, retaining prior contents", map[string]interface{}{"error": err.Error()})
		return
	}
	w.tunnels.ReplaceAll(fresh.Snapshot())
	w.log.Info("reloaded tunnels file", nil)
}

func (w *Watcher) reloadCredentials() {
	fresh, err := store.LoadCredentialStore(w.credsPath)
	if err != nil {
		w.log.Warn("failed to reload credentials file, retaining prior contents", map[string]interface{}{"error": err.Error()})
		return
	}
	w.credentials.ReplaceAll(fresh.Snapshot())
	w.log.Info("reloaded credentials file", nil)
}

// Stop halts Run and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsw.Close()
}
