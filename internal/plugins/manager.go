package plugins

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/feedhaven/feedhaven/internal/transport"
)

// Manager loads plugins from a directory tree and resolves feed fetchers
// by plugin id. It implements transport.FetcherResolver.
type Manager struct {
	dir       string
	userAgent string

	mu       sync.RWMutex
	runtimes map[string]*Runtime
}

// NewManager creates a manager rooted at the given plugins directory.
func NewManager(dir, userAgent string) *Manager {
	return &Manager{
		dir:       dir,
		userAgent: userAgent,
		runtimes:  make(map[string]*Runtime),
	}
}

// LoadPlugins scans the plugins directory for subdirectories containing a
// plugin.json and loads each one. Individual plugin failures are logged
// and skipped; they never abort the scan.
func (m *Manager) LoadPlugins() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Plugins directory %s does not exist, skipping plugin load.", m.dir)
			return nil
		}
		return fmt.Errorf("failed to read plugins directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(m.dir, entry.Name())
		if _, err := os.Stat(filepath.Join(pluginDir, manifestFileName)); err != nil {
			continue
		}
		if err := m.loadPlugin(pluginDir); err != nil {
			log.Printf("Failed to load plugin from %s: %v", pluginDir, err)
		}
	}

	return nil
}

func (m *Manager) loadPlugin(pluginDir string) error {
	manifest, err := LoadManifest(pluginDir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runtimes[manifest.ID]; exists {
		return fmt.Errorf("plugin with id %q is already loaded", manifest.ID)
	}

	runtime, err := NewRuntime(manifest, pluginDir, m.userAgent)
	if err != nil {
		return err
	}
	m.runtimes[manifest.ID] = runtime
	log.Printf("Loaded plugin %q (%s %s)", manifest.ID, manifest.Name, manifest.Version)
	return nil
}

// Register adds an already-constructed runtime. Used by tests.
func (m *Manager) Register(runtime *Runtime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := runtime.Manifest().ID
	if _, exists := m.runtimes[id]; exists {
		return fmt.Errorf("plugin with id %q is already loaded", id)
	}
	m.runtimes[id] = runtime
	return nil
}

// Unload removes one plugin.
func (m *Manager) Unload(id string) {
	m.mu.Lock()
	delete(m.runtimes, id)
	m.mu.Unlock()
}

// Manifests lists the manifests of all loaded plugins.
func (m *Manager) Manifests() []*Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Manifest, 0, len(m.runtimes))
	for _, r := range m.runtimes {
		out = append(out, r.Manifest())
	}
	return out
}

// ResolveFeedFetcher returns a single-use feed fetcher bound to the plugin
// with the given id.
func (m *Manager) ResolveFeedFetcher(pluginID string) (transport.FeedFetcher, error) {
	m.mu.RLock()
	runtime, ok := m.runtimes[pluginID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin %q not found", pluginID)
	}
	return newFeedFetch(runtime), nil
}
