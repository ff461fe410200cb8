// Package plugins hosts JavaScript feed-fetch plugins in goja VMs. Each
// plugin lives in its own directory containing a plugin.json manifest and
// a script exporting getFeed(settings).
package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest describes a plugin: identity, entry point and the host API
// version it was written against.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	APIVersion  string `json:"api_version"`
	EntryPoint  string `json:"entry_point"`
}

const manifestFileName = "plugin.json"

// LoadManifest reads and validates a plugin directory's manifest.
func LoadManifest(pluginDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(pluginDir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse plugin manifest: %w", err)
	}

	if m.ID == "" {
		return nil, fmt.Errorf("plugin manifest missing id")
	}
	if m.EntryPoint == "" {
		return nil, fmt.Errorf("plugin %q manifest missing entry_point", m.ID)
	}
	if m.APIVersion == "" {
		return nil, fmt.Errorf("plugin %q manifest missing api_version", m.ID)
	}

	return &m, nil
}
