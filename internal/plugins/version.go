package plugins

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// APIVersion is the host API version offered to plugins. Plugins declare
// the version they target; only the major component must match.
const APIVersion = "1.0.0"

// CheckAPIVersion reports whether a plugin written against the given API
// version can run on this host.
func CheckAPIVersion(declared string) error {
	host, err := semver.NewVersion(APIVersion)
	if err != nil {
		return fmt.Errorf("invalid host api version %q: %w", APIVersion, err)
	}
	plugin, err := semver.NewVersion(declared)
	if err != nil {
		return fmt.Errorf("invalid api_version %q: %w", declared, err)
	}
	if plugin.Major() != host.Major() {
		return fmt.Errorf("api_version %s is incompatible with host api %s", declared, APIVersion)
	}
	return nil
}
