// Package stack is the thin façade over the compose deployment: parsing the
// compose definition, invoking the compose CLI, and reporting service state.
// It keeps no state machine of its own beyond what the container runtime
// reports.
package stack

import (
	"fmt"
	"os"
	"sort"

	"github.com/ghodss/yaml"
	"github.com/samber/lo"
)

// ComposeFile is the subset of the compose model the bundler needs: which
// services exist and which named volumes hold persistent data.
type ComposeFile struct {
	Services map[string]ComposeService `json:"services"`
	Volumes  map[string]ComposeVolume  `json:"volumes"`
}

// ComposeService carries the fields used for status reporting and image
// validation.
type ComposeService struct {
	Image         string `json:"image"`
	ContainerName string `json:"container_name"`
}

// ComposeVolume is a top-level named volume declaration. Name overrides the
// runtime volume name; otherwise compose prefixes the key with the project
// name.
type ComposeVolume struct {
	Name     string `json:"name"`
	External bool   `json:"external"`
}

// ParseComposeFile reads and parses the compose definition at path.
func ParseComposeFile(path string) (*ComposeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file %s: %w", path, err)
	}

	var cf ComposeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse compose file %s: %w", path, err)
	}
	if len(cf.Services) == 0 {
		return nil, fmt.Errorf("compose file %s declares no services", path)
	}
	return &cf, nil
}

// ServiceNames returns the declared services in stable order.
func (c *ComposeFile) ServiceNames() []string {
	names := lo.Keys(c.Services)
	sort.Strings(names)
	return names
}

// VolumeNames returns the runtime names of all declared named volumes, in
// stable order. This is the bundler's "known volume set": a valid bundle
// must contain exactly one snapshot per name returned here.
func (c *ComposeFile) VolumeNames(project string) []string {
	names := make([]string, 0, len(c.Volumes))
	for key, vol := range c.Volumes {
		if vol.Name != "" {
			names = append(names, vol.Name)
			continue
		}
		names = append(names, project+"_"+key)
	}
	sort.Strings(names)
	return names
}

// Images returns the distinct image references used by the services.
func (c *ComposeFile) Images() []string {
	images := lo.FilterMap(lo.Values(c.Services), func(s ComposeService, _ int) (string, bool) {
		return s.Image, s.Image != ""
	})
	images = lo.Uniq(images)
	sort.Strings(images)
	return images
}
