package config

import (
	"fmt"
	"os"

	"github.com/ttymux/ttymux/internal/routes"
	"gopkg.in/yaml.v3"
)

// RouteEntry is one route in the declarative yaml route file.
type RouteEntry struct {
	Path    string   `yaml:"path"`
	Command []string `yaml:"command"`
	Args    []string `yaml:"args"`
	Title   string   `yaml:"title"`
	Dynamic bool     `yaml:"dynamic"`
	Port    int      `yaml:"port"`
}

// RoutesFile is the top-level structure of the yaml route file.
type RoutesFile struct {
	Routes []RouteEntry `yaml:"routes"`
}

// LoadRoutes parses the route file and returns validated route configs:
// paths normalized, duplicates rejected, commands required. The core trusts
// the result thereafter.
func LoadRoutes(path string) ([]*routes.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routes file: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes validates the raw yaml route list.
func ParseRoutes(data []byte) ([]*routes.Config, error) {
	var file RoutesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing routes file: %w", err)
	}
	if len(file.Routes) == 0 {
		return nil, fmt.Errorf("routes file defines no routes")
	}

	seen := make(map[string]bool, len(file.Routes))
	cfgs := make([]*routes.Config, 0, len(file.Routes))
	for _, entry := range file.Routes {
		p := routes.NormalizePath(entry.Path)
		if seen[p] {
			return nil, fmt.Errorf("duplicate route path %q", p)
		}
		seen[p] = true
		if len(entry.Command) == 0 {
			return nil, fmt.Errorf("route %q has no command", p)
		}
		cfgs = append(cfgs, &routes.Config{
			RoutePath: p,
			Command:   entry.Command,
			Args:      entry.Args,
			Title:     entry.Title,
			Dynamic:   entry.Dynamic,
			Port:      entry.Port,
		})
	}
	return cfgs, nil
}
