// Package catalog holds the read-only course catalog: modules, quizzes and
// tracks loaded from YAML. Modules are totally ordered by their position in
// the loaded sequence; the unlock chain in the progress store relies on that
// order.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Catalog is an immutable, ordered registry of course modules.
type Catalog struct {
	modules      []Module
	position     map[string]int
	descriptions map[string]string
}

// Load reads every track YAML under rootDir (sorted by file name, so file
// naming fixes the track order) and builds the catalog.
func Load(rootDir string) (*Catalog, error) {
	var paths []string
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning catalog dir: %w", err)
	}
	sort.Strings(paths)

	c := &Catalog{
		position:     make(map[string]int),
		descriptions: make(map[string]string),
	}
	for _, path := range paths {
		if err := c.loadTrackFile(path); err != nil {
			return nil, err
		}
	}
	if len(c.modules) == 0 {
		return nil, fmt.Errorf("no modules found under %s", rootDir)
	}

	slog.Info("catalog loaded", "modules", len(c.modules), "tracks", len(c.descriptions))
	return c, nil
}

// New builds a catalog directly from an ordered module slice. Used by tests
// and by callers that embed their own content.
func New(modules []Module) (*Catalog, error) {
	c := &Catalog{
		position:     make(map[string]int),
		descriptions: make(map[string]string),
	}
	for _, m := range modules {
		if err := c.add(m); err != nil {
			return nil, err
		}
	}
	if len(c.modules) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	return c, nil
}

func (c *Catalog) loadTrackFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var tf trackFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		slog.Warn("skipping invalid catalog YAML", "path", path, "error", err)
		return nil
	}
	if len(tf.Modules) == 0 {
		return nil // Not a track file
	}

	if tf.Description != "" {
		c.descriptions[tf.Track] = tf.Description
	}
	for _, m := range tf.Modules {
		if m.Track == "" {
			m.Track = tf.Track
		}
		if err := c.add(m); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func (c *Catalog) add(m Module) error {
	if m.ID == "" {
		return fmt.Errorf("module without id")
	}
	if _, dup := c.position[m.ID]; dup {
		return fmt.Errorf("duplicate module id %q", m.ID)
	}
	for i, q := range m.Quiz {
		if q.Correct < 0 || q.Correct >= len(q.Options) {
			return fmt.Errorf("module %s question %d: correct index %d out of range", m.ID, i, q.Correct)
		}
	}
	c.position[m.ID] = len(c.modules)
	c.modules = append(c.modules, m)
	return nil
}

// Modules returns all modules in catalog order.
func (c *Catalog) Modules() []Module {
	return append([]Module{}, c.modules...)
}

// ModuleByID returns a module by its id.
func (c *Catalog) ModuleByID(id string) (Module, bool) {
	i, ok := c.position[id]
	if !ok {
		return Module{}, false
	}
	return c.modules[i], true
}

// Position returns the zero-based catalog position of a module.
func (c *Catalog) Position(id string) (int, bool) {
	i, ok := c.position[id]
	return i, ok
}

// First returns the first module in catalog order.
func (c *Catalog) First() Module {
	return c.modules[0]
}

// Prev returns the module immediately preceding id, if any.
func (c *Catalog) Prev(id string) (Module, bool) {
	i, ok := c.position[id]
	if !ok || i == 0 {
		return Module{}, false
	}
	return c.modules[i-1], true
}

// Next returns the module immediately following id, if any.
func (c *Catalog) Next(id string) (Module, bool) {
	i, ok := c.position[id]
	if !ok || i+1 >= len(c.modules) {
		return Module{}, false
	}
	return c.modules[i+1], true
}

// ModulesByTrack returns the modules of one track in catalog order.
func (c *Catalog) ModulesByTrack(track string) []Module {
	var out []Module
	for _, m := range c.modules {
		if m.Track == track {
			out = append(out, m)
		}
	}
	return out
}

// Tracks returns the distinct tracks in order of first appearance.
func (c *Catalog) Tracks() []Track {
	titler := cases.Title(language.English)
	var tracks []Track
	seen := make(map[string]int)
	for _, m := range c.modules {
		i, ok := seen[m.Track]
		if !ok {
			i = len(tracks)
			seen[m.Track] = i
			tracks = append(tracks, Track{
				ID:          m.Track,
				Title:       titler.String(m.Track) + " Track",
				Description: c.descriptions[m.Track],
			})
		}
		tracks[i].Modules = append(tracks[i].Modules, m)
	}
	return tracks
}
