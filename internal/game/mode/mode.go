// Package mode defines game mode variants and their YAML content pipeline.
// A mode supplies the win condition a session is driven by, so new variants
// are added as content files rather than subtypes.
package mode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode describes one game variant.
type Mode struct {
	// ID is the stable identifier sessions reference.
	ID string `yaml:"id"`
	// Name is the display name shown to players.
	Name string `yaml:"name"`
	// Description is an optional flavor text.
	Description string `yaml:"description"`
	// WinScore is the score at which a participant wins the session.
	WinScore int `yaml:"win_score"`
	// Players is the required participant count. Head-to-head modes use 2.
	Players int `yaml:"players"`
}

// Validate checks the mode's invariants.
//
// Postcondition: Returns nil if the mode is well-formed.
func (m *Mode) Validate() error {
	var errs []string
	if m.ID == "" {
		errs = append(errs, "mode id must not be empty")
	}
	if m.Name == "" {
		errs = append(errs, "mode name must not be empty")
	}
	if m.WinScore < 1 {
		errs = append(errs, fmt.Sprintf("win_score must be >= 1, got %d", m.WinScore))
	}
	if m.Players < 2 {
		errs = append(errs, fmt.Sprintf("players must be >= 2, got %d", m.Players))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// IsWin reports whether score satisfies this mode's win condition.
func (m *Mode) IsWin(score int) bool {
	return score >= m.WinScore
}

// ErrModeNotFound is returned when a registry lookup yields no mode.
var ErrModeNotFound = errors.New("mode not found")

// Registry holds the loaded game modes, keyed by ID. It is populated once at
// startup and read-only afterwards.
type Registry struct {
	modes map[string]*Mode
	order []string
}

// NewRegistry creates a Registry from the given modes.
//
// Precondition: every mode must be valid; IDs must be unique.
// Postcondition: Returns a populated Registry or a non-nil error.
func NewRegistry(modes []*Mode) (*Registry, error) {
	r := &Registry{modes: make(map[string]*Mode, len(modes))}
	for _, m := range modes {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("invalid mode %q: %w", m.ID, err)
		}
		if _, exists := r.modes[m.ID]; exists {
			return nil, fmt.Errorf("duplicate mode id %q", m.ID)
		}
		r.modes[m.ID] = m
		r.order = append(r.order, m.ID)
	}
	return r, nil
}

// Get returns the mode with the given ID.
//
// Postcondition: Returns (mode, nil) if found, or ErrModeNotFound.
func (r *Registry) Get(id string) (*Mode, error) {
	m, ok := r.modes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModeNotFound, id)
	}
	return m, nil
}

// All returns the registered modes in load order.
func (r *Registry) All() []*Mode {
	out := make([]*Mode, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.modes[id])
	}
	return out
}

// Count returns the number of registered modes.
func (r *Registry) Count() int {
	return len(r.modes)
}

// LoadFromFile loads a single mode definition from a YAML file.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns a validated Mode or a non-nil error.
func LoadFromFile(path string) (*Mode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mode file: %w", err)
	}

	var m Mode
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mode YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadDirectory loads all YAML files in a directory as game modes.
//
// Precondition: dir must be a valid directory path.
// Postcondition: Returns a Registry of all validated modes or the first error
// encountered.
func LoadDirectory(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading modes directory %s: %w", dir, err)
	}

	var modes []*Mode
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		m, err := LoadFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading mode from %s: %w", name, err)
		}
		modes = append(modes, m)
	}

	if len(modes) == 0 {
		return nil, fmt.Errorf("no mode files found in %s", dir)
	}

	return NewRegistry(modes)
}
