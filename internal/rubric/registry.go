// Package rubric loads role-specific rubrics and selects the one that applies
// to a call.
package rubric

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"call-coach-go/internal/types"
)

// DefaultRole is used when a call's staff role has no rubric of its own.
const DefaultRole = "default"

var ErrNoRubric = errors.New("no rubric for role")

// Registry holds validated rubrics keyed by normalized role.
type Registry struct {
	mu     sync.RWMutex
	byRole map[string]types.Rubric
}

func NewRegistry() *Registry {
	return &Registry{byRole: make(map[string]types.Rubric)}
}

// Register validates r and stores it under its role. An empty role registers
// the default rubric.
func (g *Registry) Register(r types.Rubric) error {
	if err := r.Validate(); err != nil {
		return err
	}
	role := normRole(r.Role)
	if role == "" {
		role = DefaultRole
	}
	g.mu.Lock()
	g.byRole[role] = r
	g.mu.Unlock()
	return nil
}

// For returns the rubric for role, falling back to the default rubric.
func (g *Registry) For(role string) (types.Rubric, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if r, ok := g.byRole[normRole(role)]; ok {
		return r, nil
	}
	if r, ok := g.byRole[DefaultRole]; ok {
		return r, nil
	}
	return types.Rubric{}, fmt.Errorf("%w %q", ErrNoRubric, role)
}

// Roles lists registered roles in order.
func (g *Registry) Roles() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.byRole))
	for role := range g.byRole {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func normRole(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type yamlFile struct {
	Rubrics []types.Rubric `yaml:"rubrics"`
}

// LoadYAML reads either a single rubric document or a {rubrics: [...]} list.
func LoadYAML(path string) ([]types.Rubric, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric file: %w", err)
	}
	return ParseYAML(raw)
}

func ParseYAML(raw []byte) ([]types.Rubric, error) {
	var list yamlFile
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode rubric yaml: %w", err)
	}
	if len(list.Rubrics) > 0 {
		return list.Rubrics, nil
	}
	var one types.Rubric
	if err := yaml.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("decode rubric yaml: %w", err)
	}
	return []types.Rubric{one}, nil
}

// LoadInto loads every rubric at path into g, choosing the reader by extension.
// Any invalid rubric fails the whole load.
func LoadInto(g *Registry, path string) (int, error) {
	var (
		rubrics []types.Rubric
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rubrics, err = LoadWorkbook(path)
	default:
		rubrics, err = LoadYAML(path)
	}
	if err != nil {
		return 0, err
	}
	for _, r := range rubrics {
		if err := g.Register(r); err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
	}
	return len(rubrics), nil
}
