// Package catalog holds the registry of calculators offered by the application.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tools.yaml
var embeddedTools []byte

// ErrToolNotFound is returned when a slug is not registered.
var ErrToolNotFound = errors.New("calculator not found")

// Category groups calculators on the home page.
type Category string

const (
	CategoryFinancial    Category = "Financial"
	CategoryHealth       Category = "Health & Fitness"
	CategoryMath         Category = "Math & General"
	CategoryConstruction Category = "Construction & Home"
	CategoryLifestyle    Category = "Lifestyle"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryFinancial,
	CategoryHealth,
	CategoryMath,
	CategoryConstruction,
	CategoryLifestyle,
}

func (c Category) valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Tool describes one calculator.
type Tool struct {
	Slug        string   `yaml:"slug" json:"slug"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
	Category    Category `yaml:"category" json:"category"`
}

// Group is a category with the tools that belong to it.
type Group struct {
	Category Category `json:"category"`
	Tools    []Tool   `json:"tools"`
}

// Registry is an immutable, ordered set of tools indexed by slug.
type Registry struct {
	tools  []Tool
	bySlug map[string]int
}

type document struct {
	Tools []Tool `yaml:"tools"`
}

// Default returns the registry shipped with the binary.
func Default() *Registry {
	reg, err := Parse(embeddedTools)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded tools.yaml: %v", err))
	}
	return reg
}

// LoadFile reads a registry from a YAML file on disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load reads a registry from YAML.
func Load(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a registry from a YAML document with a top-level "tools" list.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(doc.Tools)
}

// New validates tools and builds a registry preserving their order.
func New(tools []Tool) (*Registry, error) {
	reg := &Registry{
		tools:  make([]Tool, 0, len(tools)),
		bySlug: make(map[string]int, len(tools)),
	}
	for i, tool := range tools {
		tool.Slug = strings.TrimSpace(tool.Slug)
		switch {
		case tool.Slug == "":
			return nil, fmt.Errorf("tool %d: slug is required", i)
		case strings.TrimSpace(tool.Name) == "":
			return nil, fmt.Errorf("tool %q: name is required", tool.Slug)
		case !tool.Category.valid():
			return nil, fmt.Errorf("tool %q: unknown category %q", tool.Slug, tool.Category)
		}
		if _, dup := reg.bySlug[tool.Slug]; dup {
			return nil, fmt.Errorf("tool %q: duplicate slug", tool.Slug)
		}
		reg.bySlug[tool.Slug] = len(reg.tools)
		reg.tools = append(reg.tools, tool)
	}
	return reg, nil
}

// Len reports the number of tools.
func (r *Registry) Len() int { return len(r.tools) }

// Exists reports whether slug is registered.
func (r *Registry) Exists(slug string) bool {
	_, ok := r.bySlug[slug]
	return ok
}

// Lookup returns the tool registered under slug.
func (r *Registry) Lookup(slug string) (Tool, error) {
	idx, ok := r.bySlug[slug]
	if !ok {
		return Tool{}, ErrToolNotFound
	}
	return r.tools[idx], nil
}

// All returns every tool in registry order.
func (r *Registry) All() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Search returns tools whose name or any keyword contains term, ignoring case.
// An empty term matches everything.
func (r *Registry) Search(term string) []Tool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return r.All()
	}
	out := make([]Tool, 0)
	for _, tool := range r.tools {
		if matches(tool, term) {
			out = append(out, tool)
		}
	}
	return out
}

// Grouped returns the search results for term grouped by category in display order.
// Categories without matches are omitted.
func (r *Registry) Grouped(term string) []Group {
	matched := r.Search(term)
	groups := make([]Group, 0, len(Categories))
	for _, category := range Categories {
		var tools []Tool
		for _, tool := range matched {
			if tool.Category == category {
				tools = append(tools, tool)
			}
		}
		if len(tools) > 0 {
			groups = append(groups, Group{Category: category, Tools: tools})
		}
	}
	return groups
}

func matches(tool Tool, term string) bool {
	if strings.Contains(strings.ToLower(tool.Name), term) {
		return true
	}
	for _, keyword := range tool.Keywords {
		if strings.Contains(strings.ToLower(keyword), term) {
			return true
		}
	}
	return false
}
