// Package prompts implements the Prompt & Config Resolver: it turns
// (stage, optional variant selections) into resolved markdown fragments,
// and (stage, optional explicit model) into an effective model
// identifier. Built-in fragments are the builtin/<stage>/*.md files
// embedded via `//go:embed builtin`; an external prompts root, when
// configured, is layered on top and wins on filename collisions.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
)

//go:embed builtin
var builtinFS embed.FS

const builtinRoot = "builtin"

// Component names the role a prompt fragment plays within a stage's call.
type Component string

const (
	ComponentSystem       Component = "system"
	ComponentUser         Component = "user"
	ComponentInstructions Component = "instructions"
	ComponentTemplate     Component = "template"
)

var knownComponents = map[Component]struct{}{
	ComponentSystem:       {},
	ComponentUser:         {},
	ComponentInstructions: {},
	ComponentTemplate:     {},
}

// Origin records whether a fragment came from the embedded defaults or an
// external override root.
type Origin string

const (
	OriginBuiltin  Origin = "builtin"
	OriginExternal Origin = "external"
)

// Fragment is one discovered prompt file: its raw content, the variant
// name ("" for the component default), and which source it was loaded
// from.
type Fragment struct {
	Component Component
	Variant   string
	Content   string
	Origin    Origin
}

// Catalog maps component -> variant name -> Fragment for one stage.
type Catalog map[Component]map[string]Fragment

// Resolved is the fully-resolved prompt set passed to a provider call.
type Resolved struct {
	System       string
	User         string
	Instructions string
	Template     string
	Origins      map[Component]Origin
}

// Resolver discovers and resolves stage prompt fragments.
type Resolver struct {
	externalRoot string
}

// NewResolver builds a Resolver. externalRoot may be empty, meaning only
// built-in fragments are available.
func NewResolver(externalRoot string) *Resolver {
	return &Resolver{externalRoot: externalRoot}
}

// Discover enumerates both the built-in and (if configured) external
// fragment sources for stage and merges them by filename; an external file
// with the same component/variant as a built-in one supersedes it.
func (r *Resolver) Discover(stage string) (Catalog, error) {
	catalog := Catalog{}

	if err := r.loadFromFS(catalog, builtinFS, filepath.Join(builtinRoot, stage), OriginBuiltin); err != nil {
		return nil, err
	}
	if r.externalRoot != "" {
		if err := r.loadFromDir(catalog, filepath.Join(r.externalRoot, stage), OriginExternal); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// Resolve discovers stage's catalog and selects, for each component, the
// variant named in variants (or the component default if absent/empty).
// Unknown stages, missing required components, or a requested variant
// that doesn't exist raise ConfigurationError.
func (r *Resolver) Resolve(stage string, required []Component, variants map[Component]string) (Resolved, error) {
	catalog, err := r.Discover(stage)
	if err != nil {
		return Resolved{}, err
	}

	resolved := Resolved{Origins: map[Component]Origin{}}
	for _, comp := range required {
		variantName := variants[comp]
		fragments, ok := catalog[comp]
		if !ok || len(fragments) == 0 {
			return Resolved{}, pipelineerr.ConfigurationError(
				fmt.Sprintf("stage %q: no %q prompt fragment available", stage, comp), nil)
		}
		frag, ok := fragments[variantName]
		if !ok {
			return Resolved{}, pipelineerr.ConfigurationError(
				fmt.Sprintf("stage %q: %q variant %q not found", stage, comp, variantName), nil)
		}
		resolved.Origins[comp] = frag.Origin
		switch comp {
		case ComponentSystem:
			resolved.System = frag.Content
		case ComponentUser:
			resolved.User = frag.Content
		case ComponentInstructions:
			resolved.Instructions = frag.Content
		case ComponentTemplate:
			resolved.Template = frag.Content
		}
	}
	return resolved, nil
}

func (r *Resolver) loadFromFS(catalog Catalog, fsys fs.FS, dir string, origin Origin) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pipelineerr.ConfigurationError(fmt.Sprintf("list prompt directory %q", dir), err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		raw, err := fs.ReadFile(fsys, filepath.Join(dir, entry.Name()))
		if err != nil {
			return pipelineerr.ConfigurationError(fmt.Sprintf("read prompt file %q", entry.Name()), err)
		}
		addFragment(catalog, entry.Name(), string(raw), origin)
	}
	return nil
}

func (r *Resolver) loadFromDir(catalog Catalog, dir string, origin Origin) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return pipelineerr.ConfigurationError(fmt.Sprintf("list external prompt directory %q", dir), err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return pipelineerr.ConfigurationError(fmt.Sprintf("read external prompt file %q", entry.Name()), err)
		}
		addFragment(catalog, entry.Name(), string(raw), origin)
	}
	return nil
}

// addFragment parses a filename like "system.md" or "system_v2.md" into a
// (component, variant) pair and records it, overwriting any existing entry
// for that (component, variant) — later sources (external) win.
func addFragment(catalog Catalog, filename, content string, origin Origin) {
	stem := strings.TrimSuffix(filename, ".md")
	comp, variant := splitComponentVariant(stem)
	if comp == "" {
		return
	}
	if catalog[comp] == nil {
		catalog[comp] = map[string]Fragment{}
	}
	catalog[comp][variant] = Fragment{Component: comp, Variant: variant, Content: content, Origin: origin}
}

func splitComponentVariant(stem string) (Component, string) {
	for comp := range knownComponents {
		name := string(comp)
		if stem == name {
			return comp, ""
		}
		if strings.HasPrefix(stem, name+"_") {
			return comp, strings.TrimPrefix(stem, name+"_")
		}
	}
	return "", ""
}

// EffectiveModel resolves a stage's model: first defined
// of {explicit step-level override, stage default, global default}. Fails
// with ConfigurationError if the chosen name is unknown to the provider
// router (isKnown), or if none of the three are set.
func EffectiveModel(explicitOverride, stageDefault, globalDefault string, isKnown func(string) bool) (string, error) {
	for _, candidate := range []string{explicitOverride, stageDefault, globalDefault} {
		if candidate == "" {
			continue
		}
		if !isKnown(candidate) {
			return "", pipelineerr.ConfigurationError(fmt.Sprintf("model %q is not known to the provider router", candidate), nil)
		}
		return candidate, nil
	}
	return "", pipelineerr.ConfigurationError("no model configured for stage", nil)
}
