package treesitter

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rohankatakam/codegraph/internal/models"
)

// Plugin parses one language into the canonical entity model.
// Parse never panics and never returns an error: failures are reported
// through ParseResult.Errors and such a result carries no entities.
type Plugin interface {
	Language() string
	Extensions() []string
	CanParse(filePath string) bool
	Parse(ctx context.Context, filePath, projectRoot string) *models.ParseResult
	Version() string
}

// Registry routes files to the first registered plugin that accepts them
type Registry struct {
	plugins []Plugin
}

// NewRegistry creates a registry with the given plugins in priority order
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{}
	for _, p := range plugins {
		r.Register(p)
	}
	return r
}

// DefaultRegistry returns the built-in Python, JavaScript and TypeScript plugins
func DefaultRegistry() *Registry {
	return NewRegistry(NewPythonPlugin(), NewJavaScriptPlugin(), NewTypeScriptPlugin())
}

// Register appends a plugin; earlier plugins win on overlapping extensions
func (r *Registry) Register(p Plugin) {
	if p != nil {
		r.plugins = append(r.plugins, p)
	}
}

// PluginFor returns the plugin for a file, or nil when no plugin accepts it
func (r *Registry) PluginFor(filePath string) Plugin {
	for _, p := range r.plugins {
		if p.CanParse(filePath) {
			return p
		}
	}
	return nil
}

// ForLanguages returns a registry restricted to the named languages.
// An empty list keeps every plugin.
func (r *Registry) ForLanguages(languages []string) *Registry {
	if len(languages) == 0 {
		return NewRegistry(r.plugins...)
	}
	want := make(map[string]bool, len(languages))
	for _, l := range languages {
		want[strings.ToLower(strings.TrimSpace(l))] = true
	}
	out := &Registry{}
	for _, p := range r.plugins {
		if want[p.Language()] {
			out.Register(p)
		}
	}
	return out
}

// Languages lists the registered languages in priority order
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		langs = append(langs, p.Language())
	}
	return langs
}

// Versions maps each registered language to its plugin version
func (r *Registry) Versions() map[string]string {
	out := make(map[string]string, len(r.plugins))
	for _, p := range r.plugins {
		out[p.Language()] = p.Version()
	}
	return out
}

// Len returns the number of registered plugins
func (r *Registry) Len() int {
	return len(r.plugins)
}

// hasExtension is the shared CanParse implementation
func hasExtension(filePath string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}
