package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
)

// ErrUnknownSource is returned when news.source names no registered feed.
var ErrUnknownSource = errors.New("unknown content source")

// Source is one named content provider (eastmoney, a fixture feed, etc.).
type Source interface {
	Name() string
	Fetch(ctx context.Context, identifier string) ([]domain.ContentEntry, error)
}

// Registry maps the news.source config value to a feed implementation.
// Names are matched case-insensitively.
type Registry struct {
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: map[string]Source{}}
}

// Register adds src under its canonical name. A second feed under the same
// name is a wiring mistake and is refused.
func (r *Registry) Register(src Source) error {
	name := canonicalName(src.Name())
	if name == "" {
		return fmt.Errorf("register content source: empty name")
	}
	if r.sources == nil {
		r.sources = map[string]Source{}
	}
	if _, dup := r.sources[name]; dup {
		return fmt.Errorf("register content source %q: already registered", name)
	}
	r.sources[name] = src
	return nil
}

// Resolve returns the feed configured under news.source.
func (r *Registry) Resolve(configured string) (Source, error) {
	name := canonicalName(configured)
	if name == "" {
		return nil, fmt.Errorf("news.source is empty (known: %s): %w", r.known(), ErrUnknownSource)
	}
	if src, ok := r.sources[name]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("news.source %q is not registered (known: %s): %w", configured, r.known(), ErrUnknownSource)
}

// Names lists registered sources in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) known() string {
	if len(r.sources) == 0 {
		return "none"
	}
	return strings.Join(r.Names(), ", ")
}

func canonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
