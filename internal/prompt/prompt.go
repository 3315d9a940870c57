// Package prompt discovers and renders the card and SD prompt templates.
package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrEmpty indicates a template file exists but contains no content.
var ErrEmpty = errors.New("prompt: empty template file")

// Kind groups templates by the prompt they produce.
type Kind string

const (
	KindCard Kind = "card"
	KindSD   Kind = "sd"
)

// DefaultTemplate is used when no template name is saved or the saved one
// no longer exists.
const DefaultTemplate = "Default"

// ext is the template file extension.
const ext = ".md"

// Placeholder values fed to the card and SD templates.
const (
	DefaultCardCharacter = "Main Character"
	DefaultCardUserRole  = "develop around Main Character personality (Main Character interest/Lover/Rival/Friend...)"
	DefaultSDCharacter   = "Character from character card, Main Character"
	UserPlaceholder      = "{{user}}"
)

// cacheSize bounds the number of parsed templates kept in memory.
const cacheSize = 64

// Renderer reads templates from fsys, laid out as <kind>/<name>.md.
// Parsed templates are cached; Render is safe for concurrent use.
type Renderer struct {
	fsys  fs.FS
	cache *lru.Cache[string, *template.Template]
}

// NewRenderer creates a Renderer over fsys.
func NewRenderer(fsys fs.FS) (*Renderer, error) {
	cache, err := lru.New[string, *template.Template](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("prompt: creating cache: %w", err)
	}
	return &Renderer{fsys: fsys, cache: cache}, nil
}

// Templates lists the template names available for kind, sorted.
func (r *Renderer) Templates(kind Kind) ([]string, error) {
	entries, err := fs.ReadDir(r.fsys, string(kind))
	if err != nil {
		return nil, fmt.Errorf("prompt: listing %s templates: %w", kind, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// Resolve returns name if kind has a template by that name, otherwise
// DefaultTemplate.
func (r *Renderer) Resolve(kind Kind, name string) string {
	names, err := r.Templates(kind)
	if err != nil {
		return DefaultTemplate
	}
	for _, n := range names {
		if n == name {
			return name
		}
	}
	return DefaultTemplate
}

// Load reads the raw template text for kind/name.
func (r *Renderer) Load(kind Kind, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("prompt: invalid template name %q", name)
	}

	data, err := fs.ReadFile(r.fsys, path.Join(string(kind), name+ext))
	if err != nil {
		return "", fmt.Errorf("prompt: loading %s/%s: %w", kind, name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", fmt.Errorf("%w: %s/%s", ErrEmpty, kind, name)
	}
	return string(data), nil
}

// Render substitutes placeholders into the kind/name template. Templates
// use Go text/template syntax against a map (e.g. {{.caption}}); a
// placeholder the map does not provide is an error. Values are inserted
// verbatim and never re-evaluated.
func (r *Renderer) Render(kind Kind, name string, placeholders map[string]string) (string, error) {
	tmpl, err := r.parsed(kind, name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, placeholders); err != nil {
		return "", fmt.Errorf("prompt: executing template %s/%s: %w", kind, name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) parsed(kind Kind, name string) (*template.Template, error) {
	key := string(kind) + "/" + name
	if t, ok := r.cache.Get(key); ok {
		return t, nil
	}

	raw, err := r.Load(kind, name)
	if err != nil {
		return nil, err
	}
	t, err := template.New(key).Option("missingkey=error").Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("prompt: parsing template %s: %w", key, err)
	}
	r.cache.Add(key, t)
	return t, nil
}

// Purge drops every cached template so edits on disk are picked up.
func (r *Renderer) Purge() {
	r.cache.Purge()
}

// CardPlaceholders builds the values for a card template.
func CardPlaceholders(caption, tags string) map[string]string {
	return map[string]string{
		"character_to_analyze": DefaultCardCharacter,
		"user_role":            DefaultCardUserRole,
		"user_placeholder":     UserPlaceholder,
		"caption":              caption,
		"tags":                 tags,
	}
}

// SDPlaceholders builds the values for an SD template.
func SDPlaceholders(caption, tags, card string) map[string]string {
	return map[string]string{
		"character_to_analyze": DefaultSDCharacter,
		"caption":              caption,
		"tags":                 tags,
		"character_card":       card,
	}
}
