// Package taxonomy holds the fixed set of review themes and resolves free-form
// labels returned by the classification service onto it.
//
// A Taxonomy is built once at startup and never mutated, so it can be shared
// by concurrent batch workers without locking.
package taxonomy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/review-pulse/backend/internal/storage/models"
	"github.com/review-pulse/backend/pkg/utils"
)

var ErrInvalidTaxonomy = errors.New("invalid taxonomy")

const (
	minContainedLen = 3
	minPrefixLen    = 4
)

type Taxonomy struct {
	themes       []models.ThemeDefinition
	byID         map[string]int
	byName       map[string]int
	defaultIndex int
	fingerprint  string
}

// Resolution is the outcome of mapping a candidate label onto the taxonomy.
type Resolution struct {
	ThemeID string
	Exact   bool
	OK      bool
}

func New(themes []models.ThemeDefinition) (*Taxonomy, error) {
	if len(themes) == 0 {
		return nil, fmt.Errorf("%w: no themes defined", ErrInvalidTaxonomy)
	}

	t := &Taxonomy{
		themes:       make([]models.ThemeDefinition, len(themes)),
		byID:         make(map[string]int, len(themes)),
		byName:       make(map[string]int, len(themes)),
		defaultIndex: -1,
	}

	fingerprintParts := make([]string, 0, len(themes)*2)
	for i, theme := range themes {
		id := normalize(theme.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: theme %d has no id", ErrInvalidTaxonomy, i)
		}
		if _, dup := t.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate theme id %q", ErrInvalidTaxonomy, id)
		}
		if theme.Default {
			if t.defaultIndex >= 0 {
				return nil, fmt.Errorf("%w: more than one default theme (%q, %q)", ErrInvalidTaxonomy, t.themes[t.defaultIndex].ID, id)
			}
			t.defaultIndex = i
		}

		keywords := make([]string, 0, len(theme.Keywords))
		for _, kw := range theme.Keywords {
			if kw = normalize(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}

		t.themes[i] = models.ThemeDefinition{
			ID:          id,
			Name:        strings.TrimSpace(theme.Name),
			Description: strings.TrimSpace(theme.Description),
			Keywords:    keywords,
			Default:     theme.Default,
		}
		t.byID[id] = i
		if name := normalize(theme.Name); name != "" {
			if _, taken := t.byName[name]; !taken {
				t.byName[name] = i
			}
		}
		fingerprintParts = append(fingerprintParts, id, t.themes[i].Description)
	}

	if t.defaultIndex < 0 {
		return nil, fmt.Errorf("%w: no default theme", ErrInvalidTaxonomy)
	}
	t.fingerprint = utils.HashString(fingerprintParts...)

	return t, nil
}

// WithDefault returns a copy of t whose fallback theme is id.
func (t *Taxonomy) WithDefault(id string) (*Taxonomy, error) {
	id = normalize(id)
	if _, ok := t.byID[id]; !ok {
		return nil, fmt.Errorf("%w: default theme %q is not defined", ErrInvalidTaxonomy, id)
	}
	themes := t.ListThemes()
	for i := range themes {
		themes[i].Default = themes[i].ID == id
	}
	return New(themes)
}

// ListThemes returns the themes in declaration order. The slice is a copy.
func (t *Taxonomy) ListThemes() []models.ThemeDefinition {
	out := make([]models.ThemeDefinition, len(t.themes))
	for i, theme := range t.themes {
		theme.Keywords = append([]string(nil), theme.Keywords...)
		out[i] = theme
	}
	return out
}

func (t *Taxonomy) IDs() []string {
	ids := make([]string, len(t.themes))
	for i, theme := range t.themes {
		ids[i] = theme.ID
	}
	return ids
}

func (t *Taxonomy) DefaultTheme() models.ThemeDefinition {
	return t.themes[t.defaultIndex]
}

func (t *Taxonomy) Lookup(id string) (models.ThemeDefinition, bool) {
	i, ok := t.byID[normalize(id)]
	if !ok {
		return models.ThemeDefinition{}, false
	}
	return t.themes[i], true
}

// Position is the declaration index of id, used as a ranking tie-break.
func (t *Taxonomy) Position(id string) (int, bool) {
	i, ok := t.byID[normalize(id)]
	return i, ok
}

// Fingerprint changes whenever theme ids or descriptions change.
func (t *Taxonomy) Fingerprint() string {
	return t.fingerprint
}

// Resolve maps a candidate label onto a theme id. Exact matches compare the
// identifier or display name case-insensitively; otherwise the first theme in
// declaration order that fuzzy-matches wins.
func (t *Taxonomy) Resolve(candidate string) Resolution {
	c := normalize(candidate)
	if c == "" {
		return Resolution{}
	}

	if i, ok := t.byID[c]; ok {
		return Resolution{ThemeID: t.themes[i].ID, Exact: true, OK: true}
	}
	if i, ok := t.byName[c]; ok {
		return Resolution{ThemeID: t.themes[i].ID, Exact: true, OK: true}
	}

	tokens := tokenize(c)
	for _, theme := range t.themes {
		if fuzzyMatch(c, tokens, theme) {
			return Resolution{ThemeID: theme.ID, OK: true}
		}
	}
	return Resolution{}
}

func fuzzyMatch(candidate string, tokens []string, theme models.ThemeDefinition) bool {
	spaced := strings.ReplaceAll(theme.ID, "_", " ")
	if strings.Contains(candidate, theme.ID) || strings.Contains(candidate, spaced) {
		return true
	}
	if len(candidate) >= minContainedLen && (strings.Contains(theme.ID, candidate) || strings.Contains(spaced, candidate)) {
		return true
	}

	parts := strings.Split(theme.ID, "_")
	for _, tok := range tokens {
		if len(tok) < minPrefixLen {
			continue
		}
		for _, part := range parts {
			if strings.HasPrefix(part, tok) {
				return true
			}
		}
	}

	for _, kw := range theme.Keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(" "+strings.Join(tokens, " ")+" ", " "+kw+" ") {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if tok == kw || (len(kw) >= minPrefixLen && strings.HasPrefix(tok, kw)) {
				return true
			}
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
}

type fileFormat struct {
	DefaultTheme string                   `yaml:"default_theme"`
	Themes       []models.ThemeDefinition `yaml:"themes"`
}

// LoadFile reads a YAML taxonomy:
//
//	default_theme: ui_ux
//	themes:
//	  - id: glitches
//	    name: Slow, Glitches
//	    description: ...
//	    keywords: [crash, bug]
func LoadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse taxonomy yaml: %w", err)
	}

	if f.DefaultTheme != "" {
		def := normalize(f.DefaultTheme)
		for i := range f.Themes {
			f.Themes[i].Default = normalize(f.Themes[i].ID) == def
		}
	}

	return New(f.Themes)
}
