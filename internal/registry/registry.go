// Package registry holds the finite set of languages the workflow can read
// and write. Profiles are YAML files: an embedded default set, optionally
// overridden by user and project directories.
package registry

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/syntax"
)

//go:embed languages/*.yaml
var builtin embed.FS

const (
	ParserRHeuristic = "r-heuristic"
	ParserTreeSitter = "tree-sitter"
	ParserLLM        = "llm"
)

// Language is a validated profile with its patterns compiled.
type Language struct {
	*models.LanguageProfile

	constructs map[models.OperationKind][]*regexp.Regexp
	sourceOnly []*regexp.Regexp
}

// Constructs returns the patterns that evidence kind in code of this
// language.
func (l *Language) Constructs(kind models.OperationKind) []*regexp.Regexp {
	return l.constructs[kind]
}

// SourceOnly returns patterns that should never survive into another
// language.
func (l *Language) SourceOnly() []*regexp.Regexp {
	return l.sourceOnly
}

type Registry struct {
	languages map[string]*Language
	aliases   map[string]string
	exts      map[string]string
}

func New() *Registry {
	return &Registry{
		languages: make(map[string]*Language),
		aliases:   make(map[string]string),
		exts:      make(map[string]string),
	}
}

// Parse decodes a single profile.
func Parse(data []byte) (*models.LanguageProfile, error) {
	var p models.LanguageProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse language YAML: %w", err)
	}
	p.Tag = strings.ToLower(strings.TrimSpace(p.Tag))
	if p.Name == "" {
		p.Name = p.Tag
	}
	return &p, nil
}

// Default returns a registry holding only the embedded profiles.
func Default() (*Registry, error) {
	return LoadAll(nil)
}

// LoadAll loads the embedded profiles, then each dir in order. A later
// profile with the same tag replaces an earlier one. Missing directories
// are skipped.
func LoadAll(dirs []string) (*Registry, error) {
	r := New()
	if err := r.loadFS(builtin, "languages"); err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := r.loadFS(os.DirFS(dir), "."); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", dir, err)
		}
	}
	return r, nil
}

func (r *Registry) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, name)))
		if err != nil {
			return err
		}
		p, err := Parse(data)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", name, err)
		}
		if p.Tag == "" {
			p.Tag = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		if err := r.Register(p); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Register validates p and adds it, replacing any profile with the same tag.
func (r *Registry) Register(p *models.LanguageProfile) error {
	lang, err := compile(p)
	if err != nil {
		return err
	}
	if old, ok := r.languages[p.Tag]; ok {
		r.forget(old)
	}
	r.languages[p.Tag] = lang
	for _, a := range p.Aliases {
		r.aliases[strings.ToLower(a)] = p.Tag
	}
	for _, ext := range p.Extensions {
		r.exts[strings.ToLower(ext)] = p.Tag
	}
	return nil
}

func (r *Registry) forget(old *Language) {
	for _, a := range old.Aliases {
		delete(r.aliases, strings.ToLower(a))
	}
	for _, ext := range old.Extensions {
		delete(r.exts, strings.ToLower(ext))
	}
}

// Validate checks a profile without registering it.
func Validate(p *models.LanguageProfile) error {
	_, err := compile(p)
	return err
}

func compile(p *models.LanguageProfile) (*Language, error) {
	if p.Tag == "" {
		return nil, fmt.Errorf("language must have a tag")
	}
	if len(p.Roles) == 0 {
		return nil, fmt.Errorf("language %q must declare at least one role", p.Tag)
	}
	for _, role := range p.Roles {
		if role != models.RoleSource && role != models.RoleTarget {
			return nil, fmt.Errorf("language %q has unknown role %q", p.Tag, role)
		}
	}

	if p.HasRole(models.RoleSource) {
		switch p.Parser {
		case ParserRHeuristic, ParserLLM:
		case ParserTreeSitter:
			if !syntax.Has(p.Tag) && !syntax.Has(p.Syntax) {
				return nil, fmt.Errorf("language %q uses tree-sitter but no grammar is available", p.Tag)
			}
		case "":
			return nil, fmt.Errorf("source language %q must name a parser", p.Tag)
		default:
			return nil, fmt.Errorf("language %q has unknown parser %q", p.Tag, p.Parser)
		}
	}

	if p.Syntax != "" && !syntax.Has(p.Syntax) {
		return nil, fmt.Errorf("language %q references unknown grammar %q", p.Tag, p.Syntax)
	}

	lang := &Language{
		LanguageProfile: p,
		constructs:      make(map[models.OperationKind][]*regexp.Regexp),
	}

	if p.HasRole(models.RoleTarget) {
		for _, kind := range models.OperationKinds {
			if len(p.Constructs[kind]) == 0 {
				return nil, fmt.Errorf("target language %q defines no constructs for %q", p.Tag, kind)
			}
		}
	}
	for kind, patterns := range p.Constructs {
		if !kind.Valid() {
			return nil, fmt.Errorf("language %q has constructs for unknown operation %q", p.Tag, kind)
		}
		for _, pat := range patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("language %q construct %q: %w", p.Tag, kind, err)
			}
			lang.constructs[kind] = append(lang.constructs[kind], re)
		}
	}
	for _, pat := range p.SourceOnly {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("language %q source_only pattern: %w", p.Tag, err)
		}
		lang.sourceOnly = append(lang.sourceOnly, re)
	}

	return lang, nil
}

// Normalize maps a tag or alias to its canonical tag.
func (r *Registry) Normalize(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if _, ok := r.languages[key]; ok {
		return key, true
	}
	if tag, ok := r.aliases[key]; ok {
		return tag, true
	}
	return "", false
}

func (r *Registry) Lookup(name string) (*Language, bool) {
	tag, ok := r.Normalize(name)
	if !ok {
		return nil, false
	}
	return r.languages[tag], true
}

// LookupExtension finds the language for a file name or extension.
func (r *Registry) LookupExtension(pathOrExt string) (*Language, bool) {
	ext := pathOrExt
	if !strings.HasPrefix(ext, ".") {
		ext = filepath.Ext(pathOrExt)
	}
	tag, ok := r.exts[strings.ToLower(ext)]
	if !ok {
		return nil, false
	}
	return r.languages[tag], true
}

// SupportsPair reports whether source can be read and target written.
func (r *Registry) SupportsPair(source, target string) error {
	src, ok := r.Lookup(source)
	if !ok || !src.HasRole(models.RoleSource) {
		return fmt.Errorf("%q is not a supported source language", source)
	}
	tgt, ok := r.Lookup(target)
	if !ok || !tgt.HasRole(models.RoleTarget) {
		return fmt.Errorf("%q is not a supported target language", target)
	}
	if src.Tag == tgt.Tag {
		return fmt.Errorf("source and target are both %q", src.Tag)
	}
	return nil
}

func (r *Registry) withRole(role models.LanguageRole) []*Language {
	var out []*Language
	for _, l := range r.languages {
		if l.HasRole(role) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

func (r *Registry) Sources() []*Language { return r.withRole(models.RoleSource) }
func (r *Registry) Targets() []*Language { return r.withRole(models.RoleTarget) }
