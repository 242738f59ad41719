package models

type LanguageRole string

const (
	RoleSource LanguageRole = "source"
	RoleTarget LanguageRole = "target"
)

// LanguageProfile is a registry entry loaded from YAML.
type LanguageProfile struct {
	Tag         string                     `yaml:"tag"`
	Name        string                     `yaml:"name"`
	Aliases     []string                   `yaml:"aliases,omitempty"`
	Extensions  []string                   `yaml:"extensions,omitempty"`
	Roles       []LanguageRole             `yaml:"roles"`
	Parser      string                     `yaml:"parser,omitempty"` // r-heuristic, tree-sitter, llm
	Syntax      string                     `yaml:"syntax,omitempty"` // grammar used to check generated code
	LineComment string                     `yaml:"line_comment,omitempty"`
	SourceOnly  []string                   `yaml:"source_only,omitempty"`
	Constructs  map[OperationKind][]string `yaml:"constructs,omitempty"`
	Idioms      []string                   `yaml:"idioms,omitempty"`
	Rules       string                     `yaml:"rules,omitempty"`
}

func (p *LanguageProfile) HasRole(role LanguageRole) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
