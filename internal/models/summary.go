package models

// Position is a 1-based line/column pair.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type Declaration struct {
	Name string   `json:"name"`
	Kind string   `json:"kind"` // variable, function, class, import
	Pos  Position `json:"pos"`
}

// Call is an external or library call found in the source. Depth counts how
// many call argument lists enclose it; top-level pipeline steps have depth 0.
type Call struct {
	Name    string   `json:"name"`
	Library string   `json:"library,omitempty"`
	Args    string   `json:"args,omitempty"`
	Depth   int      `json:"depth"`
	Pos     Position `json:"pos"`
}

// StructuralSummary is the parser stage output. It is produced once per
// request and never regenerated.
type StructuralSummary struct {
	Language     string        `json:"language"`
	Declarations []Declaration `json:"declarations"`
	ControlFlow  []string      `json:"control_flow"`
	Calls        []Call        `json:"calls"`
	Libraries    []string      `json:"libraries"`
}

// TopLevelCalls returns the calls not nested inside another call's arguments.
func (s *StructuralSummary) TopLevelCalls() []Call {
	var out []Call
	for _, c := range s.Calls {
		if c.Depth == 0 {
			out = append(out, c)
		}
	}
	return out
}
