package models

type OperationKind string

const (
	OpLoad      OperationKind = "load"
	OpFilter    OperationKind = "filter"
	OpGroup     OperationKind = "group"
	OpAggregate OperationKind = "aggregate"
	OpSort      OperationKind = "sort"
	OpSelect    OperationKind = "select"
	OpMutate    OperationKind = "mutate"
	OpJoin      OperationKind = "join"
	OpWrite     OperationKind = "write"
	OpPrint     OperationKind = "print"
	OpCompute   OperationKind = "compute"
)

// OperationKinds lists every kind in pipeline order.
var OperationKinds = []OperationKind{
	OpLoad, OpFilter, OpGroup, OpAggregate, OpSort, OpSelect,
	OpMutate, OpJoin, OpWrite, OpPrint, OpCompute,
}

func (k OperationKind) Valid() bool {
	for _, known := range OperationKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Noun is the human form used in defect messages.
func (k OperationKind) Noun() string {
	switch k {
	case OpLoad:
		return "data loading"
	case OpFilter:
		return "filtering"
	case OpGroup:
		return "grouping"
	case OpAggregate:
		return "aggregation"
	case OpSort:
		return "sorting"
	case OpSelect:
		return "column selection"
	case OpMutate:
		return "column derivation"
	case OpJoin:
		return "join"
	case OpWrite:
		return "output writing"
	case OpPrint:
		return "printing"
	default:
		return "computation"
	}
}

type Operation struct {
	ID          string            `json:"id"`
	Kind        OperationKind     `json:"kind"`
	Description string            `json:"description"`
	Params      map[string]string `json:"params,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
}

// IntentDescription is the language-neutral plan shared by every attempt.
type IntentDescription struct {
	SourceLanguage string      `json:"source_language"`
	Goal           string      `json:"goal"`
	Operations     []Operation `json:"operations"`
}

func (d *IntentDescription) Kinds() []OperationKind {
	out := make([]OperationKind, 0, len(d.Operations))
	for _, op := range d.Operations {
		out = append(out, op.Kind)
	}
	return out
}
