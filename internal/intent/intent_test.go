package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/transmute/internal/completion"
	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/parser"
	"github.com/mpataki/transmute/internal/stage"
)

const dplyrScript = `library(dplyr)
data <- read.csv("sales.csv")
result <- data %>%
  filter(age > 18) %>%
  group_by(category) %>%
  summarise(total = sum(amount), average = mean(amount), count = n()) %>%
  arrange(desc(total))
write.csv(result, "output.csv", row.names = FALSE)
print(result)
`

func TestRulesDplyrPipeline(t *testing.T) {
	summary, err := parser.NewRParser().Parse(context.Background(), dplyrScript, "r")
	require.NoError(t, err)

	d, err := NewRules().ExtractIntent(context.Background(), summary)
	require.NoError(t, err)

	assert.Equal(t, []models.OperationKind{
		models.OpLoad, models.OpFilter, models.OpGroup, models.OpAggregate,
		models.OpSort, models.OpWrite, models.OpPrint,
	}, d.Kinds())
	assert.Equal(t, "r", d.SourceLanguage)
	assert.Contains(t, d.Goal, "aggregation")

	ops := d.Operations
	assert.Equal(t, "sales.csv", ops[0].Params["path"])
	assert.Equal(t, "age > 18", ops[1].Params["predicate"])
	assert.Equal(t, "category", ops[2].Params["keys"])
	assert.Equal(t, "total = sum(amount), average = mean(amount), count = n()", ops[3].Params["expressions"])
	assert.Equal(t, "total", ops[4].Params["keys"])
	assert.Equal(t, "true", ops[4].Params["descending"])
	assert.Equal(t, "output.csv", ops[5].Params["path"])
	assert.Equal(t, "result", ops[5].Params["source"])

	assert.Equal(t, "op1", ops[0].ID)
	assert.Empty(t, ops[0].DependsOn)
	assert.Equal(t, []string{"op3"}, ops[3].DependsOn)
	assert.Equal(t, "Sort by total (descending)", ops[4].Description)
}

func TestRulesNestedCallsRunFirst(t *testing.T) {
	summary := &models.StructuralSummary{
		Language: "r",
		Calls: []models.Call{
			{Name: "print", Args: "head(arrange(df, x))", Depth: 0},
			{Name: "head", Args: "arrange(df, x)", Depth: 1},
			{Name: "arrange", Args: "df, x", Depth: 2},
		},
	}
	d, err := NewRules().ExtractIntent(context.Background(), summary)
	require.NoError(t, err)
	assert.Equal(t, []models.OperationKind{models.OpSort, models.OpPrint}, d.Kinds())
}

func TestRulesMergeConsecutiveKinds(t *testing.T) {
	summary := &models.StructuralSummary{
		Language: "r",
		Calls: []models.Call{
			{Name: "filter", Args: "age > 18"},
			{Name: "filter", Args: "amount > 0"},
		},
	}
	d, err := NewRules().ExtractIntent(context.Background(), summary)
	require.NoError(t, err)
	require.Len(t, d.Operations, 1)
	assert.Equal(t, "age > 18; amount > 0", d.Operations[0].Params["predicate"])
}

func TestRulesPandas(t *testing.T) {
	summary := &models.StructuralSummary{
		Language: "python",
		Calls: []models.Call{
			{Name: "read_csv", Library: "pd", Args: `"sales.csv"`},
			{Name: parser.SubscriptFilter, Library: "df", Args: `df["age"] > 18`},
			{Name: "groupby", Library: "adults", Args: `["category", "region"]`},
			{Name: "sum", Library: "adults"},
			{Name: "sort_values", Library: "result", Args: `by="total", ascending=False`},
		},
	}
	d, err := NewRules().ExtractIntent(context.Background(), summary)
	require.NoError(t, err)
	assert.Equal(t, []models.OperationKind{
		models.OpLoad, models.OpFilter, models.OpGroup, models.OpAggregate, models.OpSort,
	}, d.Kinds())
	assert.Equal(t, "category, region", d.Operations[2].Params["keys"])
	assert.Equal(t, "total", d.Operations[4].Params["keys"])
	assert.Equal(t, "true", d.Operations[4].Params["descending"])
}

func TestRulesAmbiguous(t *testing.T) {
	summary := &models.StructuralSummary{
		Language: "r",
		Calls:    []models.Call{{Name: "frobnicate", Args: "x"}, {Name: "sum", Args: "x", Depth: 1}},
	}
	_, err := NewRules().ExtractIntent(context.Background(), summary)
	require.ErrorIs(t, err, stage.ErrAmbiguousStructure)
}

func TestLLMExtractor(t *testing.T) {
	client := completion.NewScripted(completion.Reply{Text: `{
  "goal": "Summarise sales",
  "operations": [
    {"kind": "load", "description": "Read sales", "params": {"path": "sales.csv"}},
    {"kind": "pivot", "description": "Reshape", "params": {"wide": true}}
  ]
}`})
	d, err := NewLLM(client).ExtractIntent(context.Background(), &models.StructuralSummary{Language: "sas"})
	require.NoError(t, err)
	assert.Equal(t, "Summarise sales", d.Goal)
	assert.Equal(t, []models.OperationKind{models.OpLoad, models.OpCompute}, d.Kinds())
	assert.Equal(t, "true", d.Operations[1].Params["wide"])
	assert.Equal(t, []string{"op1"}, d.Operations[1].DependsOn)
}

func TestLLMExtractorGarbage(t *testing.T) {
	client := completion.NewScripted(completion.Reply{Text: "I am not sure."})
	_, err := NewLLM(client).ExtractIntent(context.Background(), &models.StructuralSummary{Language: "r"})
	require.ErrorIs(t, err, stage.ErrAmbiguousStructure)
}

func TestChainFallsThroughOnlyOnAmbiguity(t *testing.T) {
	summary := &models.StructuralSummary{Language: "r", Calls: []models.Call{{Name: "frobnicate"}}}

	client := completion.NewScripted(completion.Reply{Text: `{"goal":"g","operations":[{"kind":"print"}]}`})
	d, err := Chain{NewRules(), NewLLM(client)}.ExtractIntent(context.Background(), summary)
	require.NoError(t, err)
	assert.Equal(t, []models.OperationKind{models.OpPrint}, d.Kinds())

	boom := errors.New("boom")
	failing := completion.NewScripted(completion.Reply{Err: &completion.TransportError{Provider: "x", Err: boom}})
	_, err = Chain{NewRules(), NewLLM(failing)}.ExtractIntent(context.Background(), summary)
	require.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, stage.ErrAmbiguousStructure))

	_, err = Chain{}.ExtractIntent(context.Background(), summary)
	require.ErrorIs(t, err, stage.ErrAmbiguousStructure)
}
