package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/transmute/internal/completion"
	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/registry"
	"github.com/mpataki/transmute/internal/stage"
)

func salesIntent() *models.IntentDescription {
	return &models.IntentDescription{
		SourceLanguage: "r",
		Goal:           "Summarise adult sales by category",
		Operations: []models.Operation{
			{ID: "op1", Kind: models.OpLoad, Params: map[string]string{"path": "sales.csv"}},
			{ID: "op2", Kind: models.OpFilter, Params: map[string]string{"predicate": "age > 18"}},
			{ID: "op3", Kind: models.OpGroup, Params: map[string]string{"keys": "category"}},
			{ID: "op4", Kind: models.OpAggregate, Params: map[string]string{
				"expressions": "total = sum(amount), average = mean(amount), count = n()",
			}},
			{ID: "op5", Kind: models.OpSort, Params: map[string]string{"keys": "total", "descending": "true"}},
			{ID: "op6", Kind: models.OpWrite, Params: map[string]string{"path": "output.csv"}},
			{ID: "op7", Kind: models.OpPrint},
		},
	}
}

func TestBuildFeedback(t *testing.T) {
	assert.Empty(t, BuildFeedback(nil))

	prior := &models.Attempt{
		Number: 2,
		Code:   "df = pd.read_csv(",
		Verdict: models.Fail(
			models.Defect{Kind: models.DefectSyntaxError, Message: "unexpected end of input", Location: "1:17"},
			models.Defect{Kind: models.DefectMissingConstruct, Message: "no sorting found"},
		),
	}
	fb := BuildFeedback(prior)
	assert.Contains(t, fb, "Attempt 2")
	assert.Contains(t, fb, "1. [SyntaxError] unexpected end of input (at 1:17)")
	assert.Contains(t, fb, "2. [MissingConstruct] no sorting found\n")
	assert.Contains(t, fb, "df = pd.read_csv(")
}

func TestLLMGeneratorPrompt(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)

	client := completion.NewScripted(
		completion.Reply{Text: "```python\nimport pandas as pd\n```"},
		completion.Reply{Text: "print(1)"},
	)
	g := NewLLM(client, reg)

	code, err := g.Generate(context.Background(), stage.GenerateRequest{Intent: salesIntent(), Target: "python"})
	require.NoError(t, err)
	assert.Equal(t, "import pandas as pd", code)

	prior := &models.Attempt{Number: 1, Code: code, Verdict: models.Fail(models.Defect{Kind: models.DefectMissingConstruct, Message: "no sorting found"})}
	_, err = g.Generate(context.Background(), stage.GenerateRequest{Intent: salesIntent(), Target: "py", Prior: prior})
	require.NoError(t, err)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Prompt, "Summarise adult sales by category")
	assert.Contains(t, calls[0].Prompt, "named aggregation")
	assert.NotContains(t, calls[0].Prompt, "rejected by validation")
	assert.Contains(t, calls[1].Prompt, "Attempt 1 was rejected by validation")
	assert.Contains(t, calls[1].Prompt, "no sorting found")
}

func TestLLMGeneratorErrors(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)

	_, err = NewLLM(completion.NewScripted(), reg).Generate(context.Background(),
		stage.GenerateRequest{Intent: salesIntent(), Target: "cobol"})
	require.ErrorIs(t, err, stage.ErrUnsupportedLanguage)

	timeout := completion.NewScripted(completion.Reply{Err: &completion.TransportError{Provider: "x", Err: completion.ErrTimeout}})
	_, err = NewLLM(timeout, reg).Generate(context.Background(), stage.GenerateRequest{Intent: salesIntent(), Target: "python"})
	require.ErrorIs(t, err, stage.ErrGenerationTimeout)
	assert.True(t, stage.IsTransient(err))

	boom := errors.New("boom")
	failing := completion.NewScripted(completion.Reply{Err: completion.NewPermanentError("x", boom)})
	_, err = NewLLM(failing, reg).Generate(context.Background(), stage.GenerateRequest{Intent: salesIntent(), Target: "python"})
	require.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, stage.ErrGenerationTimeout))
}

func TestTemplatePandas(t *testing.T) {
	code, err := NewTemplate().Generate(context.Background(), stage.GenerateRequest{Intent: salesIntent(), Target: "python"})
	require.NoError(t, err)

	assert.Equal(t, `import pandas as pd

df = pd.read_csv("sales.csv")
df = df.query("age > 18")
df = df.groupby(["category"]).agg(total=("amount", "sum"), average=("amount", "mean"), count=("amount", "size")).reset_index()
df = df.sort_values(["total"], ascending=False)
df.to_csv("output.csv", index=False)
print(df)
`, code)
}

func TestTemplateOtherOperations(t *testing.T) {
	intent := &models.IntentDescription{Operations: []models.Operation{
		{Kind: models.OpSelect, Params: map[string]string{"columns": "name, amount, -notes"}},
		{Kind: models.OpMutate, Params: map[string]string{"expressions": "ratio = amount / total"}},
		{Kind: models.OpJoin, Params: map[string]string{"with": `df, regions, by = "region_id"`}},
		{Kind: models.OpGroup, Params: map[string]string{"keys": "region"}},
		{Kind: models.OpWrite, Params: map[string]string{"path": "out.json"}},
	}}
	code, err := NewTemplate().Generate(context.Background(), stage.GenerateRequest{Intent: intent, Target: "python"})
	require.NoError(t, err)

	assert.Contains(t, code, "df = pd.DataFrame()\n")
	assert.Contains(t, code, `df = df[["name", "amount"]]`)
	assert.Contains(t, code, `df = df.drop(columns=["notes"])`)
	assert.Contains(t, code, `df["ratio"] = df.eval("amount / total")`)
	assert.Contains(t, code, `df = df.merge(regions, on="region_id")`)
	assert.Contains(t, code, `groups = df.groupby(["region"])`)
	assert.Contains(t, code, `df.to_json("out.json", orient="records")`)
}

func TestTemplateActsOnFeedback(t *testing.T) {
	g := NewTemplate()
	first, err := g.Generate(context.Background(), stage.GenerateRequest{Intent: salesIntent(), Target: "python"})
	require.NoError(t, err)

	t.Run("missing construct", func(t *testing.T) {
		prior := &models.Attempt{Number: 1, Code: first, Verdict: models.Fail(models.Defect{
			Kind: models.DefectMissingConstruct, Message: "no aggregation found for op4",
		})}
		code, err := g.Generate(context.Background(), stage.GenerateRequest{Intent: salesIntent(), Target: "python", Prior: prior})
		require.NoError(t, err)
		assert.NotEqual(t, first, code)
		assert.Contains(t, code, `summary = df.agg("sum")`)
	})

	t.Run("syntax error", func(t *testing.T) {
		intent := &models.IntentDescription{Operations: []models.Operation{
			{ID: "op1", Kind: models.OpFilter, Params: map[string]string{"predicate": "x[1] > 0"}},
		}}
		code, err := g.Generate(context.Background(), stage.GenerateRequest{Intent: intent, Target: "python"})
		require.NoError(t, err)
		assert.Contains(t, code, "df = df[x[1] > 0]")

		prior := &models.Attempt{Number: 1, Code: code, Verdict: models.Fail(models.Defect{
			Kind: models.DefectSyntaxError, Message: "unexpected token", Location: "3:9",
		})}
		code, err = g.Generate(context.Background(), stage.GenerateRequest{Intent: intent, Target: "python", Prior: prior})
		require.NoError(t, err)
		assert.Contains(t, code, `df = df.query("x[1] > 0")`)
	})

	t.Run("nothing to change", func(t *testing.T) {
		prior := &models.Attempt{Number: 1, Code: first, Verdict: models.Fail(models.Defect{
			Kind: models.DefectSemanticMismatch, Message: "filters on the wrong column",
		})}
		_, err := g.Generate(context.Background(), stage.GenerateRequest{Intent: salesIntent(), Target: "python", Prior: prior})
		require.ErrorIs(t, err, stage.ErrAmbiguousStructure)
		assert.Contains(t, err.Error(), "filters on the wrong column")
	})
}

func TestTemplateRejectsOtherTargets(t *testing.T) {
	_, err := NewTemplate().Generate(context.Background(), stage.GenerateRequest{Intent: salesIntent(), Target: "javascript"})
	require.ErrorIs(t, err, stage.ErrUnsupportedLanguage)

	_, err = NewTemplate().Generate(context.Background(), stage.GenerateRequest{Intent: &models.IntentDescription{}, Target: "python"})
	require.ErrorIs(t, err, stage.ErrAmbiguousStructure)
}
