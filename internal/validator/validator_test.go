package validator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/transmute/internal/completion"
	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/registry"
)

const goodPandas = `import pandas as pd

df = pd.read_csv("sales.csv")
df = df.query("age > 18")
df = df.groupby(["category"]).agg(total=("amount", "sum")).reset_index()
df = df.sort_values(["total"], ascending=False)
df.to_csv("output.csv", index=False)
print(df)
`

func salesIntent() *models.IntentDescription {
	return &models.IntentDescription{
		SourceLanguage: "r",
		Goal:           "Summarise adult sales by category",
		Operations: []models.Operation{
			{ID: "op1", Kind: models.OpLoad, Description: "Load data from sales.csv"},
			{ID: "op2", Kind: models.OpFilter, Description: "Keep rows where age > 18"},
			{ID: "op3", Kind: models.OpGroup, Description: "Group rows by category"},
			{ID: "op4", Kind: models.OpAggregate, Description: "Aggregate each group"},
			{ID: "op5", Kind: models.OpSort, Description: "Sort by total (descending)"},
			{ID: "op6", Kind: models.OpWrite, Description: "Write the result to output.csv"},
			{ID: "op7", Kind: models.OpPrint, Description: "Print the result"},
		},
	}
}

func newValidator(t *testing.T, opts ...Option) *Validator {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	return New(reg, opts...)
}

func kinds(v models.Verdict) []models.DefectKind {
	out := make([]models.DefectKind, 0, len(v.Defects))
	for _, d := range v.Defects {
		out = append(out, d.Kind)
	}
	return out
}

func TestValidPandasPasses(t *testing.T) {
	v, err := newValidator(t).Validate(context.Background(), goodPandas, "python", salesIntent())
	require.NoError(t, err)
	assert.True(t, v.Passed(), v.Summary())
}

func TestEmptyCandidateFails(t *testing.T) {
	v, err := newValidator(t).Validate(context.Background(), "  \n", "python", salesIntent())
	require.NoError(t, err)
	assert.Equal(t, []models.DefectKind{models.DefectSyntaxError}, kinds(v))
}

func TestUnknownTargetFailsConservatively(t *testing.T) {
	v, err := newValidator(t).Validate(context.Background(), "x = 1", "cobol", salesIntent())
	require.NoError(t, err)
	assert.False(t, v.Passed())
	assert.Contains(t, v.Defects[0].Message, "no syntax checker")
}

func TestSyntaxErrorHasLocation(t *testing.T) {
	code := strings.Replace(goodPandas, `print(df)`, `print(df`, 1)
	v, err := newValidator(t).Validate(context.Background(), code, "python", salesIntent())
	require.NoError(t, err)
	require.False(t, v.Passed())
	assert.Equal(t, models.DefectSyntaxError, v.Defects[0].Kind)
	assert.Regexp(t, `^\d+:\d+$`, v.Defects[0].Location)
}

func TestMissingSortIsReported(t *testing.T) {
	code := strings.Replace(goodPandas, "df = df.sort_values([\"total\"], ascending=False)\n", "", 1)
	v, err := newValidator(t).Validate(context.Background(), code, "python", salesIntent())
	require.NoError(t, err)
	require.Equal(t, []models.DefectKind{models.DefectMissingConstruct}, kinds(v))
	assert.Contains(t, v.Defects[0].Message, "sorting")
}

func TestEachOperationNeedsItsOwnConstruct(t *testing.T) {
	intent := salesIntent()
	intent.Operations = append(intent.Operations, models.Operation{
		ID: "op8", Kind: models.OpFilter, Description: "Keep rows where total > 100",
	})

	v, err := newValidator(t).Validate(context.Background(), goodPandas, "python", intent)
	require.NoError(t, err)
	require.Equal(t, []models.DefectKind{models.DefectMissingConstruct}, kinds(v))
	assert.Contains(t, v.Defects[0].Message, "op8")

	code := strings.Replace(goodPandas, "print(df)", "df = df.query(\"total > 100\")\nprint(df)", 1)
	v, err = newValidator(t).Validate(context.Background(), code, "python", intent)
	require.NoError(t, err)
	assert.True(t, v.Passed(), v.Summary())
}

func TestCommentedCodeIsNotEvidence(t *testing.T) {
	code := strings.Replace(goodPandas, "df = df.sort_values", "# df = df.sort_values", 1)
	v, err := newValidator(t).Validate(context.Background(), code, "python", salesIntent())
	require.NoError(t, err)
	assert.Equal(t, []models.DefectKind{models.DefectMissingConstruct}, kinds(v))
}

func TestSourceLeakage(t *testing.T) {
	code := goodPandas + "result <- df\n"
	v, err := newValidator(t).Validate(context.Background(), code, "python", salesIntent())
	require.NoError(t, err)
	require.False(t, v.Passed())
	assert.Contains(t, kinds(v), models.DefectSemanticMismatch)
}

func TestLuaRules(t *testing.T) {
	code := strings.Replace(goodPandas, "import pandas as pd\n", "", 1)
	v, err := newValidator(t).Validate(context.Background(), code, "python", salesIntent())
	require.NoError(t, err)
	require.False(t, v.Passed())
	assert.Contains(t, v.Summary(), "pandas is never imported")
}

func TestReview(t *testing.T) {
	t.Run("critical issue fails", func(t *testing.T) {
		client := completion.NewScripted(completion.Reply{Text: `{"passed": false, "issues": [
			{"severity": "minor", "message": "style"},
			{"severity": "critical", "message": "filters on the wrong column"}]}`})
		v, err := newValidator(t, WithReview(client)).Validate(context.Background(), goodPandas, "python", salesIntent())
		require.NoError(t, err)
		require.Len(t, v.Defects, 1)
		assert.Equal(t, "filters on the wrong column", v.Defects[0].Message)
	})

	t.Run("minor issues pass", func(t *testing.T) {
		client := completion.NewScripted(completion.Reply{Text: `{"passed": true, "issues": [{"severity": "minor", "message": "style"}]}`})
		v, err := newValidator(t, WithReview(client)).Validate(context.Background(), goodPandas, "python", salesIntent())
		require.NoError(t, err)
		assert.True(t, v.Passed())
	})

	t.Run("unparseable review fails", func(t *testing.T) {
		client := completion.NewScripted(completion.Reply{Text: "looks fine to me"})
		v, err := newValidator(t, WithReview(client)).Validate(context.Background(), goodPandas, "python", salesIntent())
		require.NoError(t, err)
		assert.Equal(t, []models.DefectKind{models.DefectSemanticMismatch}, kinds(v))
	})

	t.Run("skipped when local checks fail", func(t *testing.T) {
		client := completion.NewScripted()
		_, err := newValidator(t, WithReview(client)).Validate(context.Background(), "print(", "python", salesIntent())
		require.NoError(t, err)
		assert.Empty(t, client.Calls())
	})

	t.Run("timeout becomes a defect", func(t *testing.T) {
		client := completion.NewScripted(completion.Reply{Text: `{"passed": true}`, Delay: time.Second})
		v, err := newValidator(t, WithReview(client), WithCheckTimeout(20*time.Millisecond)).
			Validate(context.Background(), goodPandas, "python", salesIntent())
		require.NoError(t, err)
		assert.Equal(t, []models.DefectKind{models.DefectTimeout}, kinds(v))
	})

	t.Run("transport errors propagate", func(t *testing.T) {
		boom := errors.New("connection reset")
		client := completion.NewScripted(completion.Reply{Err: &completion.TransportError{Provider: "x", Err: boom}})
		_, err := newValidator(t, WithReview(client)).Validate(context.Background(), goodPandas, "python", salesIntent())
		require.ErrorIs(t, err, boom)
	})
}

type brokenCheck struct{}

func (brokenCheck) Name() string { return "broken" }
func (brokenCheck) Run(context.Context, Candidate) ([]models.Defect, error) {
	return nil, errors.New("cannot decide")
}

func TestUndecidedCheckFails(t *testing.T) {
	v, err := newValidator(t, WithChecks(brokenCheck{})).Validate(context.Background(), "x = 1", "python", salesIntent())
	require.NoError(t, err)
	require.False(t, v.Passed())
	assert.Contains(t, v.Defects[0].Message, "broken check could not decide")
}
