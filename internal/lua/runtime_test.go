package lua

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/transmute/internal/models"
)

const importRule = `
function check(candidate)
  local defects = {}
  log("checking " .. candidate.target .. " with " .. #candidate.kinds .. " operations")
  if string.find(candidate.code, "pd%.") and not string.find(candidate.code, "import pandas as pd") then
    table.insert(defects, defect("SemanticMismatch", "pandas is not imported", "1:1"))
  end
  if candidate.kinds[1] ~= "load" then
    table.insert(defects, defect("NotAKind", "first operation should load data"))
  end
  return defects
end
`

func TestCheckReturnsDefects(t *testing.T) {
	rt := NewRuntime(nil)

	defects, err := rt.Check(context.Background(), importRule, Candidate{
		Code:   "df = pd.read_csv('x.csv')",
		Target: "python",
		Kinds:  []models.OperationKind{models.OpPrint},
	})
	require.NoError(t, err)
	require.Len(t, defects, 2)
	assert.Equal(t, models.Defect{Kind: models.DefectSemanticMismatch, Message: "pandas is not imported", Location: "1:1"}, defects[0])
	assert.Equal(t, models.DefectSemanticMismatch, defects[1].Kind, "unknown kinds fall back")
	assert.Equal(t, []string{"checking python with 1 operations"}, rt.Logs())

	defects, err = rt.Check(context.Background(), importRule, Candidate{
		Code:  "import pandas as pd\ndf = pd.read_csv('x.csv')",
		Kinds: []models.OperationKind{models.OpLoad},
	})
	require.NoError(t, err)
	assert.Empty(t, defects)
}

func TestLogsAreBounded(t *testing.T) {
	rt := NewRuntime(nil)
	script := `function check(c) log(c.goal) return {} end`
	for i := 0; i < maxLogs+20; i++ {
		_, err := rt.Check(context.Background(), script, Candidate{Goal: fmt.Sprint(i)})
		require.NoError(t, err)
	}
	logs := rt.Logs()
	require.Len(t, logs, maxLogs)
	assert.Equal(t, "20", logs[0])
	assert.Equal(t, fmt.Sprint(maxLogs+19), logs[len(logs)-1])
}

func TestCheckSandbox(t *testing.T) {
	rt := NewRuntime(nil)

	for name, script := range map[string]string{
		"io":       `function check(c) io.open("/etc/passwd") end`,
		"os":       `function check(c) os.exit(1) end`,
		"dofile":   `function check(c) dofile("x.lua") end`,
		"random":   `function check(c) return { defect("Timeout", tostring(math.random())) } end`,
		"no check": `local x = 1`,
		"syntax":   `function check(c`,
		"bad ret":  `function check(c) return "nope" end`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := rt.Check(context.Background(), script, Candidate{})
			assert.Error(t, err)
		})
	}
}

func TestCheckHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewRuntime(nil).Check(ctx, `function check(c) while true do end end`, Candidate{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
