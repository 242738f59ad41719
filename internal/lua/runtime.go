package lua

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/mpataki/transmute/internal/models"
)

// Candidate is the table passed to a rule script's check function.
type Candidate struct {
	Code   string
	Target string
	Goal   string
	Kinds  []models.OperationKind
}

// maxLogs bounds the messages a Runtime keeps from log().
const maxLogs = 100

// Runtime executes language rule scripts in a sandboxed environment
type Runtime struct {
	logger *zap.Logger

	mu   sync.Mutex
	logs []string
}

// NewRuntime creates a new Lua runtime for language rules
func NewRuntime(logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{logger: logger}
}

// Check loads script and calls check(candidate). The script must define a
// global check function returning a list of defects built with defect().
// Each call gets a fresh state so a Runtime can be shared.
func (r *Runtime) Check(ctx context.Context, script string, c Candidate) ([]models.Defect, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // Don't load any libraries by default
	})
	defer L.Close()
	L.SetContext(ctx)

	openSafeLibs(L)
	r.registerAPI(L)

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	check := L.GetGlobal("check")
	if check.Type() != lua.LTFunction {
		return nil, fmt.Errorf("rules must define a 'check' function")
	}

	L.Push(check)
	L.Push(candidateTable(L, c))
	if err := L.PCall(1, 1, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("rule check failed: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	return toDefects(ret)
}

// openSafeLibs loads only the safe standard libraries
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove dangerous base functions
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Verdicts must be reproducible
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (r *Runtime) registerAPI(L *lua.LState) {
	L.SetGlobal("defect", L.NewFunction(luaDefect))
	L.SetGlobal("log", L.NewFunction(r.luaLog))
}

// luaDefect implements the defect(kind, message, location?) API
func luaDefect(L *lua.LState) int {
	tbl := L.NewTable()
	L.SetField(tbl, "kind", lua.LString(L.CheckString(1)))
	L.SetField(tbl, "message", lua.LString(L.CheckString(2)))
	if loc := L.OptString(3, ""); loc != "" {
		L.SetField(tbl, "location", lua.LString(loc))
	}
	L.Push(tbl)
	return 1
}

// luaLog implements the log(message) API
func (r *Runtime) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	r.mu.Lock()
	r.logs = append(r.logs, message)
	if len(r.logs) > maxLogs {
		r.logs = r.logs[len(r.logs)-maxLogs:]
	}
	r.mu.Unlock()
	r.logger.Debug("rule log", zap.String("message", message))
	return 0
}

func candidateTable(L *lua.LState, c Candidate) *lua.LTable {
	kinds := make([]any, len(c.Kinds))
	for i, k := range c.Kinds {
		kinds[i] = string(k)
	}
	return goToLua(L, map[string]any{
		"code":   c.Code,
		"target": c.Target,
		"goal":   c.Goal,
		"kinds":  kinds,
	}).(*lua.LTable)
}

// goToLua converts a Go value to a Lua value
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

var defectKinds = map[models.DefectKind]bool{
	models.DefectSyntaxError:      true,
	models.DefectMissingConstruct: true,
	models.DefectSemanticMismatch: true,
	models.DefectTimeout:          true,
}

// toDefects converts the script's return value. nil and an empty table
// both mean no defects.
func toDefects(v lua.LValue) ([]models.Defect, error) {
	if v == lua.LNil {
		return nil, nil
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("check must return a table, got %s", v.Type())
	}

	var defects []models.Defect
	var bad error
	tbl.ForEach(func(_, item lua.LValue) {
		if bad != nil {
			return
		}
		entry, ok := item.(*lua.LTable)
		if !ok {
			bad = fmt.Errorf("defect must be a table, got %s", item.Type())
			return
		}
		d := models.Defect{
			Kind:     models.DefectKind(lua.LVAsString(entry.RawGetString("kind"))),
			Message:  lua.LVAsString(entry.RawGetString("message")),
			Location: lua.LVAsString(entry.RawGetString("location")),
		}
		if !defectKinds[d.Kind] {
			d.Kind = models.DefectSemanticMismatch
		}
		defects = append(defects, d)
	})
	return defects, bad
}

// Logs returns the most recent messages rules passed to log()
func (r *Runtime) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...)
}
