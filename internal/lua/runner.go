// Package lua runs operator-supplied payload normalizer scripts. A script
// defines a global function normalize(tool, params, message) that returns
// the params table to use, or nil to keep the extracted one.
package lua

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

const normalizeFunc = "normalize"

// Normalizer compiles each script once and runs it in a fresh state per
// call, so concurrent calls never share Lua state.
type Normalizer struct {
	mu     sync.Mutex
	protos map[string]*lua.FunctionProto
}

func NewNormalizer() *Normalizer {
	return &Normalizer{protos: make(map[string]*lua.FunctionProto)}
}

// Compile loads and compiles the script at scriptPath, caching the result.
func (n *Normalizer) Compile(scriptPath string) error {
	_, err := n.proto(scriptPath)
	return err
}

func (n *Normalizer) proto(scriptPath string) (*lua.FunctionProto, error) {
	absPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.protos[absPath]; ok {
		return p, nil
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}
	defer func() { _ = f.Close() }()
	chunk, err := parse.Parse(f, absPath)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	p, err := lua.Compile(chunk, absPath)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	n.protos[absPath] = p
	return p, nil
}

// Normalize calls normalize(tool, params, message) from the script at
// scriptPath. Numbers come back as json.Number.
func (n *Normalizer) Normalize(ctx context.Context, scriptPath, tool string, params map[string]any, message string) (map[string]any, error) {
	proto, err := n.proto(scriptPath)
	if err != nil {
		return nil, err
	}

	lState := newState()
	defer lState.Close()
	lState.SetContext(ctx)

	lState.Push(lState.NewFunctionFromProto(proto))
	if err := lState.PCall(0, lua.MultRet, nil); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal(normalizeFunc)
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function normalize(tool, params, message)")
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("normalize must be a function, got %s", fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(lua.LString(tool))
	lState.Push(toLua(lState, params))
	lState.Push(lua.LString(message))
	if err := lState.PCall(3, 1, nil); err != nil {
		return nil, fmt.Errorf("normalize(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)

	switch ret.Type() {
	case lua.LTNil:
		return params, nil
	case lua.LTTable:
		out, ok := fromLua(ret).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("normalize() must return a table with string keys")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("normalize() must return a table or nil, got %s", ret.Type().String())
	}
}

// newState opens only the side-effect free libraries; os is replaced by the
// minimal module from osModuleLoader.
func newState() *lua.LState {
	lState := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		lState.Push(lState.NewFunction(lib.open))
		lState.Push(lua.LString(lib.name))
		lState.Call(1, 0)
	}
	lState.PreloadModule("os", osModuleLoader)
	lState.Push(lState.NewFunction(osModuleLoader))
	lState.Call(0, 1)
	lState.SetGlobal("os", lState.Get(-1))
	lState.Pop(1)
	return lState
}

func toLua(ls *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return lua.LString(x.String())
		}
		return lua.LNumber(f)
	case float64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case []any:
		t := ls.NewTable()
		for _, e := range x {
			t.Append(toLua(ls, e))
		}
		return t
	case map[string]any:
		t := ls.NewTable()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(ls, x[k]))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a Lua value back to the shapes encoding/json produces.
// A table whose keys are exactly 1..n becomes a slice; any other table
// becomes a map with stringified keys.
func fromLua(v lua.LValue) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return json.Number(strconv.FormatInt(int64(f), 10))
		}
		return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
	case *lua.LTable:
		n := x.MaxN()
		count := 0
		x.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if n > 0 && n == count {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(x.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any, count)
		x.ForEach(func(k, val lua.LValue) {
			out[k.String()] = fromLua(val)
		})
		return out
	default:
		return x.String()
	}
}

// osModuleLoader provides a minimal os module: getenv and time.
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		ls.Push(lua.LString(os.Getenv(key)))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}
