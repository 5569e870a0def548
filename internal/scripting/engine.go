// Package scripting runs per-type simulation behaviours written in Lua.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM. Single-goroutine access only (tick loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
	// step function lookups by type name, nil when the script defines none
	steps map[string]lua.LValue
}

// NewEngine creates a Lua VM and loads every .lua file under scriptsDir.
// Files in the root load first, then each subdirectory in name order.
// A missing directory yields an engine with no behaviours.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log, steps: make(map[string]lua.LValue)}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, err
	}
	subs, err := os.ReadDir(scriptsDir)
	if err != nil && !os.IsNotExist(err) {
		vm.Close()
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}
	for _, sub := range subs {
		if !sub.IsDir() {
			continue
		}
		if err := e.loadDir(filepath.Join(scriptsDir, sub.Name())); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub.Name(), err)
		}
	}
	return e, nil
}

// loadDir runs the .lua files directly inside dir.
func (e *Engine) loadDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("lua script loaded", zap.String("file", path))
	}
	return nil
}

// StepFunc is the Lua global called for typeName: step_ followed by the
// lower-cased name with non-alphanumerics replaced by underscores.
func StepFunc(typeName string) string {
	var b strings.Builder
	b.WriteString("step_")
	for _, r := range strings.ToLower(typeName) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (e *Engine) stepFn(typeName string) lua.LValue {
	fn, ok := e.steps[typeName]
	if !ok {
		fn = e.vm.GetGlobal(StepFunc(typeName))
		if fn.Type() != lua.LTFunction {
			fn = nil
		}
		e.steps[typeName] = fn
	}
	return fn
}

// HasStep reports whether a behaviour is defined for typeName.
func (e *Engine) HasStep(typeName string) bool {
	return e.stepFn(typeName) != nil
}

// Step calls the type's step function with state as a table and dt in
// seconds. Numeric fields of the returned table are written back into
// state; a nil return leaves state unchanged. Reports whether state changed.
func (e *Engine) Step(typeName string, state map[string]float64, dt float64) (bool, error) {
	fn := e.stepFn(typeName)
	if fn == nil {
		return false, nil
	}

	t := e.vm.NewTable()
	for k, v := range state {
		t.RawSetString(k, lua.LNumber(v))
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t, lua.LNumber(dt)); err != nil {
		return false, fmt.Errorf("lua %s: %w", StepFunc(typeName), err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	rt, ok := result.(*lua.LTable)
	if !ok {
		return false, nil
	}

	changed := false
	rt.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		n, ok := v.(lua.LNumber)
		if !ok {
			return
		}
		if old, exists := state[string(key)]; !exists || old != float64(n) {
			state[string(key)] = float64(n)
			changed = true
		}
	})
	return changed, nil
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
