package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestStepWritesBack(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pawn.lua", `
function step_pawn(s, dt)
  s.x = s.x + s.vx * dt
  return s
end
`)
	e, err := NewEngine(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()

	state := map[string]float64{"x": 1, "vx": 4}
	changed, err := e.Step("Pawn", state, 0.5)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !changed || state["x"] != 3 {
		t.Fatalf("expected x=3 changed, got %v %v", state["x"], changed)
	}

	state["vx"] = 0
	changed, err = e.Step("Pawn", state, 0.5)
	if err != nil || changed {
		t.Fatalf("expected unchanged step, got %v %v", changed, err)
	}
}

func TestStepMissingFunction(t *testing.T) {
	e, err := NewEngine(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()

	state := map[string]float64{"x": 1}
	changed, err := e.Step("Crate", state, 1)
	if err != nil || changed || state["x"] != 1 {
		t.Fatalf("expected no-op, got %v %v %v", changed, err, state)
	}
	if e.HasStep("Crate") {
		t.Fatalf("expected no step for Crate")
	}
}

func TestStepRuntimeError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ai/broken.lua", `function step_broken(s, dt) error("boom") end`)
	e, err := NewEngine(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()

	if !e.HasStep("Broken") {
		t.Fatalf("expected subdirectory script to load")
	}
	if _, err := e.Step("Broken", map[string]float64{}, 1); err == nil {
		t.Fatalf("expected lua error")
	}
}

func TestLoadSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "bad.lua", `function (`)
	if _, err := NewEngine(dir, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestMissingDir(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "absent"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("expected missing dir to be fine, got %v", err)
	}
	e.Close()
}

func TestStepFuncName(t *testing.T) {
	if got := StepFunc("Heavy Crate-2"); got != "step_heavy_crate_2" {
		t.Fatalf("expected step_heavy_crate_2, got %s", got)
	}
}
