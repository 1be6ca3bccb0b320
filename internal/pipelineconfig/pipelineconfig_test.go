package pipelineconfig

import (
	"encoding/json"
	"testing"
)

func TestCompileYAML(t *testing.T) {
	src := []byte(`
steps:
  - name: build
    command: go build ./...
  - name: test
    command: go test ./...
timeout_secs: 120
`)
	raw, err := CompileYAML(src)
	if err != nil {
		t.Fatalf("CompileYAML: %v", err)
	}
	var p Pipeline
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal compiled json: %v", err)
	}
	if len(p.Steps) != 2 || p.Steps[0].Name != "build" || p.TimeoutSecs != 120 {
		t.Fatalf("compiled pipeline = %+v", p)
	}
}

func TestCompileYAMLInvalid(t *testing.T) {
	if _, err := CompileYAML([]byte("not: [valid")); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}

func TestParseEmptyFallsBackToDefault(t *testing.T) {
	p := Parse(nil)
	if len(p.Steps) != 1 || p.Steps[0].Name != "check" || p.TimeoutSecs != 600 {
		t.Fatalf("Parse(nil) = %+v, want default pipeline", p)
	}
}

func TestParseInvalidJSONFallsBackToDefault(t *testing.T) {
	p := Parse(json.RawMessage(`not json`))
	if len(p.Steps) != 1 || p.Steps[0].Name != "check" {
		t.Fatalf("Parse(invalid) = %+v, want default pipeline", p)
	}
}

func TestParseEmptyStepsIsTrivialSuccess(t *testing.T) {
	p := Parse(json.RawMessage(`{"steps":[]}`))
	if len(p.Steps) != 0 {
		t.Fatalf("Parse with empty steps list = %+v, want zero steps (not defaulted)", p)
	}
	if p.TimeoutSecs != 600 {
		t.Fatalf("TimeoutSecs = %d, want default 600 when unset", p.TimeoutSecs)
	}
}

func TestParseMissingTimeoutDefaults(t *testing.T) {
	p := Parse(json.RawMessage(`{"steps":[{"name":"x","command":"echo hi"}]}`))
	if p.TimeoutSecs != 600 {
		t.Fatalf("TimeoutSecs = %d, want default 600", p.TimeoutSecs)
	}
}
