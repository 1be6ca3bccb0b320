// Package pipelineconfig lets operators author a project's pipeline in
// YAML and compiles it to the JSON form the store persists on Project.
package pipelineconfig

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Step is a single pipeline step: a name and the shell command to run.
type Step struct {
	Name    string `json:"name" yaml:"name"`
	Command string `json:"command" yaml:"command"`
}

// Pipeline is a project's full pipeline definition. TimeoutSecs and
// LocalPath are optional; a zero TimeoutSecs means "use the executor's
// default" (600s) and empty LocalPath means "always do a fresh clone".
type Pipeline struct {
	Steps       []Step `json:"steps" yaml:"steps"`
	TimeoutSecs int    `json:"timeout_secs,omitempty" yaml:"timeout_secs,omitempty"`
	LocalPath   string `json:"local_path,omitempty" yaml:"local_path,omitempty"`
}

// CompileYAML parses an operator-authored YAML pipeline definition and
// returns its JSON encoding, ready to store on Project.PipelineJSON.
func CompileYAML(yamlSrc []byte) (json.RawMessage, error) {
	var p Pipeline
	if err := yaml.Unmarshal(yamlSrc, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline yaml: %w", err)
	}
	out, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline json: %w", err)
	}
	return out, nil
}

// DefaultPipeline is what the executor falls back to when a project's
// pipeline configuration is missing or fails to parse: a single step
// that reports the gap instead of silently doing nothing.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Steps: []Step{
			{Name: "check", Command: "echo 'No pipeline configured'"},
		},
		TimeoutSecs: 600,
	}
}

// Parse decodes a Project's stored pipeline JSON, falling back to
// DefaultPipeline on any parse error or empty input — a malformed
// pipeline config must never block admission, only produce a build
// that reports the misconfiguration.
func Parse(raw json.RawMessage) Pipeline {
	if len(raw) == 0 {
		return DefaultPipeline()
	}
	var p Pipeline
	if err := json.Unmarshal(raw, &p); err != nil {
		return DefaultPipeline()
	}
	if p.TimeoutSecs <= 0 {
		p.TimeoutSecs = 600
	}
	return p
}
