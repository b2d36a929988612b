package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// WorkspaceVar is the placeholder token substituted with the resolved
// workspace path in step arguments.
const WorkspaceVar = "${workspace}"

// StepConfig describes one executable step within a stage.
type StepConfig struct {
	Name  string         `yaml:"name"`
	Title string         `yaml:"title"`
	Args  map[string]any `yaml:"args"`
}

// StageConfig is an ordered group of steps, selectable by ID for partial
// execution.
type StageConfig struct {
	ID    string       `yaml:"id"`
	Title string       `yaml:"title"`
	Steps []StepConfig `yaml:"steps"`
}

// PipelineConfig is the parsed declarative pipeline definition. Read-only
// after load.
type PipelineConfig struct {
	Name          string        `yaml:"name"`
	Version       int           `yaml:"version"`
	Description   string        `yaml:"description"`
	WorkspaceRoot string        `yaml:"workspace_root"`
	Stages        []StageConfig `yaml:"stages"`
}

// pipelineDocument is the on-disk YAML envelope.
type pipelineDocument struct {
	Version  int `yaml:"version"`
	Pipeline struct {
		Name          string        `yaml:"name"`
		Description   string        `yaml:"description"`
		WorkspaceRoot string        `yaml:"workspace_root"`
		Stages        []StageConfig `yaml:"stages"`
	} `yaml:"pipeline"`
}

// LoadPipeline parses a pipeline definition from a YAML file. Missing
// required keys (pipeline.name, stages[].id, steps[].name) are load errors.
func LoadPipeline(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read pipeline %s", path)
	}
	return ParsePipeline(data)
}

// ParsePipeline parses a pipeline definition from YAML bytes.
func ParsePipeline(data []byte) (*PipelineConfig, error) {
	var doc pipelineDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "config: parse pipeline yaml")
	}

	if doc.Pipeline.Name == "" {
		return nil, eris.New("config: pipeline.name is required")
	}

	for i, stage := range doc.Pipeline.Stages {
		if stage.ID == "" {
			return nil, eris.Errorf("config: stages[%d].id is required", i)
		}
		for j, step := range stage.Steps {
			if step.Name == "" {
				return nil, eris.Errorf("config: stages[%d].steps[%d].name is required", i, j)
			}
		}
	}

	cfg := &PipelineConfig{
		Name:          doc.Pipeline.Name,
		Version:       doc.Version,
		Description:   doc.Pipeline.Description,
		WorkspaceRoot: doc.Pipeline.WorkspaceRoot,
		Stages:        doc.Pipeline.Stages,
	}
	return cfg, nil
}

// ResolveVariables recursively substitutes the ${workspace} token inside
// strings, maps and slices. Other value types pass through unchanged. This is
// literal substring replacement, not expression evaluation.
func ResolveVariables(value any, workspacePath string) any {
	switch v := value.(type) {
	case string:
		return strings.ReplaceAll(v, WorkspaceVar, workspacePath)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = ResolveVariables(item, workspacePath)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ResolveVariables(item, workspacePath)
		}
		return out
	default:
		return value
	}
}

// ResolveArgs resolves ${workspace} in a step's argument map, returning a new
// map and leaving the original untouched.
func ResolveArgs(args map[string]any, workspacePath string) map[string]any {
	resolved := make(map[string]any, len(args))
	for k, v := range args {
		resolved[k] = ResolveVariables(v, workspacePath)
	}
	return resolved
}
