// Package prompts holds the embedded prompt templates.
package prompts

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed prompts
var promptFiles embed.FS

const (
	AnalysisSystem = "analysis_system"
	Analysis       = "analysis"
	MergeSystem    = "merge_system"
	Merge          = "merge"
	RecordExample  = "record_example"
)

// Load loads a prompt from the embedded markdown files.
func Load(name string) (string, error) {
	content, err := promptFiles.ReadFile(fmt.Sprintf("prompts/%s.md", name))
	if err != nil {
		return "", fmt.Errorf("load prompt %s: %w", name, err)
	}
	return string(content), nil
}

// Render loads a prompt and replaces {{.Key}} placeholders. The record
// example is always available as {{.Example}}.
func Render(name string, vars map[string]string) (string, error) {
	content, err := Load(name)
	if err != nil {
		return "", err
	}
	if _, ok := vars["Example"]; !ok && strings.Contains(content, "{{.Example}}") {
		example, err := Load(RecordExample)
		if err != nil {
			return "", err
		}
		content = strings.ReplaceAll(content, "{{.Example}}", strings.TrimSpace(example))
	}
	for key, value := range vars {
		content = strings.ReplaceAll(content, fmt.Sprintf("{{.%s}}", key), value)
	}
	return content, nil
}
