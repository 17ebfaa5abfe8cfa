package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/stepwise"
	"gopkg.in/yaml.v3"
)

// PlanFileLoader loads a plan document from a source (e.g., file, bytes, etc.).
type PlanFileLoader interface {
	Load(path string) (*stepwise.PlanDocument, error)
	Parse(data []byte) (*stepwise.PlanDocument, error)
	Format() string // e.g., "yaml", "json"
}

var (
	loaderMu       sync.RWMutex
	loaderRegistry = make(map[string]PlanFileLoader)
)

// RegisterPlanFileLoader registers a loader under its format name, replacing
// any earlier loader for that format.
func RegisterPlanFileLoader(loader PlanFileLoader) {
	loaderMu.Lock()
	defer loaderMu.Unlock()
	loaderRegistry[loader.Format()] = loader
}

// GetPlanFileLoader retrieves a loader by format name (e.g., "yaml").
func GetPlanFileLoader(format string) (PlanFileLoader, bool) {
	loaderMu.RLock()
	defer loaderMu.RUnlock()
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements PlanFileLoader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Format() string { return "yaml" }

func (l YAMLLoader) Load(path string) (*stepwise.PlanDocument, error) {
	return loadWith(l, path)
}

func (YAMLLoader) Parse(data []byte) (*stepwise.PlanDocument, error) {
	var doc stepwise.PlanDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	return &doc, nil
}

// JSONLoader implements PlanFileLoader for JSON files.
type JSONLoader struct{}

func (JSONLoader) Format() string { return "json" }

func (l JSONLoader) Load(path string) (*stepwise.PlanDocument, error) {
	return loadWith(l, path)
}

func (JSONLoader) Parse(data []byte) (*stepwise.PlanDocument, error) {
	var doc stepwise.PlanDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return &doc, nil
}

func init() {
	RegisterPlanFileLoader(YAMLLoader{})
	RegisterPlanFileLoader(JSONLoader{})
}

func loadWith(loader PlanFileLoader, path string) (*stepwise.PlanDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	return loader.Parse(data)
}

// FormatForPath maps a file extension to a loader format. Unknown extensions
// are treated as YAML.
func FormatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// LoadPlanFile loads a plan document with the loader registered for the
// file's extension.
func LoadPlanFile(path string) (*stepwise.PlanDocument, error) {
	format := FormatForPath(path)
	loader, ok := GetPlanFileLoader(format)
	if !ok {
		return nil, stepwise.NewValidationError("loading", fmt.Sprintf("no %s plan loader registered", format), nil)
	}
	doc, err := loader.Load(path)
	if err != nil {
		return nil, stepwise.NewValidationError("loading", fmt.Sprintf("cannot load plan file %s", path), err)
	}
	return doc, nil
}

// Validate checks a plan document. Missing tool names are errors. Duplicate or
// empty result names and depends_on entries naming no step are returned as
// warnings: they are legal, but later references may not resolve as intended.
func Validate(doc *stepwise.PlanDocument) (warnings []string, err error) {
	if doc == nil {
		return nil, stepwise.NewValidationError("validation", "plan document is nil", nil)
	}

	seen := make(map[string]int, len(doc.Steps))
	for i, step := range doc.Steps {
		if strings.TrimSpace(step.ToolName) == "" {
			return warnings, stepwise.NewValidationError("validation",
				fmt.Sprintf("step %d has no tool_name", i), nil).AtStep(i, step.ResultName)
		}
		if step.ResultName == "" {
			warnings = append(warnings, fmt.Sprintf("step %d (%s) has an empty result_name", i, step.ToolName))
		}
		if first, dup := seen[step.ResultName]; dup {
			warnings = append(warnings, fmt.Sprintf("step %d overwrites result '%s' from step %d", i, step.ResultName, first))
		} else {
			seen[step.ResultName] = i
		}
	}
	for i, step := range doc.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				warnings = append(warnings, fmt.Sprintf("step %d depends on '%s', which no step produces", i, dep))
			}
		}
	}
	return warnings, nil
}

// LoadAndValidatePlan loads a plan file, validates it, and returns the Plan
// together with any validation warnings.
func LoadAndValidatePlan(path string) (*stepwise.Plan, []string, error) {
	doc, err := LoadPlanFile(path)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := Validate(doc)
	if err != nil {
		return nil, warnings, err
	}
	if doc.Name == "" {
		doc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc.ToPlan(), warnings, nil
}
