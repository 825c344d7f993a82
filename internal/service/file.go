package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/planrunner/internal/errors"
	"github.com/Iron-Ham/planrunner/internal/plan"
)

// LoadPlanFile reads a plan definition. Files ending in .json are decoded
// as JSON; anything else as YAML.
func LoadPlanFile(path string) (*plan.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return ParsePlan(data, filepath.Ext(path))
}

// ParsePlan decodes a plan definition. format is a file extension such as
// ".yaml" or ".json"; an empty format is treated as YAML.
func ParsePlan(data []byte, format string) (*plan.Plan, error) {
	var p plan.Plan
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "json":
		dec := json.NewDecoder(strings.NewReader(string(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, errors.NewValidationError("invalid JSON plan").WithCause(err)
		}
	default:
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, errors.NewValidationError("invalid YAML plan").WithCause(err)
		}
	}
	return &p, nil
}

// MarshalPlanYAML renders a plan definition as YAML.
func MarshalPlanYAML(p *plan.Plan) ([]byte, error) {
	return yaml.Marshal(p)
}
