package models

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StartPlanEnvelope carries a plan together with its dynamic parameters when
// parameters are posted rather than passed on the query string.
type StartPlanEnvelope struct {
	Plan              *Plan             `json:"plan"                         yaml:"plan"`
	DynamicParameters map[string]string `json:"dynamic_parameters,omitempty" yaml:"dynamic_parameters,omitempty"`
}

// CaseInsensitiveParameters returns the dynamic parameters keyed in lower case.
func (e *StartPlanEnvelope) CaseInsensitiveParameters() map[string]string {
	return LowerKeys(e.DynamicParameters)
}

// LowerKeys copies params with every key lower-cased.
func LowerKeys(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[strings.ToLower(k)] = v
	}

	return out
}

// MarshalPlanYAML renders a plan as YAML.
func MarshalPlanYAML(plan *Plan) ([]byte, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	err := enc.Encode(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan %s: %w", plan.Name, err)
	}

	err = enc.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan %s: %w", plan.Name, err)
	}

	return buf.Bytes(), nil
}

// UnmarshalPlanYAML parses a YAML plan document.
func UnmarshalPlanYAML(data []byte) (*Plan, error) {
	var plan Plan

	err := yaml.Unmarshal(data, &plan)
	if err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	return &plan, nil
}

// EncodePlan renders a plan for transport: base64 over YAML.
func EncodePlan(plan *Plan) (string, error) {
	data, err := MarshalPlanYAML(plan)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePlan reverses EncodePlan.
func DecodePlan(encoded string) (*Plan, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode plan payload: %w", err)
	}

	return UnmarshalPlanYAML(data)
}

// EncodeEnvelope renders an envelope for transport: base64 over YAML.
func EncodeEnvelope(envelope *StartPlanEnvelope) (string, error) {
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(encoded string) (*StartPlanEnvelope, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode envelope payload: %w", err)
	}

	var envelope StartPlanEnvelope

	err = yaml.Unmarshal(data, &envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	if envelope.Plan == nil {
		return nil, fmt.Errorf("envelope has no plan: %w", ErrInvalidPlan)
	}

	return &envelope, nil
}
