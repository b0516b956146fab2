// Package template renders handler configuration values against the state of
// the run they belong to.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/conduit/pkg/protocol"
)

// Data builds the template data for an action:
//
//	.params      dynamic start parameters (lower-case keys)
//	.parameters  the action's own parameters
//	.results     exit data of the actions that already ran, by name
//	.plan        name and instance_id of the plan instance
//	.action      name and instance_id of the action
//	.env         the process environment
func Data(actionCtx protocol.ActionContext) map[string]any {
	action := map[string]any{}
	parameters := map[string]any{}

	if actionCtx.Action != nil {
		action["name"] = actionCtx.Action.Name
		action["instance_id"] = actionCtx.Action.InstanceID
		action["parent_instance_id"] = actionCtx.Action.ParentInstanceID

		for k, v := range actionCtx.Action.Parameters {
			parameters[k] = v
		}
	}

	params := make(map[string]any, len(actionCtx.Parameters))
	for k, v := range actionCtx.Parameters {
		params[strings.ToLower(k)] = v
	}

	results := actionCtx.Results
	if results == nil {
		results = map[string]any{}
	}

	return map[string]any{
		"params":     params,
		"parameters": parameters,
		"results":    results,
		"plan": map[string]any{
			"name":        actionCtx.PlanName,
			"instance_id": actionCtx.PlanInstanceID,
		},
		"action":  action,
		"dry_run": actionCtx.DryRun,
		"env":     getEnvVars(),
	}
}

// RenderWithContext renders input against Data(actionCtx) and coerces the
// output like Render.
func RenderWithContext(input string, actionCtx protocol.ActionContext) (any, error) {
	return Render(input, Data(actionCtx))
}

// RenderStringWithContext renders input against Data(actionCtx) and returns
// the raw text.
func RenderStringWithContext(input string, actionCtx protocol.ActionContext) (string, error) {
	return RenderString(input, Data(actionCtx))
}

// Parse checks that templateStr is a valid template.
func Parse(templateStr string) (*template.Template, error) {
	tmpl, err := newTemplate().Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}

// RenderString executes templateStr against data without any coercion.
func RenderString(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// Render executes templateStr against data. Output that looks like JSON is
// decoded, numbers become float64 and booleans become bool.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := Parse(templateStr)
	if err != nil {
		return nil, err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func newTemplate() *template.Template {
	return template.
		New("config").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(upper int) int {
				if upper <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % upper
			},
			"default": func(fallback, value any) any {
				if value == nil || value == "" {
					return fallback
				}

				return value
			},
		})
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
