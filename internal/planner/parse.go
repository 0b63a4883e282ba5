package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

const proposePlanName = "propose_plan"

// plannerTools declares the structured channel for plans. Models that
// support tool calling use it; everything else falls back to the JSON-array
// text format the prompt mandates.
var plannerTools = []llms.Tool{
	{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        proposePlanName,
			Description: "Submit the ordered sequence of browser actions that accomplishes the task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"steps": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"action": map[string]any{
									"type": "string",
									"enum": []string{"navigate", "click", "type", "scroll", "wait", "screenshot", "respond"},
								},
								"target": map[string]any{
									"type":        "string",
									"description": "Element to act on: a short description ('the search box') or a CSS selector",
								},
								"url":  map[string]any{"type": "string"},
								"text": map[string]any{"type": "string"},
								"direction": map[string]any{
									"type": "string",
									"enum": []string{"up", "down"},
								},
								"amount":       map[string]any{"type": "integer"},
								"wait_seconds": map[string]any{"type": "integer"},
								"wait_for":     map[string]any{"type": "string"},
								"message":      map[string]any{"type": "string"},
							},
							"required": []string{"action"},
						},
					},
				},
				"required": []string{"steps"},
			},
		},
	},
}

var jsonBlockRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// parseStepsFromText extracts a JSON array of steps from a free-text model
// response, tolerating markdown code fences and surrounding prose.
func parseStepsFromText(content string) ([]Step, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty model response", ErrInvalidPlan)
	}

	candidate := content
	if m := jsonBlockRe.FindStringSubmatch(content); len(m) > 1 {
		candidate = strings.TrimSpace(m[1])
	}

	first := strings.Index(candidate, "[")
	last := strings.LastIndex(candidate, "]")
	if first == -1 || last <= first {
		return nil, fmt.Errorf("%w: no JSON array in model response", ErrInvalidPlan)
	}
	candidate = candidate[first : last+1]

	var steps []Step
	if err := json.Unmarshal([]byte(candidate), &steps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return steps, nil
}
