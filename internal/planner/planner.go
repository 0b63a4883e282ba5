package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/skyliftcoin/gemini-web-browser/internal/browser"
)

// ErrInvalidPlan means the model produced a plan that failed validation or
// could not be parsed at all.
var ErrInvalidPlan = errors.New("invalid plan")

const maxSummaryElements = 40

// HistoryEntry summarizes one executed step for re-planning context.
type HistoryEntry struct {
	Step    Step
	Success bool
	Detail  string
}

// Planner turns an instruction plus the current page into a validated Plan
// via the injected model.
type Planner struct {
	model     llms.Model
	modelName string
	prompts   *PromptManager
	maxSteps  int
	logger    *zap.Logger
}

func New(model llms.Model, modelName string, prompts *PromptManager, maxSteps int, logger *zap.Logger) *Planner {
	return &Planner{
		model:     model,
		modelName: modelName,
		prompts:   prompts,
		maxSteps:  maxSteps,
		logger:    logger.Named("planner"),
	}
}

// Plan asks the model for an ordered action sequence. history and feedback
// are only populated on the single allowed re-plan: history carries the
// executed steps so far, feedback the reason the previous attempt failed.
func (p *Planner) Plan(ctx context.Context, instruction string, pc *browser.PageContext, history []HistoryEntry, feedback string) (*Plan, error) {
	systemPrompt, err := p.prompts.SystemPrompt()
	if err != nil {
		p.logger.Warn("falling back to built-in system prompt", zap.Error(err))
		systemPrompt = defaultSystemPrompt
	}

	userPrompt := p.buildUserPrompt(instruction, pc, history, feedback)

	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(systemPrompt)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(userPrompt)}},
	}

	resp, err := p.model.GenerateContent(ctx, messages, llms.WithTools(plannerTools))
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: model returned no choices", ErrInvalidPlan)
	}

	steps, err := p.extractSteps(resp.Choices[0])
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Instruction: instruction,
		Steps:       steps,
		Replan:      feedback != "" || len(history) > 0,
		CreatedAt:   time.Now(),
	}
	if err := plan.Validate(p.maxSteps); err != nil {
		return nil, err
	}

	p.logger.Info("plan generated",
		zap.Int("steps", len(plan.Steps)),
		zap.Bool("replan", plan.Replan),
		zap.String("model", p.modelName),
	)
	return plan, nil
}

// extractSteps prefers the propose_plan tool call and falls back to a JSON
// array embedded in free text, which is what less tool-capable models return.
func (p *Planner) extractSteps(choice *llms.ContentChoice) ([]Step, error) {
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != proposePlanName {
			continue
		}
		var payload struct {
			Steps []Step `json:"steps"`
		}
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &payload); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s arguments: %v", ErrInvalidPlan, proposePlanName, err)
		}
		return payload.Steps, nil
	}

	steps, err := parseStepsFromText(choice.Content)
	if err != nil {
		p.logger.Warn("unparseable model response",
			zap.String("content", truncate(choice.Content, 500)),
			zap.Error(err))
		return nil, err
	}
	return steps, nil
}

func (p *Planner) buildUserPrompt(instruction string, pc *browser.PageContext, history []HistoryEntry, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n\n", instruction)
	b.WriteString(summarizePage(pc))

	if len(history) > 0 {
		b.WriteString("\nPREVIOUSLY EXECUTED STEPS:\n")
		for i, h := range history {
			status := "ok"
			if !h.Success {
				status = "FAILED"
			}
			fmt.Fprintf(&b, "%d. %s -> %s", i+1, h.Step.String(), status)
			if h.Detail != "" {
				fmt.Fprintf(&b, " (%s)", h.Detail)
			}
			b.WriteString("\n")
		}
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\nYOUR PREVIOUS PLAN WAS REJECTED: %s\nProduce a corrected plan.\n", feedback)
	}
	return b.String()
}

// summarizePage renders the PageContext compactly enough for a prompt.
func summarizePage(pc *browser.PageContext) string {
	var b strings.Builder
	if pc == nil {
		b.WriteString("CURRENT PAGE: (no page loaded)\n")
		return b.String()
	}
	fmt.Fprintf(&b, "CURRENT PAGE: %s\nTITLE: %s\n", pc.URL, pc.Title)
	if pc.Excerpt != "" {
		fmt.Fprintf(&b, "PAGE TEXT:\n%s\n", truncate(pc.Excerpt, 800))
	}
	if len(pc.Elements) > 0 {
		b.WriteString("INTERACTIVE ELEMENTS:\n")
		for i, el := range pc.Elements {
			if i >= maxSummaryElements {
				fmt.Fprintf(&b, "... and %d more\n", len(pc.Elements)-i)
				break
			}
			b.WriteString(describeElement(el))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func describeElement(el browser.Element) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- <%s", el.Tag)
	if el.Type != "" {
		fmt.Fprintf(&b, " type=%s", el.Type)
	}
	if el.ID != "" {
		fmt.Fprintf(&b, " id=%s", el.ID)
	}
	if el.Name != "" {
		fmt.Fprintf(&b, " name=%s", el.Name)
	}
	if el.Placeholder != "" {
		fmt.Fprintf(&b, " placeholder=%q", truncate(el.Placeholder, 40))
	}
	if el.AriaLabel != "" {
		fmt.Fprintf(&b, " aria-label=%q", truncate(el.AriaLabel, 40))
	}
	b.WriteString(">")
	if el.Text != "" {
		fmt.Fprintf(&b, " %q", truncate(el.Text, 60))
	}
	fmt.Fprintf(&b, " selector=%s", el.Selector)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up off a multi-byte rune rather than splitting it.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
