package planner

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind enumerates the primitive browser actions a plan may contain.
type ActionKind string

const (
	KindNavigate   ActionKind = "navigate"
	KindClick      ActionKind = "click"
	KindType       ActionKind = "type"
	KindScroll     ActionKind = "scroll"
	KindWait       ActionKind = "wait"
	KindScreenshot ActionKind = "screenshot"
	// KindRespond carries a message to the user and touches no page state.
	KindRespond ActionKind = "respond"
)

// Step is one abstract action. Target holds a natural-language descriptor or
// a CSS hint; the resolver turns it into a concrete element reference.
type Step struct {
	Kind        ActionKind `json:"action"`
	Target      string     `json:"target,omitempty"`
	Selector    string     `json:"selector,omitempty"` // legacy alias some models emit
	URL         string     `json:"url,omitempty"`
	Text        string     `json:"text,omitempty"`
	Direction   string     `json:"direction,omitempty"`
	Amount      int        `json:"amount,omitempty"`
	WaitSeconds int        `json:"wait_seconds,omitempty"`
	WaitFor     string     `json:"wait_for,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// TargetDescriptor merges the two field spellings for the element reference.
func (s Step) TargetDescriptor() string {
	if s.Target != "" {
		return s.Target
	}
	return s.Selector
}

// NeedsTarget reports whether the step must be resolved against the page
// before execution.
func (s Step) NeedsTarget() bool {
	switch s.Kind {
	case KindClick, KindType:
		return true
	case KindScroll:
		return s.TargetDescriptor() != ""
	}
	return false
}

func (s Step) String() string {
	var b strings.Builder
	b.WriteString(string(s.Kind))
	if t := s.TargetDescriptor(); t != "" {
		fmt.Fprintf(&b, " %q", t)
	}
	if s.URL != "" {
		fmt.Fprintf(&b, " url=%s", s.URL)
	}
	if s.Text != "" {
		fmt.Fprintf(&b, " text=%q", s.Text)
	}
	return b.String()
}

// Plan is an immutable ordered sequence of steps for one instruction.
// Re-planning produces a new Plan; the old one is never mutated.
type Plan struct {
	Instruction string    `json:"instruction"`
	Steps       []Step    `json:"steps"`
	Replan      bool      `json:"replan"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the structural shape of a plan: recognized kinds, required
// parameters per kind, bounded length. The returned error carries enough
// detail to be fed back to the model for the single allowed re-plan.
func (p *Plan) Validate(maxSteps int) error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan has no steps", ErrInvalidPlan)
	}
	if maxSteps > 0 && len(p.Steps) > maxSteps {
		return fmt.Errorf("%w: plan has %d steps, limit is %d", ErrInvalidPlan, len(p.Steps), maxSteps)
	}

	var problems []string
	for i, s := range p.Steps {
		switch s.Kind {
		case KindNavigate:
			if s.URL == "" {
				problems = append(problems, fmt.Sprintf("step %d: navigate requires a url", i+1))
			}
		case KindClick:
			if s.TargetDescriptor() == "" {
				problems = append(problems, fmt.Sprintf("step %d: click requires a target", i+1))
			}
		case KindType:
			if s.TargetDescriptor() == "" {
				problems = append(problems, fmt.Sprintf("step %d: type requires a target", i+1))
			}
			if s.Text == "" {
				problems = append(problems, fmt.Sprintf("step %d: type requires text", i+1))
			}
		case KindScroll:
			if s.Direction != "" && s.Direction != "up" && s.Direction != "down" {
				problems = append(problems, fmt.Sprintf("step %d: scroll direction must be up or down", i+1))
			}
		case KindWait:
			if s.WaitSeconds <= 0 && s.WaitFor == "" {
				problems = append(problems, fmt.Sprintf("step %d: wait requires wait_seconds or wait_for", i+1))
			}
		case KindScreenshot:
			// No parameters.
		case KindRespond:
			if s.Message == "" {
				problems = append(problems, fmt.Sprintf("step %d: respond requires a message", i+1))
			}
		default:
			problems = append(problems, fmt.Sprintf("step %d: unrecognized action %q", i+1, string(s.Kind)))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(problems, "; "))
	}
	return nil
}
