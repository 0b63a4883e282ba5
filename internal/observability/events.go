package observability

import (
	"go.uber.org/zap"
)

// EventType categorizes structured task events.
type EventType string

const (
	EventTypePlan       EventType = "plan"
	EventTypeStep       EventType = "step"
	EventTypeStepResult EventType = "step_result"
	EventTypeResolve    EventType = "resolve"
	EventTypePolicy     EventType = "policy_check"
	EventTypeLLM        EventType = "llm"
	EventTypeTask       EventType = "task"
)

// TaskLogger scopes structured events to one task. The event vocabulary stays
// stable so the JSON log file can be filtered by type.
type TaskLogger struct {
	logger *zap.Logger
	taskID string
}

func NewTaskLogger(logger *zap.Logger, taskID string) *TaskLogger {
	return &TaskLogger{logger: logger.Named("task"), taskID: taskID}
}

func (t *TaskLogger) event(evt EventType, msg string, fields ...zap.Field) {
	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, zap.String("event", string(evt)), zap.String("task_id", t.taskID))
	all = append(all, fields...)
	t.logger.Info(msg, all...)
}

func (t *TaskLogger) Plan(stepCount int, replanned bool) {
	t.event(EventTypePlan, "plan accepted", zap.Int("steps", stepCount), zap.Bool("replanned", replanned))
}

func (t *TaskLogger) PlanRejected(reason string) {
	t.event(EventTypePlan, "plan rejected", zap.String("reason", reason))
}

func (t *TaskLogger) Step(index int, action, target string) {
	t.event(EventTypeStep, "executing step", zap.Int("index", index), zap.String("action", action), zap.String("target", target))
}

func (t *TaskLogger) StepResult(index int, success bool, detail string, attempts int) {
	t.event(EventTypeStepResult, "step finished",
		zap.Int("index", index), zap.Bool("success", success),
		zap.String("detail", detail), zap.Int("attempts", attempts))
}

func (t *TaskLogger) Resolve(descriptor, selector, strategy string, confidence float64) {
	t.event(EventTypeResolve, "target resolved",
		zap.String("descriptor", descriptor), zap.String("selector", selector),
		zap.String("strategy", strategy), zap.Float64("confidence", confidence))
}

func (t *TaskLogger) PolicyDeny(action, reason string) {
	t.event(EventTypePolicy, "action denied by policy", zap.String("action", action), zap.String("reason", reason))
}

func (t *TaskLogger) LLM(promptChars, responseChars int, model string) {
	t.event(EventTypeLLM, "model call complete",
		zap.Int("prompt_chars", promptChars), zap.Int("response_chars", responseChars),
		zap.String("model", model))
}

func (t *TaskLogger) Finished(status, reason string) {
	t.event(EventTypeTask, "task finished", zap.String("status", status), zap.String("reason", reason))
}
