package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skyliftcoin/gemini-web-browser/internal/browser"
	"github.com/skyliftcoin/gemini-web-browser/internal/executor"
	"github.com/skyliftcoin/gemini-web-browser/internal/governance"
	"github.com/skyliftcoin/gemini-web-browser/internal/observability"
	"github.com/skyliftcoin/gemini-web-browser/internal/planner"
	"github.com/skyliftcoin/gemini-web-browser/internal/resolver"
	"github.com/skyliftcoin/gemini-web-browser/internal/store"
)

// ErrAborted is returned when a task is cancelled by the user mid-flight.
var ErrAborted = errors.New("task aborted")

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPlanning   TaskStatus = "planning"
	StatusExecuting  TaskStatus = "executing"
	StatusReplanning TaskStatus = "replanning"
	StatusSucceeded  TaskStatus = "succeeded"
	StatusFailed     TaskStatus = "failed"
	StatusAborted    TaskStatus = "aborted"
)

// TaskResult is the terminal outcome of one task.
type TaskResult struct {
	TaskID      string
	Instruction string
	Status      TaskStatus
	Reason      string
	Response    string
	Results     []executor.ExecutionResult
	Replans     int
	Duration    time.Duration
}

// StepPlanner produces plans from instructions and page state.
type StepPlanner interface {
	Plan(ctx context.Context, instruction string, pc *browser.PageContext, history []planner.HistoryEntry, feedback string) (*planner.Plan, error)
}

// TargetResolver maps a free-text descriptor to a concrete element.
type TargetResolver interface {
	Resolve(descriptor string, pc *browser.PageContext, opts resolver.Options) (*resolver.ResolvedTarget, error)
}

// StepExecutor runs one step against the live page.
type StepExecutor interface {
	Execute(ctx context.Context, step planner.Step, target *resolver.ResolvedTarget) executor.ExecutionResult
}

// ContextSource captures the page state the planner and resolver read.
type ContextSource interface {
	CaptureContext(ctx context.Context) (*browser.PageContext, error)
}

// TaskStore persists task and step history. Optional.
type TaskStore interface {
	CreateTask(id string, instruction string) error
	FinishTask(id string, status string, reason string, replans int) error
	RecordPlan(taskID string, replan bool, planJSON string) error
	RecordStep(rec store.StepRecord) error
}

// StatusSink receives progress updates as a task runs. Gateways implement
// this to relay status to the user.
type StatusSink interface {
	TaskStarted(taskID, instruction string)
	PlanReady(taskID string, plan planner.Plan)
	StepFinished(taskID string, index int, res executor.ExecutionResult)
	TaskFinished(result TaskResult)
}

// Orchestrator drives one task at a time through plan, execute, and a single
// bounded replan.
type Orchestrator struct {
	planner  StepPlanner
	resolver TargetResolver
	executor StepExecutor
	page     ContextSource
	policy   governance.PolicyEngine
	store    TaskStore
	sink     StatusSink
	logger   *zap.Logger

	maxReplans int
}

type Option func(*Orchestrator)

func WithPolicy(p governance.PolicyEngine) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithStore(s TaskStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithStatusSink(s StatusSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithMaxReplans(n int) Option {
	return func(o *Orchestrator) { o.maxReplans = n }
}

func New(p StepPlanner, r TargetResolver, e StepExecutor, page ContextSource, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:    p,
		resolver:   r,
		executor:   e,
		page:       page,
		logger:     logger.Named("agent"),
		maxReplans: 1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunTask executes one instruction end to end. Cancelling ctx aborts the
// task between steps; an in-flight browser call finishes or times out first.
func (o *Orchestrator) RunTask(ctx context.Context, taskID, instruction string) TaskResult {
	start := time.Now()
	taskLog := observability.NewTaskLogger(o.logger, taskID)

	result := TaskResult{TaskID: taskID, Instruction: instruction}
	if o.sink != nil {
		o.sink.TaskStarted(taskID, instruction)
	}
	if o.store != nil {
		if err := o.store.CreateTask(taskID, instruction); err != nil {
			o.logger.Warn("task insert failed", zap.Error(err))
		}
	}

	var history []planner.HistoryEntry
	feedback := ""

	for replan := 0; ; replan++ {
		if err := ctx.Err(); err != nil {
			o.finish(&result, StatusAborted, ErrAborted.Error(), start, taskLog)
			return result
		}

		pc, err := o.page.CaptureContext(ctx)
		if err != nil {
			o.finish(&result, StatusFailed, fmt.Sprintf("page context unavailable: %v", err), start, taskLog)
			return result
		}

		plan, err := o.planner.Plan(ctx, instruction, pc, history, feedback)
		if err != nil {
			if errors.Is(err, planner.ErrInvalidPlan) && replan < o.maxReplans {
				result.Replans++
				feedback = err.Error()
				taskLog.PlanRejected(err.Error())
				continue
			}
			o.finish(&result, StatusFailed, fmt.Sprintf("planning failed: %v", err), start, taskLog)
			return result
		}
		plan.Replan = replan > 0
		taskLog.Plan(len(plan.Steps), plan.Replan)
		o.recordPlan(taskID, plan)
		if o.sink != nil {
			o.sink.PlanReady(taskID, *plan)
		}

		outcome := o.runPlan(ctx, taskID, *plan, pc, &result, &history, taskLog)
		switch outcome.verdict {
		case verdictDone:
			o.finish(&result, StatusSucceeded, outcome.reason, start, taskLog)
			return result
		case verdictAborted:
			o.finish(&result, StatusAborted, ErrAborted.Error(), start, taskLog)
			return result
		case verdictReplan:
			if replan >= o.maxReplans {
				o.finish(&result, StatusFailed, outcome.reason, start, taskLog)
				return result
			}
			result.Replans++
			feedback = outcome.reason
		case verdictFailed:
			o.finish(&result, StatusFailed, outcome.reason, start, taskLog)
			return result
		}
	}
}

type verdict int

const (
	verdictDone verdict = iota
	verdictReplan
	verdictFailed
	verdictAborted
)

type planOutcome struct {
	verdict verdict
	reason  string
}

func (o *Orchestrator) runPlan(ctx context.Context, taskID string, plan planner.Plan, planPC *browser.PageContext, result *TaskResult, history *[]planner.HistoryEntry, taskLog *observability.TaskLogger) planOutcome {
	// pc is the snapshot targets resolve against. A navigation invalidates
	// it, so it is re-captured lazily before the next target-bearing step.
	pc := planPC
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return planOutcome{verdict: verdictAborted}
		}
		taskLog.Step(i, string(step.Kind), step.TargetDescriptor())

		if deny := o.checkPolicy(ctx, step, taskLog); deny != "" {
			return planOutcome{verdict: verdictFailed, reason: deny}
		}

		if step.NeedsTarget() && pc == nil {
			fresh, cerr := o.page.CaptureContext(ctx)
			if cerr != nil {
				return planOutcome{verdict: verdictFailed, reason: fmt.Sprintf("page context unavailable: %v", cerr)}
			}
			pc = fresh
		}

		target, res, err := o.resolveAndExecute(ctx, step, pc, taskLog)
		res.Step = step
		o.recordStep(taskID, i, res, target)
		result.Results = append(result.Results, res)
		*history = append(*history, planner.HistoryEntry{
			Step:    step,
			Success: res.Success,
			Detail:  res.Detail,
		})
		taskLog.StepResult(i, res.Success, res.Detail, res.Attempts)
		if o.sink != nil {
			o.sink.StepFinished(taskID, i, res)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return planOutcome{verdict: verdictAborted}
			}
			reason := fmt.Sprintf("step %d (%s) failed: %v", i, step.Kind, err)
			if o.recoverable(ctx, err, pc) {
				return planOutcome{verdict: verdictReplan, reason: reason}
			}
			return planOutcome{verdict: verdictFailed, reason: reason}
		}

		if res.URLChanged {
			pc = nil
		}

		if step.Kind == planner.KindRespond {
			result.Response = step.Message
		}
	}
	return planOutcome{verdict: verdictDone, reason: "all steps completed"}
}

// resolveAndExecute resolves the step's target when it has one and runs the
// step. A stale target gets exactly one re-resolution against a fresh page
// context before the step is declared failed.
func (o *Orchestrator) resolveAndExecute(ctx context.Context, step planner.Step, pc *browser.PageContext, taskLog *observability.TaskLogger) (*resolver.ResolvedTarget, executor.ExecutionResult, error) {
	var target *resolver.ResolvedTarget
	if step.NeedsTarget() {
		t, err := o.resolver.Resolve(step.TargetDescriptor(), pc, resolver.Options{})
		if err != nil {
			return nil, executor.ExecutionResult{Detail: err.Error(), Err: err}, err
		}
		taskLog.Resolve(step.TargetDescriptor(), t.Selector, t.Strategy, t.Confidence)
		target = t
	}

	res := o.executor.Execute(ctx, step, target)
	if res.Err == nil || !errors.Is(res.Err, executor.ErrStaleTarget) {
		return target, res, res.Err
	}

	// The element went away between resolution and execution. Re-read the
	// page once and try again with a fresh target.
	fresh, err := o.page.CaptureContext(ctx)
	if err != nil {
		return target, res, res.Err
	}
	t, err := o.resolver.Resolve(step.TargetDescriptor(), fresh, resolver.Options{})
	if err != nil {
		return target, res, res.Err
	}
	taskLog.Resolve(step.TargetDescriptor(), t.Selector, t.Strategy, t.Confidence)
	target = t
	res = o.executor.Execute(ctx, step, target)
	return target, res, res.Err
}

func (o *Orchestrator) checkPolicy(ctx context.Context, step planner.Step, taskLog *observability.TaskLogger) string {
	if o.policy == nil {
		return ""
	}
	req := governance.Request{
		Action: string(step.Kind),
		URL:    step.URL,
		Text:   step.Text,
	}
	verdict, err := o.policy.Evaluate(ctx, req)
	if err != nil {
		return fmt.Sprintf("policy evaluation failed: %v", err)
	}
	if verdict.Effect == governance.EffectDeny {
		taskLog.PolicyDeny(string(step.Kind), verdict.Reason)
		return fmt.Sprintf("action %s denied: %s", step.Kind, verdict.Reason)
	}
	return ""
}

// recoverable reports whether a step failure is worth one replan. Unresolved
// targets on an unchanged page are not: the same plan against the same page
// would fail the same way.
func (o *Orchestrator) recoverable(ctx context.Context, err error, pc *browser.PageContext) bool {
	if errors.Is(err, executor.ErrStaleTarget) ||
		errors.Is(err, executor.ErrTimeout) ||
		errors.Is(err, browser.ErrNavigationFailed) ||
		errors.Is(err, browser.ErrLoadTimeout) ||
		errors.Is(err, browser.ErrActionTimeout) {
		return true
	}
	if errors.Is(err, resolver.ErrNoMatch) || errors.Is(err, resolver.ErrAmbiguousMatch) {
		current, cerr := o.page.CaptureContext(ctx)
		if cerr != nil {
			return false
		}
		return current.URL != pc.URL
	}
	return false
}

func (o *Orchestrator) recordPlan(taskID string, plan *planner.Plan) {
	if o.store == nil {
		return
	}
	data, err := json.Marshal(plan)
	if err != nil {
		o.logger.Warn("plan marshal failed", zap.Error(err))
		return
	}
	if err := o.store.RecordPlan(taskID, plan.Replan, string(data)); err != nil {
		o.logger.Warn("plan insert failed", zap.Error(err))
	}
}

func (o *Orchestrator) recordStep(taskID string, index int, res executor.ExecutionResult, target *resolver.ResolvedTarget) {
	if o.store == nil {
		return
	}
	targetSel := ""
	if target != nil {
		targetSel = target.Selector
	}
	rec := store.StepRecord{
		TaskID:    taskID,
		StepIndex: index,
		Action:    string(res.Step.Kind),
		Target:    targetSel,
		Success:   res.Success,
		Detail:    res.Detail,
		Attempts:  res.Attempts,
		URLAfter:  res.URLAfter,
	}
	if err := o.store.RecordStep(rec); err != nil {
		o.logger.Warn("step insert failed", zap.Error(err))
	}
}

func (o *Orchestrator) finish(result *TaskResult, status TaskStatus, reason string, start time.Time, taskLog *observability.TaskLogger) {
	result.Status = status
	result.Reason = reason
	result.Duration = time.Since(start)
	if result.Response == "" && status == StatusSucceeded {
		result.Response = summarizeResults(result.Results)
	}
	taskLog.Finished(string(status), reason)
	if o.store != nil {
		if err := o.store.FinishTask(result.TaskID, string(status), reason, result.Replans); err != nil {
			o.logger.Warn("task update failed", zap.Error(err))
		}
	}
	if o.sink != nil {
		o.sink.TaskFinished(*result)
	}
}

func summarizeResults(results []executor.ExecutionResult) string {
	if len(results) == 0 {
		return "nothing to do"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "completed %d steps", len(results))
	last := results[len(results)-1]
	if last.Detail != "" {
		fmt.Fprintf(&b, "; %s", last.Detail)
	}
	return b.String()
}
