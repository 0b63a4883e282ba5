package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skyliftcoin/gemini-web-browser/internal/browser"
	"github.com/skyliftcoin/gemini-web-browser/internal/executor"
	"github.com/skyliftcoin/gemini-web-browser/internal/governance"
	"github.com/skyliftcoin/gemini-web-browser/internal/planner"
	"github.com/skyliftcoin/gemini-web-browser/internal/resolver"
	"github.com/skyliftcoin/gemini-web-browser/internal/store"
)

type plannerCall struct {
	history  []planner.HistoryEntry
	feedback string
}

type fakePlanner struct {
	plans []*planner.Plan
	errs  []error
	calls []plannerCall
}

func (f *fakePlanner) Plan(ctx context.Context, instruction string, pc *browser.PageContext, history []planner.HistoryEntry, feedback string) (*planner.Plan, error) {
	i := len(f.calls)
	f.calls = append(f.calls, plannerCall{history: history, feedback: feedback})
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.plans) {
		i = len(f.plans) - 1
	}
	return f.plans[i], nil
}

type fakeResolver struct {
	targets map[string]*resolver.ResolvedTarget
	err     error
	calls   []string
	pages   []*browser.PageContext
}

func (f *fakeResolver) Resolve(descriptor string, pc *browser.PageContext, opts resolver.Options) (*resolver.ResolvedTarget, error) {
	f.calls = append(f.calls, descriptor)
	f.pages = append(f.pages, pc)
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.targets[descriptor]; ok {
		return t, nil
	}
	return &resolver.ResolvedTarget{Selector: "#any", Confidence: 0.9, Strategy: "exact"}, nil
}

type fakeExecutor struct {
	results  []executor.ExecutionResult
	calls    int
	executed []planner.Step
}

func (f *fakeExecutor) Execute(ctx context.Context, step planner.Step, target *resolver.ResolvedTarget) executor.ExecutionResult {
	f.executed = append(f.executed, step)
	i := f.calls
	if i >= len(f.results) {
		return executor.ExecutionResult{Step: step, Success: true, Detail: "ok", Attempts: 1}
	}
	f.calls++
	res := f.results[i]
	res.Step = step
	return res
}

type fakeContextSource struct {
	contexts []*browser.PageContext
	calls    int
	err      error
}

func (f *fakeContextSource) CaptureContext(ctx context.Context) (*browser.PageContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls
	if i >= len(f.contexts) {
		i = len(f.contexts) - 1
	}
	f.calls++
	return f.contexts[i], nil
}

type recordingSink struct {
	mu       sync.Mutex
	started  []string
	plans    []planner.Plan
	steps    []executor.ExecutionResult
	finished []TaskResult
}

func (r *recordingSink) TaskStarted(taskID, instruction string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, taskID)
}

func (r *recordingSink) PlanReady(taskID string, plan planner.Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, plan)
}

func (r *recordingSink) StepFinished(taskID string, index int, res executor.ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, res)
}

func (r *recordingSink) TaskFinished(result TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, result)
}

type memoryStore struct {
	tasks    []string
	finished []string
	plans    []string
	steps    []store.StepRecord
}

func (m *memoryStore) CreateTask(id string, instruction string) error {
	m.tasks = append(m.tasks, id)
	return nil
}

func (m *memoryStore) FinishTask(id string, status string, reason string, replans int) error {
	m.finished = append(m.finished, status)
	return nil
}

func (m *memoryStore) RecordPlan(taskID string, replan bool, planJSON string) error {
	m.plans = append(m.plans, planJSON)
	return nil
}

func (m *memoryStore) RecordStep(rec store.StepRecord) error {
	m.steps = append(m.steps, rec)
	return nil
}

func pageAt(url string) *browser.PageContext {
	return &browser.PageContext{
		URL: url,
		Elements: []browser.Element{
			{Tag: "input", Type: "search", ID: "q", Selector: "#q", InViewport: true},
		},
	}
}

func simplePlan(steps ...planner.Step) *planner.Plan {
	return &planner.Plan{Instruction: "test", Steps: steps}
}

func okResult() executor.ExecutionResult {
	return executor.ExecutionResult{Success: true, Detail: "ok", Attempts: 1}
}

func failResult(err error) executor.ExecutionResult {
	return executor.ExecutionResult{Success: false, Detail: err.Error(), Attempts: 1, Err: err}
}

func TestRunTaskHappyPathOrdering(t *testing.T) {
	plan := simplePlan(
		planner.Step{Kind: planner.KindNavigate, URL: "https://ebay.com"},
		planner.Step{Kind: planner.KindType, Target: "search box", Text: "keyboards"},
		planner.Step{Kind: planner.KindClick, Target: "search button"},
		planner.Step{Kind: planner.KindScreenshot},
	)
	p := &fakePlanner{plans: []*planner.Plan{plan}}
	r := &fakeResolver{}
	e := &fakeExecutor{}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("about:blank")}}
	sink := &recordingSink{}

	orch := New(p, r, e, pc, zap.NewNop(), WithStatusSink(sink))
	result := orch.RunTask(context.Background(), "t1", "search ebay for keyboards")

	assert.Equal(t, StatusSucceeded, result.Status)
	require.Len(t, e.executed, 4)
	for i, step := range plan.Steps {
		assert.Equal(t, step.Kind, e.executed[i].Kind, "step %d out of order", i)
	}
	assert.Equal(t, 0, result.Replans)
	assert.Equal(t, []string{"search box", "search button"}, r.calls)
	require.Len(t, sink.finished, 1)
	assert.Len(t, sink.steps, 4)
}

func TestRunTaskResolvesAgainstFreshPageAfterNavigation(t *testing.T) {
	plan := simplePlan(
		planner.Step{Kind: planner.KindNavigate, URL: "https://shop.example"},
		planner.Step{Kind: planner.KindType, Target: "the search box", Text: "keyboards"},
	)
	p := &fakePlanner{plans: []*planner.Plan{plan}}
	r := &fakeResolver{}
	e := &fakeExecutor{results: []executor.ExecutionResult{
		{Success: true, Detail: "navigated", Attempts: 1, URLBefore: "about:blank", URLAfter: "https://shop.example", URLChanged: true},
	}}
	pc := &fakeContextSource{contexts: []*browser.PageContext{
		pageAt("about:blank"),
		pageAt("https://shop.example"),
	}}

	orch := New(p, r, e, pc, zap.NewNop())
	result := orch.RunTask(context.Background(), "t1", "search the shop for keyboards")

	assert.Equal(t, StatusSucceeded, result.Status)
	// A navigation inside the plan must not cost the replan: the next target
	// resolves against a recapture of the page, not the planning snapshot.
	assert.Equal(t, 0, result.Replans)
	assert.Len(t, p.calls, 1)
	require.Len(t, r.pages, 1)
	assert.Equal(t, "https://shop.example", r.pages[0].URL)
	// One capture for planning, one after the navigation.
	assert.Equal(t, 2, pc.calls)
}

func TestRunTaskKeepsSnapshotWhenURLUnchanged(t *testing.T) {
	plan := simplePlan(
		planner.Step{Kind: planner.KindType, Target: "search box", Text: "keyboards"},
		planner.Step{Kind: planner.KindClick, Target: "search button"},
	)
	p := &fakePlanner{plans: []*planner.Plan{plan}}
	r := &fakeResolver{}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("https://shop.example")}}

	orch := New(p, r, &fakeExecutor{}, pc, zap.NewNop())
	result := orch.RunTask(context.Background(), "t1", "search")

	assert.Equal(t, StatusSucceeded, result.Status)
	require.Len(t, r.pages, 2)
	assert.Same(t, r.pages[0], r.pages[1])
	assert.Equal(t, 1, pc.calls)
}

func TestRunTaskStaleTargetSingleReResolve(t *testing.T) {
	plan := simplePlan(planner.Step{Kind: planner.KindClick, Target: "buy button"})
	p := &fakePlanner{plans: []*planner.Plan{plan}}
	r := &fakeResolver{}
	e := &fakeExecutor{results: []executor.ExecutionResult{
		failResult(fmt.Errorf("%w: #buy", executor.ErrStaleTarget)),
		okResult(),
	}}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("https://shop.example")}}

	orch := New(p, r, e, pc, zap.NewNop())
	result := orch.RunTask(context.Background(), "t1", "buy it")

	assert.Equal(t, StatusSucceeded, result.Status)
	// Resolved once for the first attempt, once more against the fresh page.
	assert.Equal(t, []string{"buy button", "buy button"}, r.calls)
	assert.Len(t, e.executed, 2)
	// Initial capture plus the stale-triggered recapture.
	assert.Equal(t, 2, pc.calls)
	assert.Equal(t, 0, result.Replans)
}

func TestRunTaskStaleTwiceFailsThenReplans(t *testing.T) {
	stale := fmt.Errorf("%w: #buy", executor.ErrStaleTarget)
	plan := simplePlan(planner.Step{Kind: planner.KindClick, Target: "buy button"})
	p := &fakePlanner{plans: []*planner.Plan{plan, plan}}
	r := &fakeResolver{}
	e := &fakeExecutor{results: []executor.ExecutionResult{
		failResult(stale), failResult(stale), failResult(stale), failResult(stale),
	}}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("https://shop.example")}}

	orch := New(p, r, e, pc, zap.NewNop())
	result := orch.RunTask(context.Background(), "t1", "buy it")

	// Each plan gets one re-resolve; persistent staleness burns the single
	// replan and the task fails.
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 1, result.Replans)
	assert.Len(t, p.calls, 2)
	assert.Len(t, e.executed, 4)
}

func TestRunTaskNoMatchUnchangedPageFails(t *testing.T) {
	plan := simplePlan(planner.Step{Kind: planner.KindClick, Target: "phantom button"})
	p := &fakePlanner{plans: []*planner.Plan{plan}}
	r := &fakeResolver{err: fmt.Errorf("%w: %q", resolver.ErrNoMatch, "phantom button")}
	e := &fakeExecutor{}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("https://shop.example")}}

	orch := New(p, r, e, pc, zap.NewNop())
	result := orch.RunTask(context.Background(), "t1", "click the phantom")

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "no matching element")
	// No replan: the page did not change, a second plan would see the same DOM.
	assert.Len(t, p.calls, 1)
	assert.Empty(t, e.executed)
}

func TestRunTaskNoMatchAfterNavigationReplans(t *testing.T) {
	plan := simplePlan(planner.Step{Kind: planner.KindClick, Target: "results link"})
	good := simplePlan(planner.Step{Kind: planner.KindScreenshot})
	p := &fakePlanner{plans: []*planner.Plan{plan, good}}
	r := &fakeResolver{err: fmt.Errorf("%w: %q", resolver.ErrNoMatch, "results link")}
	e := &fakeExecutor{}
	// The page URL moves between planning and the no-match check, so the
	// stale plan is worth one replacement.
	pc := &fakeContextSource{contexts: []*browser.PageContext{
		pageAt("https://shop.example/a"),
		pageAt("https://shop.example/b"),
	}}

	orch := New(p, r, e, pc, zap.NewNop())
	result := orch.RunTask(context.Background(), "t1", "open results")

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, 1, result.Replans)
	require.Len(t, p.calls, 2)
	assert.Contains(t, p.calls[1].feedback, "no matching element")
	require.Len(t, p.calls[1].history, 1)
	assert.False(t, p.calls[1].history[0].Success)
}

func TestRunTaskInvalidPlanGetsOneRetry(t *testing.T) {
	good := simplePlan(planner.Step{Kind: planner.KindScreenshot})
	invalid := fmt.Errorf("%w: step 1: navigate requires a url", planner.ErrInvalidPlan)
	p := &fakePlanner{plans: []*planner.Plan{good, good}, errs: []error{invalid, nil}}
	e := &fakeExecutor{}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("about:blank")}}

	orch := New(p, &fakeResolver{}, e, pc, zap.NewNop())
	result := orch.RunTask(context.Background(), "t1", "snap")

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, 1, result.Replans)
	require.Len(t, p.calls, 2)
	assert.Contains(t, p.calls[1].feedback, "navigate requires a url")
}

func TestRunTaskInvalidPlanTwiceFails(t *testing.T) {
	invalid := fmt.Errorf("%w: nonsense", planner.ErrInvalidPlan)
	p := &fakePlanner{plans: []*planner.Plan{nil}, errs: []error{invalid, invalid}}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("about:blank")}}

	orch := New(p, &fakeResolver{}, &fakeExecutor{}, pc, zap.NewNop())
	result := orch.RunTask(context.Background(), "t1", "nonsense")

	assert.Equal(t, StatusFailed, result.Status)
	assert.Len(t, p.calls, 2)
}

func TestRunTaskPolicyDeny(t *testing.T) {
	plan := simplePlan(planner.Step{Kind: planner.KindNavigate, URL: "file:///etc/passwd"})
	p := &fakePlanner{plans: []*planner.Plan{plan}}
	e := &fakeExecutor{}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("about:blank")}}

	gov := governance.NewDefaultPolicyEngine()
	require.NoError(t, gov.DenyURL(`^file://`))

	orch := New(p, &fakeResolver{}, e, pc, zap.NewNop(), WithPolicy(gov))
	result := orch.RunTask(context.Background(), "t1", "read local file")

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "denied")
	assert.Empty(t, e.executed)
}

func TestRunTaskRespondSetsResponse(t *testing.T) {
	plan := simplePlan(
		planner.Step{Kind: planner.KindScreenshot},
		planner.Step{Kind: planner.KindRespond, Message: "the price is $42"},
	)
	p := &fakePlanner{plans: []*planner.Plan{plan}}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("https://shop.example")}}

	orch := New(p, &fakeResolver{}, &fakeExecutor{}, pc, zap.NewNop())
	result := orch.RunTask(context.Background(), "t1", "what is the price")

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, "the price is $42", result.Response)
}

func TestRunTaskAbortBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &fakePlanner{plans: []*planner.Plan{simplePlan(planner.Step{Kind: planner.KindScreenshot})}}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("about:blank")}}

	orch := New(p, &fakeResolver{}, &fakeExecutor{}, pc, zap.NewNop())
	result := orch.RunTask(ctx, "t1", "anything")

	assert.Equal(t, StatusAborted, result.Status)
	assert.Empty(t, p.calls)
}

func TestRunTaskPersistsHistory(t *testing.T) {
	plan := simplePlan(
		planner.Step{Kind: planner.KindNavigate, URL: "https://ebay.com"},
		planner.Step{Kind: planner.KindScreenshot},
	)
	p := &fakePlanner{plans: []*planner.Plan{plan}}
	pc := &fakeContextSource{contexts: []*browser.PageContext{pageAt("about:blank")}}
	mem := &memoryStore{}

	orch := New(p, &fakeResolver{}, &fakeExecutor{}, pc, zap.NewNop(), WithStore(mem))
	result := orch.RunTask(context.Background(), "t1", "go to ebay")

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, []string{"t1"}, mem.tasks)
	assert.Equal(t, []string{"succeeded"}, mem.finished)
	require.Len(t, mem.plans, 1)
	assert.Contains(t, mem.plans[0], `"navigate"`)
	// One row per executed step.
	require.Len(t, mem.steps, 2)
	assert.Equal(t, "navigate", mem.steps[0].Action)
	assert.Equal(t, 0, mem.steps[0].StepIndex)
	assert.Equal(t, 1, mem.steps[1].StepIndex)
}

func TestRunTaskContextFailureFails(t *testing.T) {
	pc := &fakeContextSource{err: browser.ErrPageUnavailable}
	p := &fakePlanner{plans: []*planner.Plan{simplePlan(planner.Step{Kind: planner.KindScreenshot})}}

	orch := New(p, &fakeResolver{}, &fakeExecutor{}, pc, zap.NewNop())
	result := orch.RunTask(context.Background(), "t1", "anything")

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "page context unavailable")
}
