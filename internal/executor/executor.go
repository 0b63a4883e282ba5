package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skyliftcoin/gemini-web-browser/internal/browser"
	"github.com/skyliftcoin/gemini-web-browser/internal/planner"
	"github.com/skyliftcoin/gemini-web-browser/internal/resolver"
)

var (
	// ErrStaleTarget means a previously resolved element vanished or became
	// invisible between resolution and execution. The orchestrator responds
	// by re-resolving against a fresh PageContext.
	ErrStaleTarget = errors.New("stale target")
	// ErrTimeout means a wait condition did not hold within its bound.
	ErrTimeout = errors.New("action timeout")
	// ErrMissingTarget means a target-bearing step arrived without one.
	ErrMissingTarget = errors.New("step requires a resolved target")
)

const (
	defaultScrollAmount = 300
	maxWaitSeconds      = 60
	waitPollInterval    = 250 * time.Millisecond
)

// PageAccessor is the slice of the browser session the executor drives.
// Tests substitute a scripted fake.
type PageAccessor interface {
	Navigate(ctx context.Context, url string) error
	WaitForLoad(ctx context.Context, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	ScrollBy(ctx context.Context, deltaY int) error
	ScrollIntoView(ctx context.Context, selector string) error
	QueryState(ctx context.Context, selector string) (browser.ElementState, error)
	Screenshot(ctx context.Context) ([]byte, string, error)
	Location(ctx context.Context) (string, error)
}

// ExecutionResult is the terminal outcome of one step.
type ExecutionResult struct {
	Step           planner.Step  `json:"step"`
	Success        bool          `json:"success"`
	Detail         string        `json:"detail,omitempty"`
	URLBefore      string        `json:"url_before,omitempty"`
	URLAfter       string        `json:"url_after,omitempty"`
	URLChanged     bool          `json:"url_changed"`
	ScreenshotPath string        `json:"screenshot_path,omitempty"`
	Attempts       int           `json:"attempts"`
	Duration       time.Duration `json:"duration"`
	Err            error         `json:"-"`
}

// Executor runs one step at a time against the live page, verifying targets
// immediately before acting and retrying transient failures.
type Executor struct {
	page        PageAccessor
	loadTimeout time.Duration
	retry       RetryPolicy
	logger      *zap.Logger
}

func New(page PageAccessor, loadTimeout time.Duration, retry RetryPolicy, logger *zap.Logger) *Executor {
	return &Executor{
		page:        page,
		loadTimeout: loadTimeout,
		retry:       retry,
		logger:      logger.Named("executor"),
	}
}

// Execute runs one step. Target must be non-nil for target-bearing steps.
// The returned result is terminal for this step: retries already happened.
func (e *Executor) Execute(ctx context.Context, step planner.Step, target *resolver.ResolvedTarget) ExecutionResult {
	start := time.Now()
	res := ExecutionResult{Step: step}

	if step.NeedsTarget() && target == nil {
		res.Err = ErrMissingTarget
		res.Detail = ErrMissingTarget.Error()
		res.Duration = time.Since(start)
		return res
	}

	res.URLBefore, _ = e.page.Location(ctx)

	op := func() error { return e.runOnce(ctx, step, target, &res) }
	attempts, err := e.retry.Do(ctx, op)

	res.Attempts = attempts
	res.Duration = time.Since(start)
	res.URLAfter, _ = e.page.Location(ctx)
	res.URLChanged = res.URLAfter != "" && res.URLAfter != res.URLBefore

	if err != nil {
		res.Err = err
		if res.Detail == "" {
			res.Detail = err.Error()
		}
		e.logger.Warn("step failed",
			zap.String("action", string(step.Kind)),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return res
	}

	res.Success = true
	return res
}

func (e *Executor) runOnce(ctx context.Context, step planner.Step, target *resolver.ResolvedTarget, res *ExecutionResult) error {
	switch step.Kind {
	case planner.KindNavigate:
		if err := e.page.Navigate(ctx, step.URL); err != nil {
			return err
		}
		if err := e.page.WaitForLoad(ctx, e.loadTimeout); err != nil {
			return err
		}
		res.Detail = fmt.Sprintf("navigated to %s", step.URL)
		return nil

	case planner.KindClick:
		if err := e.verifyTarget(ctx, target); err != nil {
			return err
		}
		if err := e.page.Click(ctx, target.Selector); err != nil {
			return err
		}
		res.Detail = fmt.Sprintf("clicked %s", target.Selector)
		return nil

	case planner.KindType:
		if err := e.verifyTarget(ctx, target); err != nil {
			return err
		}
		if err := e.page.Type(ctx, target.Selector, step.Text); err != nil {
			return err
		}
		res.Detail = fmt.Sprintf("typed into %s", target.Selector)
		return nil

	case planner.KindScroll:
		if target != nil {
			if err := e.verifyTarget(ctx, target); err != nil {
				return err
			}
			if err := e.page.ScrollIntoView(ctx, target.Selector); err != nil {
				return err
			}
			res.Detail = fmt.Sprintf("scrolled to %s", target.Selector)
			return nil
		}
		amount := step.Amount
		if amount <= 0 {
			amount = defaultScrollAmount
		}
		if step.Direction == "up" {
			amount = -amount
		}
		if err := e.page.ScrollBy(ctx, amount); err != nil {
			return err
		}
		res.Detail = fmt.Sprintf("scrolled %d px", amount)
		return nil

	case planner.KindWait:
		return e.runWait(ctx, step, res)

	case planner.KindScreenshot:
		_, path, err := e.page.Screenshot(ctx)
		if err != nil {
			return err
		}
		res.ScreenshotPath = path
		res.Detail = fmt.Sprintf("screenshot saved to %s", path)
		return nil

	case planner.KindRespond:
		res.Detail = step.Message
		return nil
	}

	return fmt.Errorf("unrecognized action %q", string(step.Kind))
}

// verifyTarget re-checks the element right before acting. Pages mutate
// between resolution and execution; acting on a vanished element is the race
// this guards against.
func (e *Executor) verifyTarget(ctx context.Context, target *resolver.ResolvedTarget) error {
	state, err := e.page.QueryState(ctx, target.Selector)
	if err != nil {
		return err
	}
	if !state.Present || !state.Visible {
		return fmt.Errorf("%w: %s", ErrStaleTarget, target.Selector)
	}
	return nil
}

// runWait polls an element condition or sleeps a fixed delay, both bounded.
func (e *Executor) runWait(ctx context.Context, step planner.Step, res *ExecutionResult) error {
	seconds := step.WaitSeconds
	if seconds <= 0 || seconds > maxWaitSeconds {
		seconds = maxWaitSeconds / 6
	}
	timeout := time.Duration(seconds) * time.Second

	if step.WaitFor == "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeout):
			res.Detail = fmt.Sprintf("waited %s", timeout)
			return nil
		}
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		state, err := e.page.QueryState(ctx, step.WaitFor)
		if err == nil && state.Present && state.Visible {
			res.Detail = fmt.Sprintf("element %s appeared", step.WaitFor)
			return nil
		}
		if err != nil && errors.Is(err, browser.ErrPageUnavailable) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s not present after %s", ErrTimeout, step.WaitFor, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
