package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skyliftcoin/gemini-web-browser/internal/browser"
	"github.com/skyliftcoin/gemini-web-browser/internal/planner"
	"github.com/skyliftcoin/gemini-web-browser/internal/resolver"
)

// fakePage scripts page behavior per call so tests can stage failures.
type fakePage struct {
	url        string
	states     []browser.ElementState // consumed per QueryState call
	stateCalls int
	navErr     error
	clickErrs  []error // consumed per Click call
	clickCalls int
	typed      map[string]string
	scrolled   []int
}

func newFakePage() *fakePage {
	return &fakePage{
		url:    "https://shop.example/",
		states: []browser.ElementState{{Present: true, Visible: true, InViewport: true}},
		typed:  map[string]string{},
	}
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	if f.navErr != nil {
		return f.navErr
	}
	f.url = url
	return nil
}

func (f *fakePage) WaitForLoad(ctx context.Context, timeout time.Duration) error { return nil }

func (f *fakePage) Click(ctx context.Context, selector string) error {
	defer func() { f.clickCalls++ }()
	if f.clickCalls < len(f.clickErrs) {
		return f.clickErrs[f.clickCalls]
	}
	return nil
}

func (f *fakePage) Type(ctx context.Context, selector, text string) error {
	f.typed[selector] = text
	return nil
}

func (f *fakePage) ScrollBy(ctx context.Context, deltaY int) error {
	f.scrolled = append(f.scrolled, deltaY)
	return nil
}

func (f *fakePage) ScrollIntoView(ctx context.Context, selector string) error { return nil }

func (f *fakePage) QueryState(ctx context.Context, selector string) (browser.ElementState, error) {
	i := f.stateCalls
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.stateCalls++
	return f.states[i], nil
}

func (f *fakePage) Screenshot(ctx context.Context) ([]byte, string, error) {
	return []byte{1}, "screenshots/shot.png", nil
}

func (f *fakePage) Location(ctx context.Context) (string, error) { return f.url, nil }

func newTestExecutor(page PageAccessor, maxRetries int) *Executor {
	retry := RetryPolicy{MaxRetries: maxRetries, Interval: time.Millisecond}
	return New(page, time.Second, retry, zap.NewNop())
}

func target(selector string) *resolver.ResolvedTarget {
	return &resolver.ResolvedTarget{Selector: selector, Confidence: 1.0, Strategy: "exact"}
}

func TestExecuteNavigate(t *testing.T) {
	page := newFakePage()
	e := newTestExecutor(page, 0)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindNavigate, URL: "https://ebay.com"}, nil)
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://shop.example/", res.URLBefore)
	assert.Equal(t, "https://ebay.com", res.URLAfter)
	assert.True(t, res.URLChanged)
	assert.Equal(t, 1, res.Attempts)
}

func TestExecuteClickAndType(t *testing.T) {
	page := newFakePage()
	e := newTestExecutor(page, 0)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindClick, Target: "search button"}, target("#go"))
	require.NoError(t, res.Err)
	assert.True(t, res.Success)

	res = e.Execute(context.Background(), planner.Step{Kind: planner.KindType, Target: "box", Text: "keyboards"}, target("#q"))
	require.NoError(t, res.Err)
	assert.Equal(t, "keyboards", page.typed["#q"])
}

func TestExecuteMissingTarget(t *testing.T) {
	e := newTestExecutor(newFakePage(), 0)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindClick, Target: "x"}, nil)
	assert.True(t, errors.Is(res.Err, ErrMissingTarget))
	assert.False(t, res.Success)
}

func TestExecuteStaleTarget(t *testing.T) {
	page := newFakePage()
	page.states = []browser.ElementState{{Present: false}}
	e := newTestExecutor(page, 0)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindClick, Target: "x"}, target("#gone"))
	assert.True(t, errors.Is(res.Err, ErrStaleTarget))
	assert.False(t, res.Success)
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	page := newFakePage()
	// First verification sees the element missing, later ones see it.
	page.states = []browser.ElementState{
		{Present: false},
		{Present: true, Visible: true},
	}
	e := newTestExecutor(page, 2)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindClick, Target: "x"}, target("#btn"))
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecuteRetryBudgetExhausted(t *testing.T) {
	page := newFakePage()
	page.states = []browser.ElementState{{Present: false}}
	e := newTestExecutor(page, 2)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindClick, Target: "x"}, target("#btn"))
	assert.True(t, errors.Is(res.Err, ErrStaleTarget))
	assert.Equal(t, 3, res.Attempts) // initial try + 2 retries
}

func TestExecuteNoRetryOnPermanentError(t *testing.T) {
	page := newFakePage()
	page.navErr = browser.ErrPageUnavailable
	e := newTestExecutor(page, 2)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindNavigate, URL: "https://x.example"}, nil)
	assert.True(t, errors.Is(res.Err, browser.ErrPageUnavailable))
	assert.Equal(t, 1, res.Attempts)
}

func TestExecuteScroll(t *testing.T) {
	page := newFakePage()
	e := newTestExecutor(page, 0)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindScroll, Direction: "down"}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, []int{300}, page.scrolled)

	res = e.Execute(context.Background(), planner.Step{Kind: planner.KindScroll, Direction: "up", Amount: 120}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, []int{300, -120}, page.scrolled)
}

func TestExecuteWaitForElement(t *testing.T) {
	page := newFakePage()
	page.states = []browser.ElementState{
		{Present: false},
		{Present: false},
		{Present: true, Visible: true},
	}
	e := newTestExecutor(page, 0)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindWait, WaitFor: ".results", WaitSeconds: 5}, nil)
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
}

func TestExecuteWaitTimeout(t *testing.T) {
	page := newFakePage()
	page.states = []browser.ElementState{{Present: false}}
	e := newTestExecutor(page, 0)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindWait, WaitFor: ".never", WaitSeconds: 1}, nil)
	assert.True(t, errors.Is(res.Err, ErrTimeout))
}

func TestExecuteScreenshot(t *testing.T) {
	page := newFakePage()
	e := newTestExecutor(page, 0)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindScreenshot}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "screenshots/shot.png", res.ScreenshotPath)
}

func TestExecuteRespondTouchesNoPage(t *testing.T) {
	page := newFakePage()
	e := newTestExecutor(page, 0)

	res := e.Execute(context.Background(), planner.Step{Kind: planner.KindRespond, Message: "all done"}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "all done", res.Detail)
	assert.Equal(t, 0, page.stateCalls)
	assert.Equal(t, 0, page.clickCalls)
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, transient(ErrStaleTarget))
	assert.True(t, transient(ErrTimeout))
	assert.True(t, transient(browser.ErrLoadTimeout))
	assert.True(t, transient(browser.ErrActionTimeout))
	assert.False(t, transient(browser.ErrPageUnavailable))
	assert.False(t, transient(errors.New("arbitrary")))
}
