package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
)

// jsString quotes a Go string as a JavaScript string literal.
func jsString(s string) string {
	return strconv.Quote(s)
}

// actionOutcome is the JSON shape returned by the injected interaction
// snippets.
type actionOutcome struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// ElementState reports whether a previously resolved selector still refers to
// a usable element.
type ElementState struct {
	Present    bool `json:"present"`
	Visible    bool `json:"visible"`
	InViewport bool `json:"in_viewport"`
}

// Navigate starts navigation to the URL. Load completion is a separate
// concern; callers follow up with WaitForLoad.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.cfg.NavTimeout(), chromedp.Navigate(url)); err != nil {
		if errors.Is(err, ErrPageUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrNavigationFailed, url, err)
	}
	return nil
}

// WaitForLoad polls document.readyState until the page is interactive or the
// timeout elapses.
func (s *Session) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		var state string
		err := s.run(ctx, s.cfg.ActTimeout(), chromedp.Evaluate(`document.readyState`, &state))
		if err != nil {
			if errors.Is(err, ErrPageUnavailable) {
				return err
			}
			// Evaluation races the navigation; keep polling until deadline.
		} else if state == "complete" || state == "interactive" {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrLoadTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Location returns the current page URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, s.cfg.ActTimeout(), chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Evaluate runs a script on the page and unmarshals its result into out.
func (s *Session) Evaluate(ctx context.Context, js string, out any) error {
	return s.run(ctx, s.cfg.ActTimeout(), chromedp.Evaluate(js, out))
}

// Click clicks the element behind the selector. Submit-style controls fall
// back to submitting the enclosing form when the click itself has no effect,
// which is what a user pressing a search button expects.
func (s *Session) Click(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`(function() {
  const el = document.querySelector(%s);
  if (!el) return { ok: false, error: "element not found" };
  el.scrollIntoView({ block: "center" });
  const submitFallback = () => {
    const form = el.form || el.closest("form");
    if (form) { form.submit(); return true; }
    return false;
  };
  try {
    el.click();
    if (el.type === "submit" || el.type === "search") {
      setTimeout(submitFallback, 100);
    }
    return { ok: true, tag: el.tagName };
  } catch (e) {
    if (submitFallback()) return { ok: true, tag: "FORM" };
    return { ok: false, error: String(e) };
  }
})()`, jsString(selector))

	var outcome actionOutcome
	if err := s.Evaluate(ctx, js, &outcome); err != nil {
		return err
	}
	if !outcome.OK {
		return fmt.Errorf("click failed: %s", outcome.Error)
	}
	return nil
}

// Type sets the element's value and dispatches input/change events so
// framework-bound inputs observe the edit.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	js := fmt.Sprintf(`(function() {
  const el = document.querySelector(%s);
  if (!el) return { ok: false, error: "element not found" };
  el.focus();
  el.value = %s;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return { ok: true, tag: el.tagName };
})()`, jsString(selector), jsString(text))

	var outcome actionOutcome
	if err := s.Evaluate(ctx, js, &outcome); err != nil {
		return err
	}
	if !outcome.OK {
		return fmt.Errorf("type failed: %s", outcome.Error)
	}
	return nil
}

// ScrollBy scrolls the window by the given vertical delta in pixels.
func (s *Session) ScrollBy(ctx context.Context, deltaY int) error {
	var ok bool
	return s.Evaluate(ctx, fmt.Sprintf(`(function(){ window.scrollBy(0, %d); return true; })()`, deltaY), &ok)
}

// ScrollIntoView scrolls the element behind the selector into the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`(function() {
  const el = document.querySelector(%s);
  if (!el) return { ok: false, error: "element not found" };
  el.scrollIntoView({ behavior: "smooth", block: "center" });
  return { ok: true };
})()`, jsString(selector))

	var outcome actionOutcome
	if err := s.Evaluate(ctx, js, &outcome); err != nil {
		return err
	}
	if !outcome.OK {
		return fmt.Errorf("scroll failed: %s", outcome.Error)
	}
	return nil
}

// QueryState reports whether the selector still matches a present, visible
// element. Executors call this immediately before click/type to catch page
// mutation between resolution and execution.
func (s *Session) QueryState(ctx context.Context, selector string) (ElementState, error) {
	js := fmt.Sprintf(`(function() {
  const el = document.querySelector(%s);
  if (!el) return { present: false, visible: false, in_viewport: false };
  const rect = el.getBoundingClientRect();
  const style = window.getComputedStyle(el);
  const visible = rect.width > 0 && rect.height > 0 &&
    style.display !== "none" && style.visibility !== "hidden";
  const inViewport = visible && rect.bottom > 0 && rect.top < window.innerHeight;
  return { present: true, visible: visible, in_viewport: inViewport };
})()`, jsString(selector))

	var state ElementState
	if err := s.Evaluate(ctx, js, &state); err != nil {
		return ElementState{}, err
	}
	return state, nil
}
