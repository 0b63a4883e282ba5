package browser

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const (
	maxHarvestedElements = 150
	maxExcerptChars      = 2000
)

// Rect is an element's bounding box in page viewport coordinates.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

// Element describes one visible interactive element, with a generated unique
// selector usable for later interaction.
type Element struct {
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	Value       string `json:"value,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	AriaLabel   string `json:"aria_label,omitempty"`
	Title       string `json:"title,omitempty"`
	Href        string `json:"href,omitempty"`
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Classes     string `json:"classes,omitempty"`
	Selector    string `json:"selector"`
	InForm      bool   `json:"in_form"`
	InViewport  bool   `json:"in_viewport"`
	Box         Rect   `json:"box"`
	Index       int    `json:"index"`
}

// PageContext is a snapshot of the live page taken for planning and element
// resolution. It is recomputed on demand and never survives a navigation.
type PageContext struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Excerpt    string    `json:"excerpt,omitempty"`
	Elements   []Element `json:"elements"`
	CapturedAt time.Time `json:"captured_at"`
}

// Filter narrows a QueryElements harvest.
type Filter struct {
	Tags           []string
	InViewportOnly bool
	TextContains   string
}

// harvestJS walks the interactive elements the way the planner and resolver
// need them: visible only, with a generated unique selector per element.
const harvestJS = `(function() {
  function cssPath(el) {
    if (el.id) return "#" + CSS.escape(el.id);
    const parts = [];
    let node = el;
    while (node && node.nodeType === 1 && parts.length < 6) {
      if (node.id) { parts.unshift("#" + CSS.escape(node.id)); break; }
      let sel = node.nodeName.toLowerCase();
      const parent = node.parentElement;
      if (parent) {
        const sibs = Array.from(parent.children).filter(c => c.nodeName === node.nodeName);
        if (sibs.length > 1) sel += ":nth-of-type(" + (sibs.indexOf(node) + 1) + ")";
      }
      parts.unshift(sel);
      node = parent;
    }
    return parts.join(" > ");
  }

  const out = [];
  const nodes = document.querySelectorAll("a, button, input, textarea, select");
  let index = 0;
  for (const el of nodes) {
    const rect = el.getBoundingClientRect();
    const style = window.getComputedStyle(el);
    const visible = rect.width > 0 && rect.height > 0 &&
      style.display !== "none" && style.visibility !== "hidden";
    if (!visible) continue;
    out.push({
      tag: el.tagName.toLowerCase(),
      type: el.type || "",
      text: (el.textContent || "").trim().slice(0, 200),
      value: el.value || "",
      placeholder: el.placeholder || "",
      aria_label: el.getAttribute("aria-label") || "",
      title: el.title || "",
      href: el.href || "",
      id: el.id || "",
      name: el.name || "",
      classes: typeof el.className === "string" ? el.className : "",
      selector: cssPath(el),
      in_form: !!el.closest("form"),
      in_viewport: rect.bottom > 0 && rect.top < window.innerHeight,
      box: { top: rect.top, left: rect.left, bottom: rect.bottom, right: rect.right },
      index: index++
    });
    if (out.length >= %MAX%) break;
  }
  return out;
})()`

func buildHarvestJS(max int) string {
	if max <= 0 {
		max = maxHarvestedElements
	}
	return strings.Replace(harvestJS, "%MAX%", strconv.Itoa(max), 1)
}

// CaptureContext snapshots the page: URL, title, visible interactive
// elements, and a readable text excerpt for the planner prompt.
func (s *Session) CaptureContext(ctx context.Context) (*PageContext, error) {
	var (
		pageURL  string
		title    string
		elements []Element
	)
	err := s.run(ctx, s.cfg.ActTimeout(),
		chromedp.Location(&pageURL),
		chromedp.Title(&title),
		chromedp.Evaluate(buildHarvestJS(maxHarvestedElements), &elements),
	)
	if err != nil {
		return nil, err
	}

	pc := &PageContext{
		URL:        pageURL,
		Title:      title,
		Elements:   elements,
		CapturedAt: time.Now(),
	}

	// The excerpt is advisory; a page readability cannot parse still yields a
	// usable context.
	if html, err := s.outerHTML(ctx); err == nil {
		pc.Excerpt = readableExcerpt(html, pageURL)
	} else {
		s.logger.Debug("skipping page excerpt", zap.Error(err))
	}

	return pc, nil
}

// QueryElements harvests fresh elements and applies the filter.
func (s *Session) QueryElements(ctx context.Context, filter Filter) ([]Element, error) {
	var elements []Element
	err := s.run(ctx, s.cfg.ActTimeout(), chromedp.Evaluate(buildHarvestJS(maxHarvestedElements), &elements))
	if err != nil {
		return nil, err
	}
	return applyFilter(elements, filter), nil
}

func applyFilter(elements []Element, filter Filter) []Element {
	needle := strings.ToLower(filter.TextContains)
	var out []Element
	for _, el := range elements {
		if len(filter.Tags) > 0 && !containsFold(filter.Tags, el.Tag) {
			continue
		}
		if filter.InViewportOnly && !el.InViewport {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(el.Text), needle) {
			continue
		}
		out = append(out, el)
	}
	return out
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func (s *Session) outerHTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, s.cfg.ActTimeout(), chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	return html, err
}

// readableExcerpt extracts the main page text, sanitized and truncated so a
// prompt never blows up on a heavy page.
func readableExcerpt(html, pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return ""
	}

	text := bluemonday.StrictPolicy().Sanitize(article.TextContent)
	text = strings.TrimSpace(text)
	if len(text) > maxExcerptChars {
		text = text[:maxExcerptChars] + "\n... (truncated)"
	}
	return text
}
