package resolver

import (
	"regexp"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/skyliftcoin/gemini-web-browser/internal/browser"
)

// normalize lowercases and strips the noise words users put around element
// names ("the search box" -> "search box").
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, `"'`)
	for _, prefix := range []string{"the ", "a ", "an "} {
		s = strings.TrimPrefix(s, prefix)
	}
	return strings.Join(strings.Fields(s), " ")
}

// textFields are the element attributes a descriptor may be naming.
func textFields(el browser.Element) []string {
	return []string{el.Text, el.AriaLabel, el.Placeholder, el.Value, el.Title, el.Name, el.ID}
}

// -- Stage 1: exact attribute/text match --

type exactMatcher struct{}

func (m *exactMatcher) Name() string { return "exact" }

func (m *exactMatcher) Match(descriptor string, pc *browser.PageContext) []Candidate {
	var out []Candidate

	// Planners frequently hand back a literal CSS selector; honor it before
	// comparing text.
	if looksLikeCSS(descriptor) {
		for _, el := range pc.Elements {
			if matchesSelector(el, descriptor) {
				out = append(out, Candidate{Element: el, Score: 0.9})
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	want := normalize(descriptor)
	if want == "" {
		return nil
	}
	for _, el := range pc.Elements {
		for _, field := range textFields(el) {
			if field != "" && normalize(field) == want {
				out = append(out, Candidate{Element: el, Score: 1.0})
				break
			}
		}
	}
	return out
}

var cssStartRe = regexp.MustCompile(`^([#.\[]|[a-z]+[#.\[:])`)

func looksLikeCSS(descriptor string) bool {
	d := strings.TrimSpace(descriptor)
	if strings.ContainsAny(d, " \t") && !strings.ContainsAny(d, "#.[>") {
		return false
	}
	return cssStartRe.MatchString(d)
}

// matchesSelector checks a harvested element against the simple selector
// forms planners emit: #id, tag#id, .class, tag.class, [name=x], tag[attr].
// Anything more complex is compared against the generated selector itself.
func matchesSelector(el browser.Element, sel string) bool {
	sel = strings.TrimSpace(sel)
	if sel == el.Selector {
		return true
	}
	if strings.HasPrefix(sel, "#") {
		return el.ID != "" && sel == "#"+el.ID
	}
	if tag, rest, found := strings.Cut(sel, "#"); found {
		return strings.EqualFold(tag, el.Tag) && el.ID == rest
	}
	if strings.HasPrefix(sel, ".") {
		return hasClass(el, sel[1:])
	}
	if tag, rest, found := strings.Cut(sel, "."); found && !strings.Contains(sel, "[") {
		return strings.EqualFold(tag, el.Tag) && hasClass(el, rest)
	}
	if i := strings.Index(sel, "["); i >= 0 {
		tag := sel[:i]
		if tag != "" && !strings.EqualFold(tag, el.Tag) {
			return false
		}
		return matchesAttr(el, sel[i:])
	}
	return strings.EqualFold(sel, el.Tag)
}

func hasClass(el browser.Element, class string) bool {
	for _, c := range strings.Fields(el.Classes) {
		if c == class {
			return true
		}
	}
	return false
}

var attrRe = regexp.MustCompile(`^\[([\w-]+)(?:[~^$*|]?=['"]?([^'"\]]*)['"]?)?\]$`)

func matchesAttr(el browser.Element, attr string) bool {
	m := attrRe.FindStringSubmatch(attr)
	if m == nil {
		return false
	}
	name, value := m[1], m[2]
	var have string
	switch name {
	case "name":
		have = el.Name
	case "type":
		have = el.Type
	case "placeholder":
		have = el.Placeholder
	case "aria-label":
		have = el.AriaLabel
	case "title":
		have = el.Title
	case "value":
		have = el.Value
	case "id":
		have = el.ID
	default:
		return false
	}
	if value == "" {
		return have != ""
	}
	return strings.EqualFold(have, value)
}

// -- Stage 2: fuzzy text similarity --

type fuzzyMatcher struct{}

func (m *fuzzyMatcher) Name() string { return "fuzzy" }

func (m *fuzzyMatcher) Match(descriptor string, pc *browser.PageContext) []Candidate {
	want := normalize(descriptor)
	if want == "" {
		return nil
	}

	var out []Candidate
	for _, el := range pc.Elements {
		best := 0.0
		for _, field := range textFields(el) {
			if field == "" {
				continue
			}
			if score := similarity(want, normalize(field)); score > best {
				best = score
			}
		}
		if best > 0 {
			out = append(out, Candidate{Element: el, Score: best})
		}
	}
	return out
}

// similarity blends containment with normalized Levenshtein distance so both
// "search" vs "Search products" and small typos rank sensibly.
func similarity(want, have string) float64 {
	if want == have {
		return 1.0
	}
	if strings.Contains(have, want) {
		ratio := float64(len(want)) / float64(len(have))
		return 0.7 + 0.25*ratio
	}
	dist := fuzzy.LevenshteinDistance(want, have)
	longest := len(want)
	if len(have) > longest {
		longest = len(have)
	}
	if longest == 0 {
		return 0
	}
	score := 1.0 - float64(dist)/float64(longest)
	if score < 0 {
		return 0
	}
	// Scale well below containment so substring hits always outrank
	// edit-distance coincidences, and loose ones fall under the acceptance
	// threshold where the role stage can still claim the descriptor.
	return score * 0.55
}

// -- Stage 3: role heuristics --

type role int

const (
	roleNone role = iota
	roleSearchBox
	roleSearchButton
	roleTextInput
	roleButton
	roleLink
)

var (
	searchBoxRe    = regexp.MustCompile(`search\s*(box|bar|field|input)|query\s*(box|field)`)
	searchButtonRe = regexp.MustCompile(`(search|submit|go)\s*button|^submit$`)
	textInputRe    = regexp.MustCompile(`(text|input)\s*(box|field)|^input$`)
	buttonRe       = regexp.MustCompile(`button`)
	linkRe         = regexp.MustCompile(`link|result`)
	ordinalRe      = regexp.MustCompile(`^(first|second|third|fourth|fifth|\d+(?:st|nd|rd|th))\s+`)
)

func classifyRole(descriptor string) (role, int) {
	d := normalize(descriptor)
	nth := 0
	if m := ordinalRe.FindString(d); m != "" {
		nth = ordinalIndex(strings.TrimSpace(m))
		d = strings.TrimSpace(strings.TrimPrefix(d, m))
	}
	switch {
	case searchBoxRe.MatchString(d):
		return roleSearchBox, nth
	case searchButtonRe.MatchString(d):
		return roleSearchButton, nth
	case textInputRe.MatchString(d):
		return roleTextInput, nth
	case buttonRe.MatchString(d):
		return roleButton, nth
	case linkRe.MatchString(d):
		return roleLink, nth
	}
	return roleNone, nth
}

func ordinalIndex(word string) int {
	switch word {
	case "first":
		return 0
	case "second":
		return 1
	case "third":
		return 2
	case "fourth":
		return 3
	case "fifth":
		return 4
	}
	n := 0
	for _, r := range word {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	if n > 0 {
		return n - 1
	}
	return 0
}

type roleMatcher struct{}

func (m *roleMatcher) Name() string { return "role" }

func (m *roleMatcher) Match(descriptor string, pc *browser.PageContext) []Candidate {
	r, nth := classifyRole(descriptor)
	if r == roleNone {
		return nil
	}

	var out []Candidate
	for _, el := range pc.Elements {
		if score := roleScore(r, el); score > 0 {
			out = append(out, Candidate{Element: el, Score: score})
		}
	}
	if nth > 0 {
		rankCandidates(out)
		if nth >= len(out) {
			return nil
		}
		picked := out[nth]
		picked.Score += 0.05
		return []Candidate{picked}
	}
	return out
}

func roleScore(r role, el browser.Element) float64 {
	switch r {
	case roleSearchBox:
		if el.Tag != "input" && el.Tag != "textarea" {
			return 0
		}
		if el.Tag == "input" && el.Type != "" && el.Type != "text" && el.Type != "search" {
			return 0
		}
		score := 0.55
		if hintsSearch(el) {
			score += 0.2
		}
		if el.InForm {
			score += 0.1
		}
		if el.Box.Top >= 0 && el.Box.Top < 300 {
			score += 0.05
		}
		return score
	case roleSearchButton:
		if !isButtonish(el) {
			return 0
		}
		score := 0.55
		if hintsSearch(el) || el.Type == "submit" {
			score += 0.2
		}
		if el.InForm {
			score += 0.1
		}
		return score
	case roleTextInput:
		if el.Tag != "input" && el.Tag != "textarea" {
			return 0
		}
		if el.Tag == "input" && el.Type != "" && el.Type != "text" && el.Type != "search" && el.Type != "email" && el.Type != "password" {
			return 0
		}
		return 0.55
	case roleButton:
		if !isButtonish(el) {
			return 0
		}
		return 0.55
	case roleLink:
		if el.Tag != "a" || el.Text == "" {
			return 0
		}
		return 0.55
	}
	return 0
}

func isButtonish(el browser.Element) bool {
	if el.Tag == "button" {
		return true
	}
	return el.Tag == "input" && (el.Type == "submit" || el.Type == "button" || el.Type == "image")
}

func hintsSearch(el browser.Element) bool {
	for _, field := range []string{el.Name, el.ID, el.Placeholder, el.AriaLabel, el.Title, el.Text, el.Value, el.Classes} {
		f := strings.ToLower(field)
		if strings.Contains(f, "search") || f == "q" || f == "query" {
			return true
		}
	}
	return false
}
