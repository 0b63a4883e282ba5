package resolver

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skyliftcoin/gemini-web-browser/internal/browser"
)

// Platform holds curated selectors for one site, keyed by role
// ("search_box", "search_button"). Sites evolve; the defaults can be
// extended or replaced from a YAML file without a rebuild.
type Platform struct {
	Hosts     []string            `yaml:"hosts"`
	Selectors map[string][]string `yaml:"selectors"`
}

type Overrides struct {
	Platforms map[string]Platform `yaml:"platforms"`
}

const (
	roleKeySearchBox    = "search_box"
	roleKeySearchButton = "search_button"
)

// DefaultOverrides covers the platforms the planner names most often.
func DefaultOverrides() *Overrides {
	return &Overrides{Platforms: map[string]Platform{
		"google": {
			Hosts: []string{"google.com"},
			Selectors: map[string][]string{
				roleKeySearchBox:    {"textarea[name=q]", "input[name=q]"},
				roleKeySearchButton: {"input[name=btnK]", "button[type=submit]"},
			},
		},
		"ebay": {
			Hosts: []string{"ebay.com"},
			Selectors: map[string][]string{
				roleKeySearchBox:    {"#gh-ac", "input[aria-label='Search for anything']"},
				roleKeySearchButton: {"#gh-btn", "button[type=submit]"},
			},
		},
		"amazon": {
			Hosts: []string{"amazon.com"},
			Selectors: map[string][]string{
				roleKeySearchBox:    {"#twotabsearchtextbox"},
				roleKeySearchButton: {"#nav-search-submit-button", "input[type=submit]"},
			},
		},
		"youtube": {
			Hosts: []string{"youtube.com"},
			Selectors: map[string][]string{
				roleKeySearchBox:    {"input[name=search_query]", "#search"},
				roleKeySearchButton: {"#search-icon-legacy", "button[aria-label='Search']"},
			},
		},
		"duckduckgo": {
			Hosts: []string{"duckduckgo.com"},
			Selectors: map[string][]string{
				roleKeySearchBox:    {"#searchbox_input", "input[name=q]"},
				roleKeySearchButton: {"button[type=submit]"},
			},
		},
		"bing": {
			Hosts: []string{"bing.com"},
			Selectors: map[string][]string{
				roleKeySearchBox:    {"#sb_form_q", "input[name=q]"},
				roleKeySearchButton: {"#search_icon", "input[type=submit]"},
			},
		},
	}}
}

// LoadOverrides reads platform rules from a YAML file and merges them over
// the defaults; file entries win per platform name.
func LoadOverrides(path string) (*Overrides, error) {
	base := DefaultOverrides()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform overrides: %w", err)
	}
	var loaded Overrides
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse platform overrides: %w", err)
	}
	for name, p := range loaded.Platforms {
		base.Platforms[name] = p
	}
	return base, nil
}

// platformMatcher applies a known site's curated selector list before the
// generic heuristics get a chance.
type platformMatcher struct {
	overrides *Overrides
}

func (m *platformMatcher) Name() string { return "platform" }

// applies reports whether the current page or the descriptor itself names a
// known platform.
func (m *platformMatcher) applies(descriptor string, pc *browser.PageContext) bool {
	return m.pick(descriptor, pc) != nil
}

// pick is deterministic: the page's own host outranks a platform merely
// named in the descriptor, and ties are broken by platform name.
func (m *platformMatcher) pick(descriptor string, pc *browser.PageContext) *Platform {
	host := hostOf(pc.URL)
	d := normalize(descriptor)
	names := make([]string, 0, len(m.overrides.Platforms))
	for name := range m.overrides.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := m.overrides.Platforms[name]
		for _, h := range p.Hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return &p
			}
		}
	}
	for _, name := range names {
		if strings.Contains(d, name) {
			p := m.overrides.Platforms[name]
			return &p
		}
	}
	return nil
}

func (m *platformMatcher) Match(descriptor string, pc *browser.PageContext) []Candidate {
	platform := m.pick(descriptor, pc)
	if platform == nil {
		return nil
	}

	r, _ := classifyRole(descriptor)
	var key string
	switch r {
	case roleSearchBox, roleTextInput:
		key = roleKeySearchBox
	case roleSearchButton, roleButton:
		key = roleKeySearchButton
	default:
		return nil
	}

	var out []Candidate
	for _, sel := range platform.Selectors[key] {
		for _, el := range pc.Elements {
			if matchesSelector(el, sel) {
				out = append(out, Candidate{Element: el, Score: 0.95})
			}
		}
		// Selector lists are ordered by preference; stop at the first that
		// exists on the page.
		if len(out) > 0 {
			break
		}
	}
	return out
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
