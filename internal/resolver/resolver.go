package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/skyliftcoin/gemini-web-browser/internal/browser"
)

var (
	// ErrNoMatch means no stage produced a candidate above the confidence
	// threshold. Surfaced immediately; never retried by executors.
	ErrNoMatch = errors.New("no matching element")
	// ErrAmbiguousMatch is returned only when the caller requires uniqueness
	// and the top two candidates score within the ambiguity delta.
	ErrAmbiguousMatch = errors.New("ambiguous element match")
)

const (
	defaultMinConfidence = 0.4
	ambiguityDelta       = 0.05
)

// ResolvedTarget is a concrete reference to one DOM element. It is scoped to
// the PageContext it was resolved against and is invalid after navigation.
type ResolvedTarget struct {
	Selector   string
	Confidence float64
	Strategy   string
	Element    browser.Element
	ContextURL string
}

// Candidate is one element with the score a matcher assigned to it.
type Candidate struct {
	Element browser.Element
	Score   float64
}

// Matcher is one strategy in the resolution pipeline. Stages run in order;
// the first stage yielding a candidate above the threshold wins.
type Matcher interface {
	Name() string
	Match(descriptor string, pc *browser.PageContext) []Candidate
}

// Options control one resolution call.
type Options struct {
	// RequireUnique makes near-ties an error instead of best-effort.
	RequireUnique bool
	// MinConfidence overrides the default acceptance threshold when > 0.
	MinConfidence float64
}

type Resolver struct {
	matchers []Matcher
	platform *platformMatcher
	logger   *zap.Logger
}

// New builds the standard pipeline: platform overrides (when the site is
// known), exact attribute/text match, fuzzy text ranking, role heuristics.
func New(logger *zap.Logger, overrides *Overrides) *Resolver {
	if overrides == nil {
		overrides = DefaultOverrides()
	}
	return &Resolver{
		platform: &platformMatcher{overrides: overrides},
		matchers: []Matcher{
			&exactMatcher{},
			&fuzzyMatcher{},
			&roleMatcher{},
		},
		logger: logger.Named("resolver"),
	}
}

// Resolve maps a natural-language or structural descriptor to one element of
// the given PageContext. Resolution is pure over (descriptor, PageContext):
// repeated calls return the same target.
func (r *Resolver) Resolve(descriptor string, pc *browser.PageContext, opts Options) (*ResolvedTarget, error) {
	if pc == nil || len(pc.Elements) == 0 {
		return nil, fmt.Errorf("%w: page has no interactive elements", ErrNoMatch)
	}
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return nil, fmt.Errorf("%w: empty descriptor", ErrNoMatch)
	}

	minConfidence := opts.MinConfidence
	if minConfidence <= 0 {
		minConfidence = defaultMinConfidence
	}

	stages := make([]Matcher, 0, len(r.matchers)+1)
	// A known platform gets its curated selectors ahead of the generic
	// heuristics; elsewhere the overrides cannot apply at all.
	if r.platform.applies(descriptor, pc) {
		stages = append(stages, r.platform)
	}
	stages = append(stages, r.matchers...)

	for _, stage := range stages {
		candidates := stage.Match(descriptor, pc)
		candidates = acceptable(candidates, minConfidence)
		if len(candidates) == 0 {
			continue
		}
		rankCandidates(candidates)

		if opts.RequireUnique && len(candidates) > 1 &&
			candidates[0].Score-candidates[1].Score < ambiguityDelta {
			return nil, fmt.Errorf("%w: %q matched %q and %q with near-equal scores",
				ErrAmbiguousMatch, descriptor, candidates[0].Element.Selector, candidates[1].Element.Selector)
		}

		best := candidates[0]
		r.logger.Debug("descriptor resolved",
			zap.String("descriptor", descriptor),
			zap.String("strategy", stage.Name()),
			zap.String("selector", best.Element.Selector),
			zap.Float64("score", best.Score),
		)
		return &ResolvedTarget{
			Selector:   best.Element.Selector,
			Confidence: best.Score,
			Strategy:   stage.Name(),
			Element:    best.Element,
			ContextURL: pc.URL,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrNoMatch, descriptor)
}

func acceptable(candidates []Candidate, minConfidence float64) []Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.Score >= minConfidence {
			out = append(out, c)
		}
	}
	return out
}

// rankCandidates orders by score, then viewport visibility, then DOM order.
func rankCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Element.InViewport != b.Element.InViewport {
			return a.Element.InViewport
		}
		return a.Element.Index < b.Element.Index
	})
}
