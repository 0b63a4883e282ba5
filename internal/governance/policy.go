package governance

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a browser action to be evaluated.
type Request struct {
	Action   string
	URL      string
	Selector string
	Text     string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates browser actions against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine is a basic implementation of PolicyEngine.
type DefaultPolicyEngine struct {
	DeniedActions map[string]bool
	DeniedHosts   map[string]bool
	DeniedURLs    []*regexp.Regexp
	DeniedText    []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedActions: make(map[string]bool),
		DeniedHosts:   make(map[string]bool),
		DeniedURLs:    make([]*regexp.Regexp, 0),
		DeniedText:    make([]*regexp.Regexp, 0),
	}
}

func (e *DefaultPolicyEngine) DenyAction(name string) {
	e.DeniedActions[name] = true
}

func (e *DefaultPolicyEngine) DenyHost(host string) {
	e.DeniedHosts[strings.ToLower(strings.TrimPrefix(host, "www."))] = true
}

func (e *DefaultPolicyEngine) DenyURL(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedURLs = append(e.DeniedURLs, re)
	return nil
}

func (e *DefaultPolicyEngine) DenyText(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedText = append(e.DeniedText, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedActions[req.Action] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Action '%s' is restricted by system policy", req.Action),
		}, nil
	}

	if req.URL != "" {
		if host := hostOf(req.URL); host != "" && e.DeniedHosts[host] {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Host '%s' is restricted by system policy", host),
			}, nil
		}
		for _, re := range e.DeniedURLs {
			if re.MatchString(req.URL) {
				return Result{
					Effect: EffectDeny,
					Reason: fmt.Sprintf("URL matches restricted pattern: %s", re.String()),
				}, nil
			}
		}
	}

	if req.Text != "" {
		for _, re := range e.DeniedText {
			if re.MatchString(req.Text) {
				return Result{
					Effect: EffectDeny,
					Reason: fmt.Sprintf("Input matches restricted pattern: %s", re.String()),
				}, nil
			}
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
}
