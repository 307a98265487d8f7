package policy

import (
	"fmt"
	"net/url"
	"strings"
)

// Router resolves URLs to rules. It is safe for concurrent use because nothing mutates it after [NewRouter].
type Router struct {
	rules []Rule
}

// NewRouter validates rules and returns a router over a private copy of them.
func NewRouter(rules []Rule) (*Router, error) {
	buckets := make(map[string]Rule)
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}

		if !rule.Strategy.UsesCache() {
			continue
		}
		if prev, ok := buckets[rule.CacheName]; ok && prev.Limits() != rule.Limits() {
			return nil, fmt.Errorf("rule %d: bucket %q already declared by %q with different limits", i+1, rule.CacheName, prev.Name)
		}
		buckets[rule.CacheName] = rule
	}

	copied := make([]Rule, len(rules))
	for i, rule := range rules {
		copied[i] = rule.clone()
	}

	return &Router{rules: copied}, nil
}

// MustRouter is [NewRouter] for tables known to be valid at compile time.
func MustRouter(rules []Rule) *Router {
	r, err := NewRouter(rules)
	if err != nil {
		panic(err)
	}
	return r
}

// Route returns the first rule whose matcher accepts u.
//
// URLs without a host never match.
func (r *Router) Route(u *url.URL) (Rule, bool) {
	if u == nil || u.Host == "" {
		return Rule{}, false
	}

	for _, rule := range r.rules {
		if rule.Matcher.Match(u) {
			return rule.clone(), true
		}
	}

	return Rule{}, false
}

// RouteString parses raw and routes it. Unparseable input is "no decision".
func (r *Router) RouteString(raw string) (Rule, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Rule{}, false
	}
	return r.Route(u)
}

// Rules returns a copy of the table in declaration order.
func (r *Router) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	for i, rule := range r.rules {
		out[i] = rule.clone()
	}
	return out
}

// Decision is the outcome of routing one URL.
type Decision struct {
	URL     string `json:"url"`
	Matched bool   `json:"matched"`
	Rule    *Rule  `json:"rule,omitempty"`
}

// Decide routes raw and reports the result in a printable form.
func (r *Router) Decide(raw string) Decision {
	d := Decision{URL: strings.TrimSpace(raw)}
	if rule, ok := r.RouteString(raw); ok {
		d.Matched = true
		d.Rule = &rule
	}
	return d
}

// Buckets returns each bucket named by the table with its limits, in first-declared order.
func (r *Router) Buckets() []Bucket {
	var out []Bucket
	seen := make(map[string]bool)
	for _, rule := range r.rules {
		if !rule.Strategy.UsesCache() || seen[rule.CacheName] {
			continue
		}
		seen[rule.CacheName] = true
		out = append(out, Bucket{Name: rule.CacheName, Expiration: rule.Limits()})
	}
	return out
}

// Bucket pairs a bucket name with the limits its rules declare.
type Bucket struct {
	Name       string
	Expiration Expiration
}
