package policy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/swcache/internal/shared"
)

// Expiration bounds a bucket. Zero fields mean unbounded.
type Expiration struct {
	MaxEntries    int   `json:"max_entries"`
	MaxAgeSeconds int64 `json:"max_age_seconds"`
}

// MaxAge returns MaxAgeSeconds as a [time.Duration].
func (e Expiration) MaxAge() time.Duration {
	return time.Duration(e.MaxAgeSeconds) * time.Second
}

// Rule is one row of the routing table.
type Rule struct {
	Name       string
	Matcher    Matcher
	Strategy   Strategy
	CacheName  string
	Expiration *Expiration
	// NetworkTimeout bounds the network attempt of a NetworkFirst rule. Zero means unset.
	NetworkTimeout time.Duration
}

// Limits returns the rule's expiration, or the zero (unbounded) value when unset.
func (r Rule) Limits() Expiration {
	if r.Expiration == nil {
		return Expiration{}
	}
	return *r.Expiration
}

func (r Rule) clone() Rule {
	if r.Expiration != nil {
		exp := *r.Expiration
		r.Expiration = &exp
	}
	return r
}

// Validate checks the rule is internally consistent.
func (r Rule) Validate() error {
	if r.Matcher == nil {
		return fmt.Errorf("%w: rule %q has no matcher", shared.ErrInvalidRule, r.Name)
	}

	if r.Strategy < NetworkOnly || r.Strategy > NetworkFirst {
		return fmt.Errorf("%w: rule %q has unknown strategy %d", shared.ErrInvalidRule, r.Name, int(r.Strategy))
	}

	if r.Strategy.UsesCache() && r.CacheName == "" {
		return fmt.Errorf("%w: rule %q uses %s but names no cache", shared.ErrInvalidRule, r.Name, r.Strategy)
	}

	if r.NetworkTimeout < 0 {
		return fmt.Errorf("%w: rule %q has a negative network timeout", shared.ErrInvalidRule, r.Name)
	}

	if r.NetworkTimeout > 0 && r.Strategy != NetworkFirst {
		return fmt.Errorf("%w: rule %q sets a network timeout on %s", shared.ErrInvalidRule, r.Name, r.Strategy)
	}

	if e := r.Expiration; e != nil && (e.MaxEntries < 0 || e.MaxAgeSeconds < 0) {
		return fmt.Errorf("%w: rule %q has negative expiration limits", shared.ErrInvalidRule, r.Name)
	}

	return nil
}

type ruleJSON struct {
	Name                  string      `json:"name"`
	Match                 string      `json:"match"`
	Strategy              Strategy    `json:"strategy"`
	CacheName             string      `json:"cache_name,omitempty"`
	Expiration            *Expiration `json:"expiration,omitempty"`
	NetworkTimeoutSeconds float64     `json:"network_timeout_seconds,omitempty"`
}

// MarshalJSON renders the rule with its matcher description.
func (r Rule) MarshalJSON() ([]byte, error) {
	var match string
	if r.Matcher != nil {
		match = r.Matcher.String()
	}
	return json.Marshal(ruleJSON{
		Name:                  r.Name,
		Match:                 match,
		Strategy:              r.Strategy,
		CacheName:             r.CacheName,
		Expiration:            r.Expiration,
		NetworkTimeoutSeconds: r.NetworkTimeout.Seconds(),
	})
}
