package policy

import (
	"fmt"
	"strings"

	"github.com/desertthunder/swcache/internal/shared"
)

// Strategy selects how a routed request is served.
type Strategy int

const (
	NetworkOnly Strategy = iota
	CacheFirst
	StaleWhileRevalidate
	NetworkFirst
)

var strategyNames = [...]string{
	NetworkOnly:          "NetworkOnly",
	CacheFirst:           "CacheFirst",
	StaleWhileRevalidate: "StaleWhileRevalidate",
	NetworkFirst:         "NetworkFirst",
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// UsesCache reports whether the strategy reads or writes a bucket.
func (s Strategy) UsesCache() bool {
	return s != NetworkOnly
}

// MarshalText implements [encoding.TextMarshaler].
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *Strategy) UnmarshalText(b []byte) error {
	parsed, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStrategy accepts the canonical names case-insensitively, with or without
// separators ("stale-while-revalidate", "network_first").
func ParseStrategy(name string) (Strategy, error) {
	norm := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
	for i, n := range strategyNames {
		if strings.ToLower(n) == norm {
			return Strategy(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown strategy %q", shared.ErrInvalidRule, name)
}
