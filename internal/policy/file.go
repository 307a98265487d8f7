package policy

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/swcache/internal/shared"
	"gopkg.in/yaml.v3"
)

// ruleSpec is the on-disk form of a [Rule]. Exactly one matcher field must be set.
type ruleSpec struct {
	Name                  string   `toml:"name" yaml:"name"`
	Strategy              string   `toml:"strategy" yaml:"strategy"`
	CacheName             string   `toml:"cache_name" yaml:"cache_name"`
	Host                  string   `toml:"host" yaml:"host"`
	HostSuffix            string   `toml:"host_suffix" yaml:"host_suffix"`
	HostPattern           string   `toml:"host_pattern" yaml:"host_pattern"`
	ExcludeHosts          []string `toml:"exclude_hosts" yaml:"exclude_hosts"`
	Extensions            []string `toml:"extensions" yaml:"extensions"`
	SameOrigin            bool     `toml:"same_origin" yaml:"same_origin"`
	CrossOrigin           bool     `toml:"cross_origin" yaml:"cross_origin"`
	MaxEntries            int      `toml:"max_entries" yaml:"max_entries"`
	MaxAgeSeconds         int64    `toml:"max_age_seconds" yaml:"max_age_seconds"`
	NetworkTimeoutSeconds float64  `toml:"network_timeout_seconds" yaml:"network_timeout_seconds"`
}

type ruleFile struct {
	Rules []ruleSpec `toml:"rule" yaml:"rules"`
}

// LoadRules reads a rule table from a .toml, .yaml or .yml file.
//
// origin backs the same_origin and cross_origin matchers.
func LoadRules(path string, origin *url.URL) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&file)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", shared.ErrInvalidRule, path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%w: unknown keys in %s: %s", shared.ErrInvalidRule, path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", shared.ErrInvalidRule, path, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported rules file extension %q", shared.ErrInvalidArgument, ext)
	}

	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("%w: %s declares no rules", shared.ErrInvalidRule, path)
	}

	rules := make([]Rule, 0, len(file.Rules))
	for i, spec := range file.Rules {
		rule, err := spec.build(origin)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func (s ruleSpec) build(origin *url.URL) (Rule, error) {
	strategy, err := ParseStrategy(s.Strategy)
	if err != nil {
		return Rule{}, err
	}

	matcher, err := s.matcher(origin)
	if err != nil {
		return Rule{}, err
	}

	rule := Rule{
		Name:           s.Name,
		Matcher:        matcher,
		Strategy:       strategy,
		CacheName:      s.CacheName,
		NetworkTimeout: time.Duration(s.NetworkTimeoutSeconds * float64(time.Second)),
	}
	if rule.Name == "" {
		rule.Name = s.CacheName
	}
	if s.MaxEntries != 0 || s.MaxAgeSeconds != 0 {
		rule.Expiration = &Expiration{MaxEntries: s.MaxEntries, MaxAgeSeconds: s.MaxAgeSeconds}
	}

	return rule, rule.Validate()
}

func (s ruleSpec) matcher(origin *url.URL) (Matcher, error) {
	var found []Matcher

	if s.Host != "" {
		found = append(found, Host(s.Host))
	}
	if s.HostSuffix != "" {
		found = append(found, HostSuffix(s.HostSuffix, s.ExcludeHosts...))
	}
	if s.HostPattern != "" {
		re, err := regexp.Compile(s.HostPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad host_pattern: %v", shared.ErrInvalidRule, err)
		}
		found = append(found, HostPattern(re))
	}
	if len(s.Extensions) > 0 {
		found = append(found, Extension(s.Extensions...))
	}
	if s.SameOrigin {
		found = append(found, SameOrigin(origin))
	}
	if s.CrossOrigin {
		found = append(found, CrossOrigin(origin))
	}

	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return nil, fmt.Errorf("%w: rule %q has no matcher", shared.ErrInvalidRule, s.Name)
	default:
		return nil, fmt.Errorf("%w: rule %q sets %d matchers, want one", shared.ErrInvalidRule, s.Name, len(found))
	}
}
