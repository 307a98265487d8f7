package policy

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"
)

// Matcher decides whether a rule applies to a request URL.
type Matcher interface {
	Match(u *url.URL) bool
	String() string
}

type hostSuffixMatcher struct {
	suffix string
	except []string
}

// HostSuffix matches hosts ending in suffix (e.g. ".googleapis.com"), other than the listed exceptions.
func HostSuffix(suffix string, except ...string) Matcher {
	lowered := make([]string, len(except))
	for i, h := range except {
		lowered[i] = strings.ToLower(h)
	}
	return hostSuffixMatcher{suffix: strings.ToLower(suffix), except: lowered}
}

func (m hostSuffixMatcher) Match(u *url.URL) bool {
	host := hostOf(u)
	return strings.HasSuffix(host, m.suffix) && !slices.Contains(m.except, host)
}

func (m hostSuffixMatcher) String() string {
	if len(m.except) == 0 {
		return "host *" + m.suffix
	}
	return fmt.Sprintf("host *%s except %s", m.suffix, strings.Join(m.except, ", "))
}

type hostMatcher string

// Host matches one exact hostname, ignoring case and port.
func Host(host string) Matcher {
	return hostMatcher(strings.ToLower(host))
}

func (m hostMatcher) Match(u *url.URL) bool { return hostOf(u) == string(m) }
func (m hostMatcher) String() string        { return "host " + string(m) }

type patternMatcher struct {
	re *regexp.Regexp
}

// HostPattern matches hosts against a regular expression.
func HostPattern(re *regexp.Regexp) Matcher {
	return patternMatcher{re: re}
}

func (m patternMatcher) Match(u *url.URL) bool { return m.re.MatchString(hostOf(u)) }
func (m patternMatcher) String() string        { return "host ~ " + m.re.String() }

type extensionMatcher []string

// Extension matches URLs whose path ends in one of exts. Leading dots are optional.
func Extension(exts ...string) Matcher {
	m := make(extensionMatcher, len(exts))
	for i, e := range exts {
		m[i] = strings.TrimPrefix(strings.ToLower(e), ".")
	}
	return m
}

func (m extensionMatcher) Match(u *url.URL) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	return ext != "" && slices.Contains(m, ext)
}

func (m extensionMatcher) String() string {
	return "extension " + strings.Join(m, "|")
}

type originMatcher struct {
	origin string
	same   bool
}

// SameOrigin matches URLs served from origin (scheme, host and effective port).
func SameOrigin(origin *url.URL) Matcher {
	return originMatcher{origin: Origin(origin), same: true}
}

// CrossOrigin matches URLs served from anywhere but origin.
func CrossOrigin(origin *url.URL) Matcher {
	return originMatcher{origin: Origin(origin), same: false}
}

func (m originMatcher) Match(u *url.URL) bool {
	return (Origin(u) == m.origin) == m.same
}

func (m originMatcher) String() string {
	if m.same {
		return "same origin " + m.origin
	}
	return "cross origin"
}

type funcMatcher struct {
	name string
	fn   func(*url.URL) bool
}

// Func adapts an arbitrary predicate. name is what the rule table prints.
func Func(name string, fn func(*url.URL) bool) Matcher {
	return funcMatcher{name: name, fn: fn}
}

func (m funcMatcher) Match(u *url.URL) bool { return m.fn(u) }
func (m funcMatcher) String() string        { return m.name }

// Origin returns the serialized origin of u, dropping default ports.
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := hostOf(u)
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}

func hostOf(u *url.URL) string {
	return strings.ToLower(u.Hostname())
}
