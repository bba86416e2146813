package extract

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ServiceConstMatcher reports whether a constant name holds a service base
// URL, by glob-matching it against patterns such as "*_SERVICE_URL".
type ServiceConstMatcher []string

// Match reports whether name matches any pattern.
func (m ServiceConstMatcher) Match(name string) bool {
	for _, p := range m {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ServiceKeyFromConst derives a service key from a URL constant name:
// PRICING_SERVICE_URL -> "pricing", RISK_URL -> "risk".
func ServiceKeyFromConst(name string) string {
	key := strings.ToUpper(name)
	for _, suffix := range []string{"_SERVICE_URL", "_BASE_URL", "_URL"} {
		if strings.HasSuffix(key, suffix) {
			key = strings.TrimSuffix(key, suffix)
			break
		}
	}
	return strings.ToLower(key)
}

// ParseServiceURL splits a reconstructed URL pattern into a service key and
// an endpoint path. The key is the service derived from a leading {NAME}
// placeholder, the scheme://host[:port] base of a literal URL, or empty for
// a bare path. Patterns it cannot interpret yield ok=false.
func ParseServiceURL(pattern string, isServiceConst func(string) bool) (serviceKey, path string, ok bool) {
	pattern = strings.TrimSpace(pattern)
	switch {
	case strings.HasPrefix(pattern, "{"):
		end := strings.Index(pattern, "}")
		if end < 0 {
			return "", "", false
		}
		name := pattern[1:end]
		if !isServiceConst(name) {
			return "", "", false
		}
		return ServiceKeyFromConst(name), NormalizePath(pattern[end+1:]), true

	case strings.HasPrefix(pattern, "http://"), strings.HasPrefix(pattern, "https://"):
		base, rest := SplitBaseURL(pattern)
		if base == "" {
			return "", "", false
		}
		return base, NormalizePath(rest), true

	case strings.HasPrefix(pattern, "/"):
		return "", NormalizePath(pattern), true
	}
	return "", "", false
}

// SplitBaseURL splits "scheme://host[:port]/rest" into its base and rest.
func SplitBaseURL(u string) (base, rest string) {
	i := strings.Index(u, "://")
	if i < 0 {
		return "", u
	}
	hostStart := i + 3
	slash := strings.IndexAny(u[hostStart:], "/?#")
	if slash < 0 {
		return strings.TrimRight(u, "/"), ""
	}
	return u[:hostStart+slash], u[hostStart+slash:]
}

// HostOf returns the host name of a base URL without scheme or port.
func HostOf(base string) string {
	if i := strings.Index(base, "://"); i >= 0 {
		base = base[i+3:]
	}
	if i := strings.IndexAny(base, ":/"); i >= 0 {
		base = base[:i]
	}
	return base
}

// NormalizePath strips query and fragment, forces a leading slash, collapses
// duplicate slashes and drops a trailing slash.
func NormalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSpace(p)
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// MatchPath reports whether two endpoint paths match segment by segment,
// treating {param} and <param> segments on either side as wildcards.
func MatchPath(a, b string) bool {
	if a == b {
		return true
	}
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] == bs[i] || isPathParam(as[i]) || isPathParam(bs[i]) {
			continue
		}
		return false
	}
	return true
}

func isPathParam(seg string) bool {
	return (strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")) ||
		(strings.HasPrefix(seg, "<") && strings.HasSuffix(seg, ">"))
}

// ServiceMatchesKey reports whether a service directory name corresponds to
// a service key: "risk_service" matches "risk", "risk-service" and "risk_service".
func ServiceMatchesKey(service, key string) bool {
	if key == "" {
		return false
	}
	return trimServiceSuffix(service) == trimServiceSuffix(key)
}

func trimServiceSuffix(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "-", "_"))
	s = strings.TrimSuffix(s, "_service")
	s = strings.TrimSuffix(s, "service")
	return strings.Trim(s, "_")
}
