package httpserver

import (
	"strings"

	"relayd/internal/config"
)

// allowRule maps a literal mount prefix to an upstream base URL.
type allowRule struct {
	mount    string
	upstream string
}

func buildRules(routes []config.Route) []allowRule {
	rules := make([]allowRule, 0, len(routes))
	for _, r := range routes {
		rules = append(rules, allowRule{mount: r.Mount, upstream: r.Upstream})
	}
	return rules
}

// resolveTarget scans rules in declaration order and returns the upstream
// target for the first rule whose mount is a literal prefix of path
// (first match, not longest match). The target is upstream base + path
// remainder + rawQuery; rawQuery keeps its leading "?" and is appended
// byte-for-byte, never parsed or re-encoded.
func resolveTarget(rules []allowRule, path, rawQuery string) (string, bool) {
	for _, r := range rules {
		if strings.HasPrefix(path, r.mount) {
			return r.upstream + strings.TrimPrefix(path, r.mount) + rawQuery, true
		}
	}
	return "", false
}

// rawQueryWithMark returns the query part of an original request URI
// including the "?", or "" when absent.
func rawQueryWithMark(original string) string {
	if i := strings.IndexByte(original, '?'); i >= 0 {
		return original[i:]
	}
	return ""
}
