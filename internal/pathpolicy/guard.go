// Package pathpolicy decides whether a set of destination paths may be mutated.
// The same guard serves unified diffs and full-file rewrite contracts.
package pathpolicy

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/reface/pkg/logger"
	"github.com/fulmenhq/reface/pkg/safeio"
)

// Violation reasons
const (
	ReasonUnsafe      = "unsafe path"
	ReasonOutsideRoot = "outside project root"
	ReasonDenied      = "in denylist"
	ReasonNotAllowed  = "not in whitelist"
	ReasonPolicy      = "policy"
)

// Scope is the authorized root plus root-level exceptions. An empty Root is unrestricted.
type Scope struct {
	Root       string
	Exceptions []string
}

// NewScope builds a scope with the default exceptions: the repository README and the
// project README.
func NewScope(root string, extra ...string) Scope {
	root = normalizeRoot(root)
	exceptions := []string{"README.md"}
	if root != "" {
		exceptions = append(exceptions, root+"/README.md")
	}
	for _, e := range extra {
		if e = normalizePath(e); e != "" {
			exceptions = append(exceptions, e)
		}
	}
	return Scope{Root: root, Exceptions: exceptions}
}

// Contains reports whether path satisfies the scope predicate.
func (s Scope) Contains(path string) bool {
	root := normalizeRoot(s.Root)
	if root == "" {
		return true
	}
	p := normalizePath(path)
	if p == root || strings.HasPrefix(p, root+"/") {
		return true
	}
	for _, e := range s.Exceptions {
		if p == normalizePath(e) {
			return true
		}
	}
	return false
}

// Violation is one rejected path with the reason it was rejected.
type Violation struct {
	Path   string
	Reason string
	Detail string
}

func (v Violation) String() string {
	if v.Detail != "" {
		return fmt.Sprintf("%s (%s: %s)", v.Path, v.Reason, v.Detail)
	}
	return fmt.Sprintf("%s (%s)", v.Path, v.Reason)
}

// ViolationStrings renders violations as "path (reason)".
func ViolationStrings(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.String())
	}
	return out
}

// Guard holds the global pattern sets and an optional Rego policy.
type Guard struct {
	Allow  []string
	Deny   []string
	Policy *Policy
}

// New returns a guard. Empty pattern lists fall back to DefaultAllow and DefaultDeny.
func New(allow, deny []string) *Guard {
	if len(allow) == 0 {
		allow = DefaultAllow
	}
	if len(deny) == 0 {
		deny = DefaultDeny
	}
	return &Guard{Allow: allow, Deny: deny}
}

// Check validates every path and returns all violations. An empty result means accept.
func (g *Guard) Check(ctx context.Context, paths []string, scope Scope) []Violation {
	var violations []Violation
	for _, raw := range paths {
		if err := safeio.CheckRelPath(raw); err != nil {
			violations = append(violations, Violation{Path: raw, Reason: ReasonUnsafe})
			continue
		}
		p := normalizePath(raw)
		if !scope.Contains(p) {
			violations = append(violations, Violation{Path: p, Reason: ReasonOutsideRoot})
		}
		if matchAny(g.Deny, p) {
			violations = append(violations, Violation{Path: p, Reason: ReasonDenied})
		} else if !matchAny(g.Allow, p) {
			violations = append(violations, Violation{Path: p, Reason: ReasonNotAllowed})
		}
		if g.Policy != nil {
			msgs, err := g.Policy.Deny(ctx, p, scope)
			if err != nil {
				violations = append(violations, Violation{Path: p, Reason: ReasonPolicy, Detail: err.Error()})
				continue
			}
			for _, m := range msgs {
				violations = append(violations, Violation{Path: p, Reason: ReasonPolicy, Detail: m})
			}
		}
	}
	if len(violations) > 0 {
		logger.Debug("path policy rejected paths", logger.Int("violations", len(violations)), logger.String("root", scope.Root))
	}
	return violations
}

// Allowed reports whether a single path passes the pattern sets, ignoring scope.
func (g *Guard) Allowed(path string) bool {
	p := normalizePath(path)
	return !matchAny(g.Deny, p) && matchAny(g.Allow, p)
}

func matchAny(patterns []string, path string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, path); err == nil && ok {
			return true
		}
	}
	return false
}

func normalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

func normalizeRoot(root string) string {
	return strings.Trim(normalizePath(root), "/")
}
