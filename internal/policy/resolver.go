package policy

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultPolicy is the policy applied to paths no rule matches.
const DefaultPolicy = "default"

// Rule maps paths to a policy name. Exactly one of Prefix or Glob is set.
type Rule struct {
	Prefix string `yaml:"prefix,omitempty"`
	Glob   string `yaml:"glob,omitempty"`
	Policy string `yaml:"policy"`
}

type globRule struct {
	pattern glob.Glob
	policy  string
}

// Resolver maps decoded paths to policy names.
type Resolver struct {
	prefixes []Rule
	globs    []globRule
}

// NewResolver builds a Resolver. Prefix rules are always consulted before
// glob rules; within each kind the table order is kept.
func NewResolver(rules []Rule) (*Resolver, error) {
	r := &Resolver{}
	for i, rule := range rules {
		if rule.Policy == "" {
			return nil, fmt.Errorf("rule %d: policy is required", i)
		}
		switch {
		case rule.Prefix != "" && rule.Glob != "":
			return nil, fmt.Errorf("rule %d: prefix and glob are mutually exclusive", i)
		case rule.Prefix != "":
			r.prefixes = append(r.prefixes, rule)
		case rule.Glob != "":
			g, err := compileGlob(rule.Glob)
			if err != nil {
				return nil, fmt.Errorf("rule %d: glob %q: %w", i, rule.Glob, err)
			}
			r.globs = append(r.globs, globRule{pattern: g, policy: rule.Policy})
		default:
			return nil, fmt.Errorf("rule %d: prefix or glob is required", i)
		}
	}
	return r, nil
}

// Resolve returns the policy name for path.
func (r *Resolver) Resolve(path string) string {
	for _, rule := range r.prefixes {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule.Policy
		}
	}
	for _, g := range r.globs {
		if g.pattern.Match(path) {
			return g.policy
		}
	}
	return DefaultPolicy
}

// Policies returns every policy name referenced by the rules.
func (r *Resolver) Policies() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, rule := range r.prefixes {
		add(rule.Policy)
	}
	for _, g := range r.globs {
		add(g.policy)
	}
	return names
}

// compileGlob compiles a shell pattern anchored at the start of the path
// only, so "logs/*.gz" also matches "logs/a.gz/part". No separators are
// declared, so '*' matches any run of characters including '/'. Classes
// are negated with '!'; a '^' inside a class is a literal.
func compileGlob(pattern string) (glob.Glob, error) {
	return glob.Compile(pattern + "*")
}
