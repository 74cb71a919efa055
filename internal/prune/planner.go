package prune

import (
	"fmt"
	"sort"

	"github.com/verprune/verprune/internal/policy"
)

// Planner maps decoded paths to their retention specs.
type Planner struct {
	resolver *policy.Resolver
	policies map[string]policy.Spec
}

// NewPlanner validates the policy table and the rules that reference it.
func NewPlanner(policies map[string]policy.Spec, rules []policy.Rule) (*Planner, error) {
	if _, ok := policies[policy.DefaultPolicy]; !ok {
		return nil, fmt.Errorf("prune: policy %q is required", policy.DefaultPolicy)
	}
	for name, spec := range policies {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("prune: policy %q: %w", name, err)
		}
	}
	resolver, err := policy.NewResolver(rules)
	if err != nil {
		return nil, fmt.Errorf("prune: %w", err)
	}
	for _, name := range resolver.Policies() {
		if _, ok := policies[name]; !ok {
			return nil, fmt.Errorf("prune: rule references unknown policy %q", name)
		}
	}
	return &Planner{resolver: resolver, policies: policies}, nil
}

// Plan returns the policy name and spec governing path.
func (p *Planner) Plan(path string) (string, policy.Spec) {
	name := p.resolver.Resolve(path)
	return name, p.policies[name]
}

// Policies returns the configured policy names in sorted order.
func (p *Planner) Policies() []string {
	names := make([]string, 0, len(p.policies))
	for name := range p.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Explanation describes how a path would be evaluated.
type Explanation struct {
	Path    string
	Policy  string
	Spec    policy.Spec
	Windows []policy.Window
}

// Explain expands the policy for path as if its oldest version were
// oldestAge seconds old.
func (p *Planner) Explain(path string, oldestAge, now int64) Explanation {
	name, spec := p.Plan(path)
	return Explanation{
		Path:    path,
		Policy:  name,
		Spec:    spec,
		Windows: policy.Expand(spec, oldestAge, now),
	}
}
