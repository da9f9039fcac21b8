package pathpolicy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/fulmenhq/reface/pkg/safeio"
	"github.com/open-policy-agent/opa/v1/rego"
)

// PolicyQuery is the rule a path policy module must define. It is a set of denial messages.
const PolicyQuery = "data.reface.paths.deny"

// Policy is a prepared Rego module evaluated once per destination path with input
// {"path": ..., "root": ..., "exceptions": [...]}.
type Policy struct {
	query rego.PreparedEvalQuery
}

// LoadPolicy reads and compiles a Rego module from disk.
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	clean, err := safeio.CleanUserPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid policy path: %w", err)
	}
	data, err := os.ReadFile(clean) // #nosec G304 -- operator supplied policy file
	if err != nil {
		return nil, fmt.Errorf("policy file not accessible: %w", err)
	}
	return CompilePolicy(ctx, string(data))
}

// CompilePolicy prepares Rego source for evaluation.
func CompilePolicy(ctx context.Context, source string) (*Policy, error) {
	pq, err := rego.New(
		rego.Query(PolicyQuery),
		rego.Module("policy.rego", source),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile path policy: %w", err)
	}
	return &Policy{query: pq}, nil
}

// Deny returns the sorted denial messages for one path.
func (p *Policy) Deny(ctx context.Context, path string, scope Scope) ([]string, error) {
	exceptions := make([]interface{}, 0, len(scope.Exceptions))
	for _, e := range scope.Exceptions {
		exceptions = append(exceptions, e)
	}
	input := map[string]interface{}{
		"path":       path,
		"root":       scope.Root,
		"exceptions": exceptions,
	}
	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluate path policy: %w", err)
	}

	var msgs []string
	for _, r := range rs {
		for _, expr := range r.Expressions {
			items, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, item := range items {
				msgs = append(msgs, fmt.Sprint(item))
			}
		}
	}
	sort.Strings(msgs)
	return msgs, nil
}
