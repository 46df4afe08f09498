package engine

import (
	"fmt"
	"workflowsweep/internal/config"
	"workflowsweep/internal/discovery"
)

// ExplicitCandidates turns --repos selectors into candidates, skipping code
// search. Duplicates keep their first position.
func ExplicitCandidates(selectors []string) ([]discovery.Candidate, error) {
	set := discovery.NewCandidateSet()
	for _, sel := range selectors {
		name, err := config.NormalizeRepoSelector(sel)
		if err != nil {
			return nil, fmt.Errorf("resolve --repos: %w", err)
		}
		set.Add(discovery.Candidate{Repository: name})
	}
	return set.List(), nil
}
