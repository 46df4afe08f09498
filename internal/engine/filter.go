package engine

import (
	"path"
	"strings"
	"workflowsweep/internal/discovery"
)

// Filter narrows the candidate list before remediation.
type Filter struct {
	Include  []string
	Exclude  []string
	MaxRepos int
}

// FilterCandidates applies include/exclude patterns and the MaxRepos cap,
// keeping discovery order.
func FilterCandidates(cands []discovery.Candidate, f Filter) []discovery.Candidate {
	var filtered []discovery.Candidate

	for _, c := range cands {
		fullName := c.Repository
		repoName := fullName
		if i := strings.LastIndex(fullName, "/"); i >= 0 {
			repoName = fullName[i+1:]
		}

		// If Include is set, must match at least one
		if len(f.Include) > 0 && !matchesAnyPattern(f.Include, fullName, repoName) {
			continue
		}

		// If Exclude is set, must not match any
		if len(f.Exclude) > 0 && matchesAnyPattern(f.Exclude, fullName, repoName) {
			continue
		}

		filtered = append(filtered, c)
	}

	if f.MaxRepos > 0 && len(filtered) > f.MaxRepos {
		filtered = filtered[:f.MaxRepos]
	}

	return filtered
}

func matchesAnyPattern(patterns []string, fullName, repoName string) bool {
	for _, p := range patterns {
		if matchPattern(p, fullName, repoName) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, fullName, repoName string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	// If the pattern includes an owner component (contains '/'), match against full name.
	// Otherwise match against repo name only so patterns like "*-service" work across owners.
	if strings.Contains(pattern, "/") {
		matched, _ := path.Match(strings.ToLower(pattern), strings.ToLower(fullName))
		return matched
	}
	matched, _ := path.Match(strings.ToLower(pattern), strings.ToLower(repoName))
	return matched
}
