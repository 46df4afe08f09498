package discovery

// Candidate is a repository whose workflow files matched the signature search.
type Candidate struct {
	Repository string `json:"repository"`
	// Path is the file that first matched. Empty for explicitly targeted repositories.
	Path string `json:"path,omitempty"`
}

// CandidateSet deduplicates candidates by repository full name, keeping the first
// discovery and the insertion order.
type CandidateSet struct {
	items []Candidate
	index map[string]int
}

func NewCandidateSet() *CandidateSet {
	return &CandidateSet{index: make(map[string]int)}
}

// Add records c and reports whether it was new.
func (s *CandidateSet) Add(c Candidate) bool {
	if c.Repository == "" {
		return false
	}
	if _, ok := s.index[c.Repository]; ok {
		return false
	}
	s.index[c.Repository] = len(s.items)
	s.items = append(s.items, c)
	return true
}

func (s *CandidateSet) Contains(repo string) bool {
	_, ok := s.index[repo]
	return ok
}

func (s *CandidateSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// List returns a copy of the candidates in discovery order.
func (s *CandidateSet) List() []Candidate {
	if s == nil {
		return nil
	}
	return append([]Candidate(nil), s.items...)
}

// Names returns the repository full names in discovery order.
func (s *CandidateSet) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.items))
	for i, c := range s.items {
		out[i] = c.Repository
	}
	return out
}
