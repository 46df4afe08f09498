package redact

import (
	"sort"
	"strings"
	"sync"
)

// Placeholder replaces every registered secret.
const Placeholder = "***"

// minSecretLen guards against registering trivially short values that would
// shred unrelated text.
const minSecretLen = 4

// Redactor replaces registered secret values in arbitrary text.
// It is safe for concurrent use.
type Redactor struct {
	mu      sync.RWMutex
	secrets []string
}

func New(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		r.Add(s)
	}
	return r
}

// Add registers a secret. Empty and very short values are ignored.
func (r *Redactor) Add(secret string) {
	if r == nil {
		return
	}
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLen {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.secrets {
		if s == secret {
			return
		}
	}
	r.secrets = append(r.secrets, secret)
	// Longest first so a secret containing another is replaced whole.
	sort.Slice(r.secrets, func(i, j int) bool { return len(r.secrets[i]) > len(r.secrets[j]) })
}

func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, secret := range r.secrets {
		if strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, Placeholder)
		}
	}
	return s
}

// Len reports how many secrets are registered.
func (r *Redactor) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.secrets)
}

// Display partially masks a value for human-facing output, keeping the first and
// last show characters. Values too short to keep both ends are fully masked.
func Display(value string, show int) string {
	if value == "" {
		return ""
	}
	if show <= 0 {
		show = 4
	}
	runes := []rune(value)
	if len(runes) <= show*2 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:show]) + strings.Repeat("*", len(runes)-show*2) + string(runes[len(runes)-show:])
}
