package workcopy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
)

var namePart = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Cache maps repositories to working copy directories under a root and hands
// out one lock per directory.
type Cache struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCache(root string) (*Cache, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("working copy root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve working copy root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create working copy root: %w", err)
	}
	return &Cache{root: abs, locks: make(map[string]*sync.Mutex)}, nil
}

func (c *Cache) Root() string {
	return c.root
}

// DirName maps OWNER/REPO to OWNER_REPO. GitHub owners cannot contain
// underscores, so the mapping is collision free.
func DirName(repo string) (string, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(repo), "/")
	if !ok || !validPart(owner) || !validPart(name) || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid repository name %q (expected OWNER/REPO)", repo)
	}
	return owner + "_" + name, nil
}

func validPart(s string) bool {
	return s != "." && s != ".." && namePart.MatchString(s)
}

// Path returns the working copy directory for repo.
func (c *Cache) Path(repo string) (string, error) {
	dir, err := DirName(repo)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.root, dir), nil
}

// Lock serializes access to repo's working copy. Call the returned func to release.
func (c *Cache) Lock(repo string) (unlock func()) {
	key := strings.ToLower(strings.TrimSpace(repo))
	c.mu.Lock()
	m, ok := c.locks[key]
	if !ok {
		m = &sync.Mutex{}
		c.locks[key] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Discard removes a working copy directory. Paths outside the root are refused.
func (c *Cache) Discard(path string) error {
	rel, err := filepath.Rel(c.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("refusing to remove %q outside working copy root", path)
	}
	return os.RemoveAll(path)
}

// State describes what is on disk at a working copy path.
type State struct {
	Exists       bool
	IsRepository bool
	Head         string
	Dirty        bool
	// Rebasing is set when an interrupted rebase is still in progress.
	Rebasing     bool
}

// Inspect reports whether path holds a usable git working copy.
func Inspect(path string) (State, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	if !info.IsDir() {
		return State{Exists: true}, nil
	}

	st := State{Exists: true}
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("open working copy: %w", err)
	}
	st.IsRepository = true

	for _, marker := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(path, ".git", marker)); err == nil {
			st.Rebasing = true
		}
	}

	if head, err := repo.Head(); err == nil {
		st.Head = head.Hash().String()
	}
	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			st.Dirty = !status.IsClean()
		}
	}
	return st, nil
}
