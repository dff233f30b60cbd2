package system

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kodflow/project-host/src/internal/domain/entity"
)

// keyedLocks hands out one mutex per key. Entries are dropped once no
// caller holds or waits on them.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires every key in sorted order and returns the function that
// releases them. Duplicate and empty keys are ignored.
func (k *keyedLocks) lock(keys ...string) func() {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key != "" && !seen[key] {
			seen[key] = true
			unique = append(unique, key)
		}
	}
	sort.Strings(unique)

	held := make([]*keyedLock, 0, len(unique))
	for _, key := range unique {
		k.mu.Lock()
		if k.locks == nil {
			k.locks = make(map[string]*keyedLock)
		}
		entry, ok := k.locks[key]
		if !ok {
			entry = &keyedLock{}
			k.locks[key] = entry
		}
		entry.refs++
		k.mu.Unlock()

		entry.mu.Lock()
		held = append(held, entry)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			k.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.locks, unique[i])
			}
			k.mu.Unlock()
		}
	}
}

// held returns the number of keys currently tracked.
func (k *keyedLocks) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func projectKey(project entity.Slug) string { return "project:" + project.FSName() }

func userKey(user entity.Slug) string { return "user:" + user.FSName() }

// lockKey maps a managed path to the project or user that owns it: the
// first component below the projects, snapshots or prod root names a
// project, the first one below the home root names a user.
func (l Layout) lockKey(path string) string {
	path = filepath.Clean(path)
	owners := []struct {
		root   string
		prefix string
	}{
		{l.ProjectsRoot, "project:"},
		{l.SnapshotsRoot, "project:"},
		{l.ProdRoot, "project:"},
		{l.HomeRoot, "user:"},
	}
	for _, o := range owners {
		if o.root == "" {
			continue
		}
		root := filepath.Clean(o.root)
		if path == root || !within(root, path) {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		first, _, _ := strings.Cut(rel, string(filepath.Separator))
		return o.prefix + first
	}
	return "path:" + path
}
