package client

import (
	"sort"
	"sync"
)

// CommentCache holds the thread groups for one file and reconciles two
// write paths: full refetches over HTTP and incremental new-comment
// broadcasts from the socket. Both deduplicate by comment id, so a
// comment that arrives over the socket and again in a refetch is stored
// once.
type CommentCache struct {
	mu     sync.RWMutex
	fileID string
	groups []ThreadGroup
	seen   map[string]bool
}

func NewCommentCache(fileID string) *CommentCache {
	return &CommentCache{fileID: fileID, seen: map[string]bool{}}
}

func (c *CommentCache) FileID() string { return c.fileID }

// Replace installs the result of a full refetch, discarding any
// broadcast-merged state. The fetch is authoritative.
func (c *CommentCache) Replace(groups []ThreadGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.groups = make([]ThreadGroup, 0, len(groups))
	c.seen = map[string]bool{}
	for _, group := range groups {
		copied := make(ThreadGroup, 0, len(group))
		for _, comment := range group {
			if c.seen[comment.ID] {
				continue
			}
			c.seen[comment.ID] = true
			copied = append(copied, comment)
		}
		if len(copied) > 0 {
			c.groups = append(c.groups, copied)
		}
	}
}

// Merge folds one broadcast comment into the cached groups. Duplicates
// and comments for other files are ignored. A reply whose root is not
// cached is dropped rather than surfaced as an orphan.
func (c *CommentCache) Merge(comment Comment) bool {
	if comment.FileID != c.fileID {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen[comment.ID] {
		return false
	}

	if comment.ParentID == nil {
		c.seen[comment.ID] = true
		c.groups = append(c.groups, ThreadGroup{comment})
		return true
	}

	for i, group := range c.groups {
		if len(group) == 0 || group[0].ID != *comment.ParentID {
			continue
		}
		c.seen[comment.ID] = true
		group = append(group, comment)
		sort.SliceStable(group[1:], func(a, b int) bool {
			return group[a+1].CreatedAt.Before(group[b+1].CreatedAt)
		})
		c.groups[i] = group
		return true
	}
	return false
}

// Groups returns a snapshot copy of the cached thread groups.
func (c *CommentCache) Groups() []ThreadGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make([]ThreadGroup, len(c.groups))
	for i, group := range c.groups {
		copied := make(ThreadGroup, len(group))
		copy(copied, group)
		snapshot[i] = copied
	}
	return snapshot
}

// Len returns the number of cached thread groups.
func (c *CommentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.groups)
}
