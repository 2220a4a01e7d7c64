package store

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ClampLimit normalizes a caller-supplied page size.
func ClampLimit(limit int) int {
	if limit < 1 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// ClampPage normalizes a caller-supplied page number.
func ClampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// NewPagination computes the pagination envelope for a listing.
func NewPagination(total, page, limit int) Pagination {
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{Total: total, Page: page, Limit: limit, TotalPages: totalPages}
}

// BuildThreadGroups assembles thread groups from a page of roots and the
// replies fetched for them. Replies whose parent is not in the page are
// dropped rather than surfaced as orphans. Ordering inside a group and
// across groups follows createdAt ascending.
func BuildThreadGroups(roots []Comment, replies []Comment) []ThreadGroup {
	byParent := make(map[primitive.ObjectID][]Comment, len(roots))
	for _, reply := range replies {
		if reply.ParentID == nil {
			continue
		}
		byParent[*reply.ParentID] = append(byParent[*reply.ParentID], reply)
	}

	groups := make([]ThreadGroup, 0, len(roots))
	for _, root := range roots {
		group := ThreadGroup{root}
		children := byParent[root.ID]
		sort.SliceStable(children, func(i, j int) bool {
			return children[i].CreatedAt.Before(children[j].CreatedAt)
		})
		group = append(group, children...)
		groups = append(groups, group)
	}
	return groups
}
