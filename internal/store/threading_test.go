package store

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func comment(id primitive.ObjectID, parent *primitive.ObjectID, at time.Time) Comment {
	return Comment{ID: id, ParentID: parent, CreatedAt: at, Body: "c-" + id.Hex()[:6]}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "zero falls back to default", limit: 0, want: DefaultPageLimit},
		{name: "negative falls back to default", limit: -3, want: DefaultPageLimit},
		{name: "in range passes through", limit: 42, want: 42},
		{name: "max allowed", limit: 100, want: 100},
		{name: "above max is clamped", limit: 500, want: MaxPageLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampLimit(tt.limit); got != tt.want {
				t.Errorf("ClampLimit(%d) = %d, want %d", tt.limit, got, tt.want)
			}
		})
	}
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(45, 2, 20)
	if p.Total != 45 || p.Page != 2 || p.Limit != 20 || p.TotalPages != 3 {
		t.Fatalf("unexpected pagination: %+v", p)
	}

	empty := NewPagination(0, 1, 20)
	if empty.TotalPages != 0 {
		t.Fatalf("expected 0 totalPages for empty listing, got %d", empty.TotalPages)
	}

	exact := NewPagination(40, 1, 20)
	if exact.TotalPages != 2 {
		t.Fatalf("expected 2 totalPages for 40/20, got %d", exact.TotalPages)
	}
}

func TestBuildThreadGroups(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rootA := primitive.NewObjectID()
	rootB := primitive.NewObjectID()

	roots := []Comment{
		comment(rootA, nil, base),
		comment(rootB, nil, base.Add(time.Minute)),
	}
	replies := []Comment{
		comment(primitive.NewObjectID(), &rootB, base.Add(3*time.Minute)),
		comment(primitive.NewObjectID(), &rootA, base.Add(2*time.Minute)),
		comment(primitive.NewObjectID(), &rootA, base.Add(time.Minute)),
	}

	groups := BuildThreadGroups(roots, replies)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0]) != 3 {
		t.Fatalf("expected root A group of 3, got %d", len(groups[0]))
	}
	if len(groups[1]) != 2 {
		t.Fatalf("expected root B group of 2, got %d", len(groups[1]))
	}
	if groups[0][0].ID != rootA {
		t.Fatal("group must start with its root")
	}
	if !groups[0][1].CreatedAt.Before(groups[0][2].CreatedAt) {
		t.Fatal("replies must be ordered by createdAt ascending")
	}
}

func TestBuildThreadGroupsDropsOrphans(t *testing.T) {
	root := primitive.NewObjectID()
	missingParent := primitive.NewObjectID()
	now := time.Now()

	groups := BuildThreadGroups(
		[]Comment{comment(root, nil, now)},
		[]Comment{
			comment(primitive.NewObjectID(), &missingParent, now),
			comment(primitive.NewObjectID(), nil, now),
		},
	)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0]) != 1 {
		t.Fatalf("orphan replies must be dropped, got group of %d", len(groups[0]))
	}
}

func TestBuildThreadGroupsCommentWithNoReplies(t *testing.T) {
	root := primitive.NewObjectID()
	groups := BuildThreadGroups([]Comment{comment(root, nil, time.Now())}, nil)
	if len(groups) != 1 || len(groups[0]) != 1 {
		t.Fatalf("a lone comment is a group of size 1, got %+v", groups)
	}
}

func TestFileLineage(t *testing.T) {
	first := File{ID: primitive.NewObjectID(), Version: 1}
	if first.Lineage() != first.ID {
		t.Fatal("version 1 lineage must be its own id")
	}

	second := File{ID: primitive.NewObjectID(), Version: 2, OriginalFileID: &first.ID}
	if second.Lineage() != first.ID {
		t.Fatal("later versions must share the first version's id")
	}
}

func TestProjectMember(t *testing.T) {
	owner := primitive.NewObjectID()
	reviewer := primitive.NewObjectID()
	outsider := primitive.NewObjectID()
	project := Project{AuthorID: owner, Reviewers: []primitive.ObjectID{reviewer}}

	if !project.Member(owner) {
		t.Fatal("owner must be a member")
	}
	if !project.Member(reviewer) {
		t.Fatal("reviewer must be a member")
	}
	if project.Member(outsider) {
		t.Fatal("outsider must not be a member")
	}
}
