package mention

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"proofdeck/api/internal/email"
	"proofdeck/api/internal/store"
)

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single mention",
			text: "hey @alice check this out",
			want: []string{"alice"},
		},
		{
			name: "full email mention",
			text: "ping @bob@example.com about the colors",
			want: []string{"bob@example.com"},
		},
		{
			name: "duplicates collapse",
			text: "@alice and @alice again, plus @bob",
			want: []string{"alice", "bob"},
		},
		{
			name: "dots and hyphens",
			text: "cc @mary.jane-smith",
			want: []string{"mary.jane-smith"},
		},
		{
			name: "no mentions",
			text: "looks good to me",
			want: nil,
		},
		{
			name: "bare at sign",
			text: "see you @ noon",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMentions(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractMentions(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	alice := store.User{ID: primitive.NewObjectID(), Email: "alice@example.com"}
	bob := store.User{ID: primitive.NewObjectID(), Email: "bob@other.org"}
	candidates := []store.User{alice, bob}

	tests := []struct {
		name   string
		tokens []string
		want   []store.User
	}{
		{
			name:   "local part match",
			tokens: []string{"alice"},
			want:   []store.User{alice},
		},
		{
			name:   "full email match",
			tokens: []string{"bob@other.org"},
			want:   []store.User{bob},
		},
		{
			name:   "unknown token resolves nothing",
			tokens: []string{"charlie"},
			want:   nil,
		},
		{
			name:   "user returned once for double match",
			tokens: []string{"alice", "alice@example.com"},
			want:   []store.User{alice},
		},
		{
			name:   "no tokens",
			tokens: nil,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.tokens, candidates)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve(%v) = %v, want %v", tt.tokens, got, tt.want)
			}
		})
	}
}

type fakeStore struct {
	file    store.File
	project store.Project
	author  store.User
	members []store.User

	mu       sync.Mutex
	attached []store.MentionResult
}

func (f *fakeStore) GetFile(context.Context, primitive.ObjectID) (store.File, error) {
	return f.file, nil
}

func (f *fakeStore) GetProject(context.Context, primitive.ObjectID) (store.Project, error) {
	return f.project, nil
}

func (f *fakeStore) GetUserByID(context.Context, primitive.ObjectID) (store.User, error) {
	return f.author, nil
}

func (f *fakeStore) ListProjectMembers(context.Context, store.Project) ([]store.User, error) {
	return f.members, nil
}

func (f *fakeStore) AttachMentionResults(_ context.Context, _ primitive.ObjectID, results []store.MentionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = results
	return nil
}

type fakeSender struct {
	configured bool

	mu   sync.Mutex
	sent []string
	fail map[string]error
}

func (f *fakeSender) IsConfigured() bool { return f.configured }

func (f *fakeSender) SendMentionEmail(to string, _ email.MentionData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[to]; ok {
		return err
	}
	f.sent = append(f.sent, to)
	return nil
}

func newFixture(configured bool) (*fakeStore, *fakeSender, *Service, store.User, store.User) {
	author := store.User{ID: primitive.NewObjectID(), Email: "author@example.com"}
	reviewer := store.User{ID: primitive.NewObjectID(), Email: "reviewer@example.com"}

	st := &fakeStore{
		file:    store.File{ID: primitive.NewObjectID(), Name: "poster.png"},
		project: store.Project{ID: primitive.NewObjectID(), Name: "Launch", AuthorID: author.ID},
		author:  author,
		members: []store.User{author, reviewer},
	}
	sender := &fakeSender{configured: configured}
	svc := NewService(st, sender, "http://localhost:5173")
	return st, sender, svc, author, reviewer
}

func TestProcessCommentSendsToMentionedReviewer(t *testing.T) {
	st, sender, svc, author, reviewer := newFixture(true)

	comment := store.Comment{
		ID:       primitive.NewObjectID(),
		FileID:   st.file.ID,
		AuthorID: author.ID,
		Body:     "@reviewer please check the header",
	}

	results := svc.ProcessComment(context.Background(), comment)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Sent {
		t.Errorf("result not marked sent: %+v", results[0])
	}
	if results[0].User != reviewer.ID {
		t.Errorf("result user = %s, want %s", results[0].User.Hex(), reviewer.ID.Hex())
	}
	if len(sender.sent) != 1 || sender.sent[0] != reviewer.Email {
		t.Errorf("sent to %v, want [%s]", sender.sent, reviewer.Email)
	}
	if len(st.attached) != 1 {
		t.Errorf("results not attached to the comment")
	}
}

func TestProcessCommentSkipsSelfMention(t *testing.T) {
	st, sender, svc, author, _ := newFixture(true)

	comment := store.Comment{
		ID:       primitive.NewObjectID(),
		FileID:   st.file.ID,
		AuthorID: author.ID,
		Body:     "note to self @author",
	}

	results := svc.ProcessComment(context.Background(), comment)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Sent {
		t.Error("self-mention should not be sent")
	}
	if results[0].Reason != "self-mention" {
		t.Errorf("reason = %q, want self-mention", results[0].Reason)
	}
	if len(sender.sent) != 0 {
		t.Errorf("no email should be sent, got %v", sender.sent)
	}
}

func TestProcessCommentWithoutSMTP(t *testing.T) {
	st, sender, svc, author, reviewer := newFixture(false)

	comment := store.Comment{
		ID:       primitive.NewObjectID(),
		FileID:   st.file.ID,
		AuthorID: author.ID,
		Body:     "@reviewer thoughts?",
	}

	results := svc.ProcessComment(context.Background(), comment)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Sent || results[0].Reason != "smtp-not-configured" {
		t.Errorf("unexpected result: %+v", results[0])
	}
	if results[0].User != reviewer.ID {
		t.Errorf("result user = %s, want %s", results[0].User.Hex(), reviewer.ID.Hex())
	}
	if len(sender.sent) != 0 {
		t.Errorf("no email should be sent, got %v", sender.sent)
	}
}

func TestProcessCommentRecordsSendFailure(t *testing.T) {
	st, sender, svc, author, reviewer := newFixture(true)
	sender.fail = map[string]error{reviewer.Email: errors.New("smtp timeout")}

	comment := store.Comment{
		ID:       primitive.NewObjectID(),
		FileID:   st.file.ID,
		AuthorID: author.ID,
		Body:     "@reviewer ping",
	}

	results := svc.ProcessComment(context.Background(), comment)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Sent {
		t.Error("failed send should not be marked sent")
	}
	if results[0].Error != "smtp timeout" {
		t.Errorf("error = %q, want smtp timeout", results[0].Error)
	}
}

func TestProcessCommentIgnoresNonMembers(t *testing.T) {
	st, sender, svc, author, _ := newFixture(true)

	comment := store.Comment{
		ID:       primitive.NewObjectID(),
		FileID:   st.file.ID,
		AuthorID: author.ID,
		Body:     "@stranger hello",
	}

	results := svc.ProcessComment(context.Background(), comment)
	if len(results) != 0 {
		t.Fatalf("expected no results, got %v", results)
	}
	if len(sender.sent) != 0 {
		t.Errorf("no email should be sent, got %v", sender.sent)
	}
}

func TestProcessCommentNoAtSign(t *testing.T) {
	_, sender, svc, author, _ := newFixture(true)

	comment := store.Comment{
		ID:       primitive.NewObjectID(),
		AuthorID: author.ID,
		Body:     "plain comment",
	}

	if results := svc.ProcessComment(context.Background(), comment); results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
	if len(sender.sent) != 0 {
		t.Errorf("no email should be sent, got %v", sender.sent)
	}
}
