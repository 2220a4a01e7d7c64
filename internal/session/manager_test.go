package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"proofdeck/api/internal/auth"
)

type fakeBackend struct {
	sessions map[string]Session
	nextID   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessions: map[string]Session{}}
}

func (f *fakeBackend) Create(_ context.Context, userID primitive.ObjectID, expiresAt time.Time) (string, error) {
	f.nextID++
	id := primitive.NewObjectID().Hex()
	f.sessions[id] = Session{ID: id, UserID: userID, ExpiresAt: expiresAt}
	return id, nil
}

func (f *fakeBackend) Lookup(_ context.Context, sessionID string) (Session, error) {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return Session{}, errors.New("not found")
	}
	return sess, nil
}

func (f *fakeBackend) Delete(_ context.Context, sessionID string) error {
	delete(f.sessions, sessionID)
	return nil
}

const testSecret = "test-cookie-secret"

func TestManagerCreateSetsSignedCookie(t *testing.T) {
	backend := newFakeBackend()
	mgr := NewManager(backend, []byte(testSecret), time.Hour)

	rec := httptest.NewRecorder()
	userID := primitive.NewObjectID()
	sess, err := mgr.Create(context.Background(), rec, userID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.UserID != userID {
		t.Errorf("user id = %s, want %s", sess.UserID.Hex(), userID.Hex())
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != auth.SessionCookieName {
		t.Errorf("cookie name = %s, want %s", c.Name, auth.SessionCookieName)
	}
	if !c.HttpOnly {
		t.Error("cookie should be http-only")
	}
	id, err := auth.VerifySessionID([]byte(testSecret), c.Value)
	if err != nil {
		t.Fatalf("cookie value does not verify: %v", err)
	}
	if id != sess.ID {
		t.Errorf("cookie session id = %s, want %s", id, sess.ID)
	}
}

func TestManagerGetRoundtrip(t *testing.T) {
	backend := newFakeBackend()
	mgr := NewManager(backend, []byte(testSecret), time.Hour)

	rec := httptest.NewRecorder()
	userID := primitive.NewObjectID()
	if _, err := mgr.Create(context.Background(), rec, userID); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	sess, err := mgr.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.UserID != userID {
		t.Errorf("user id = %s, want %s", sess.UserID.Hex(), userID.Hex())
	}
}

func TestManagerGetRejectsMissingCookie(t *testing.T) {
	mgr := NewManager(newFakeBackend(), []byte(testSecret), time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := mgr.Get(context.Background(), req); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestManagerGetRejectsTamperedCookie(t *testing.T) {
	backend := newFakeBackend()
	mgr := NewManager(backend, []byte(testSecret), time.Hour)

	rec := httptest.NewRecorder()
	if _, err := mgr.Create(context.Background(), rec, primitive.NewObjectID()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	c := rec.Result().Cookies()[0]
	c.Value = strings.Replace(c.Value, ".", "x.", 1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	if _, err := mgr.Get(context.Background(), req); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestManagerRejectsLogicallyExpiredSession(t *testing.T) {
	backend := newFakeBackend()
	mgr := NewManager(backend, []byte(testSecret), time.Hour)

	rec := httptest.NewRecorder()
	sess, err := mgr.Create(context.Background(), rec, primitive.NewObjectID())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Backend still holds the row but the session deadline has passed.
	expired := backend.sessions[sess.ID]
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	backend.sessions[sess.ID] = expired

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	if _, err := mgr.Get(context.Background(), req); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
	if _, ok := backend.sessions[sess.ID]; ok {
		t.Error("expired session should be deleted from the backend")
	}
}

func TestManagerFromCookieHeader(t *testing.T) {
	backend := newFakeBackend()
	mgr := NewManager(backend, []byte(testSecret), time.Hour)

	rec := httptest.NewRecorder()
	userID := primitive.NewObjectID()
	if _, err := mgr.Create(context.Background(), rec, userID); err != nil {
		t.Fatalf("Create: %v", err)
	}
	c := rec.Result().Cookies()[0]

	sess, ok := mgr.FromCookieHeader(context.Background(), c.Name+"="+c.Value)
	if !ok {
		t.Fatal("expected session from cookie header")
	}
	if sess.UserID != userID {
		t.Errorf("user id = %s, want %s", sess.UserID.Hex(), userID.Hex())
	}

	if _, ok := mgr.FromCookieHeader(context.Background(), ""); ok {
		t.Error("expected no session for empty header")
	}
	if _, ok := mgr.FromCookieHeader(context.Background(), "other=value"); ok {
		t.Error("expected no session for unrelated cookies")
	}
}

func TestManagerRemoveClearsCookie(t *testing.T) {
	backend := newFakeBackend()
	mgr := NewManager(backend, []byte(testSecret), time.Hour)

	rec := httptest.NewRecorder()
	sess, err := mgr.Create(context.Background(), rec, primitive.NewObjectID())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec2 := httptest.NewRecorder()
	if err := mgr.Remove(context.Background(), rec2, sess); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := backend.sessions[sess.ID]; ok {
		t.Error("session should be deleted from the backend")
	}
	cookies := rec2.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	if cookies[0].MaxAge != -1 {
		t.Errorf("cookie max-age = %d, want -1", cookies[0].MaxAge)
	}
}
