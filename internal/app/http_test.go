package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"proofdeck/api/internal/session"
)

// memSessions is an in-memory session backend for HTTP tests.
type memSessions struct {
	rows map[string]session.Session
	n    int
}

func newMemSessions() *memSessions { return &memSessions{rows: map[string]session.Session{}} }

func (m *memSessions) Create(ctx context.Context, userID primitive.ObjectID, expiresAt time.Time) (string, error) {
	m.n++
	id := primitive.NewObjectID().Hex()
	m.rows[id] = session.Session{ID: id, UserID: userID, ExpiresAt: expiresAt}
	return id, nil
}

func (m *memSessions) Lookup(ctx context.Context, sessionID string) (session.Session, error) {
	row, ok := m.rows[sessionID]
	if !ok {
		return session.Session{}, session.ErrNoSession
	}
	return row, nil
}

func (m *memSessions) Delete(ctx context.Context, sessionID string) error {
	delete(m.rows, sessionID)
	return nil
}

type httpFixture struct {
	*fixture
	server   *HTTPServer
	handler  http.Handler
	sessions *session.Manager
	backend  *memSessions
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	f := newFixture(t)
	backend := newMemSessions()
	manager := session.NewManager(backend, []byte("test-secret"), 14*24*time.Hour)
	server := NewHTTPServer(f.service, manager, "*")
	return &httpFixture{
		fixture: f, server: server, handler: server.Handler(),
		sessions: manager, backend: backend,
	}
}

// loginCookie mints a session for the user and returns its Set-Cookie
// value for reuse on later requests.
func (f *httpFixture) loginCookie(t *testing.T, userID primitive.ObjectID) *http.Cookie {
	t.Helper()
	rr := httptest.NewRecorder()
	if _, err := f.sessions.Create(context.Background(), rr, userID); err != nil {
		t.Fatalf("create session: %v", err)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one session cookie, got %d", len(cookies))
	}
	return cookies[0]
}

func (f *httpFixture) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestSignupLoginFlow(t *testing.T) {
	f := newHTTPFixture(t)

	rr := f.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"email": "Fresh@Example.com", "password": "correct horse",
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].HttpOnly {
		t.Fatalf("expected HttpOnly session cookie, got %+v", cookies)
	}

	// The cookie authenticates /api/auth/me.
	rr = f.do(t, http.MethodGet, "/api/auth/me", nil, cookies[0])
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeJSON(t, rr)
	user := payload["user"].(map[string]any)
	if user["email"] != "fresh@example.com" {
		t.Errorf("expected normalized email, got %v", user["email"])
	}

	// Duplicate signup conflicts.
	rr = f.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"email": "fresh@example.com", "password": "another pass",
	}, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rr.Code)
	}
	if code := decodeJSON(t, rr)["code"]; code != "EMAIL_EXISTS" {
		t.Errorf("expected EMAIL_EXISTS, got %v", code)
	}

	// Wrong password is a 401 without detail.
	rr = f.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "fresh@example.com", "password": "wrong",
	}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "fresh@example.com", "password": "correct horse",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLogoutClearsSession(t *testing.T) {
	f := newHTTPFixture(t)
	cookie := f.loginCookie(t, f.owner.ID)

	rr := f.do(t, http.MethodPost, "/api/auth/logout", nil, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(f.backend.rows) != 0 {
		t.Error("expected backend session removed")
	}

	rr = f.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestRoutesRequireSession(t *testing.T) {
	f := newHTTPFixture(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/comments?fileId=" + f.file.ID.Hex()},
		{http.MethodPost, "/api/comments"},
		{http.MethodGet, "/api/projects"},
		{http.MethodGet, "/api/folders"},
		{http.MethodGet, "/api/files?projectId=" + f.project.ID.Hex()},
		{http.MethodGet, "/api/search?q=x"},
	}
	for _, tt := range paths {
		rr := f.do(t, tt.method, tt.path, nil, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tt.method, tt.path, rr.Code)
		}
	}
}

func TestCreateCommentEndpoint(t *testing.T) {
	f := newHTTPFixture(t)
	cookie := f.loginCookie(t, f.reviewer.ID)

	rr := f.do(t, http.MethodPost, "/api/comments", map[string]any{
		"fileId": f.file.ID.Hex(), "body": "looks off here", "x": 42.5, "y": 17.0,
	}, cookie)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	comment := payload["comment"].(map[string]any)
	if comment["body"] != "looks off here" {
		t.Errorf("unexpected body %v", comment["body"])
	}
	author, ok := comment["author"].(map[string]any)
	if !ok || author["email"] != f.reviewer.Email {
		t.Errorf("expected embedded author, got %v", comment["author"])
	}

	// Out-of-range coordinates are a 422.
	rr = f.do(t, http.MethodPost, "/api/comments", map[string]any{
		"fileId": f.file.ID.Hex(), "body": "x", "x": 140.0, "y": 10.0,
	}, cookie)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rr.Code)
	}
	if code := decodeJSON(t, rr)["code"]; code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", code)
	}

	// Malformed JSON is a 400.
	req := httptest.NewRequest(http.MethodPost, "/api/comments", bytes.NewReader([]byte("{nope")))
	req.AddCookie(cookie)
	raw := httptest.NewRecorder()
	f.handler.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", raw.Code)
	}
}

func TestListCommentsEndpoint(t *testing.T) {
	f := newHTTPFixture(t)
	cookie := f.loginCookie(t, f.reviewer.ID)

	rr := f.do(t, http.MethodPost, "/api/comments", map[string]any{
		"fileId": f.file.ID.Hex(), "body": "first", "x": 1.0, "y": 2.0,
	}, cookie)
	if rr.Code != http.StatusCreated {
		t.Fatalf("seed comment: %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/api/comments?fileId="+f.file.ID.Hex(), nil, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	groups := payload["comments"].([]any)
	if len(groups) != 1 {
		t.Fatalf("expected one thread group, got %d", len(groups))
	}
	pagination := payload["pagination"].(map[string]any)
	if pagination["total"] != float64(1) || pagination["page"] != float64(1) {
		t.Errorf("unexpected pagination %v", pagination)
	}

	// Missing fileId is a validation error.
	rr = f.do(t, http.MethodGet, "/api/comments", nil, cookie)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rr.Code)
	}

	// Non-members get a 403.
	outsiderCookie := f.loginCookie(t, f.outsider.ID)
	rr = f.do(t, http.MethodGet, "/api/comments?fileId="+f.file.ID.Hex(), nil, outsiderCookie)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestRepliesEndpointNotFound(t *testing.T) {
	f := newHTTPFixture(t)
	cookie := f.loginCookie(t, f.reviewer.ID)

	rr := f.do(t, http.MethodGet, "/api/comments/"+primitive.NewObjectID().Hex()+"/replies", nil, cookie)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestInviteReviewerEndpoint(t *testing.T) {
	f := newHTTPFixture(t)
	cookie := f.loginCookie(t, f.owner.ID)

	rr := f.do(t, http.MethodPost, "/api/projects/"+f.project.ID.Hex()+"/reviewers", map[string]string{
		"email": "guest@example.com",
	}, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	reviewer := decodeJSON(t, rr)["reviewer"].(map[string]any)
	if reviewer["email"] != "guest@example.com" {
		t.Errorf("unexpected reviewer %v", reviewer)
	}

	reviewerCookie := f.loginCookie(t, f.reviewer.ID)
	rr = f.do(t, http.MethodPost, "/api/projects/"+f.project.ID.Hex()+"/reviewers", map[string]string{
		"email": "other@example.com",
	}, reviewerCookie)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner, got %d", rr.Code)
	}
}

func TestFileUploadEndpoint(t *testing.T) {
	f := newHTTPFixture(t)
	cookie := f.loginCookie(t, f.owner.ID)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("projectId", f.project.ID.Hex()); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := form.CreateFormFile("file", "mockup.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("pngdata"))
	form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	file := decodeJSON(t, rr)["file"].(map[string]any)
	if file["name"] != "mockup.png" || file["version"] != float64(1) {
		t.Errorf("unexpected file payload %v", file)
	}

	// Content comes back through the blob store.
	fileID := file["_id"].(string)
	rr2 := f.do(t, http.MethodGet, "/api/files/"+fileID+"/content", nil, cookie)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr2.Code)
	}
	if rr2.Body.String() != "pngdata" {
		t.Errorf("unexpected content %q", rr2.Body.String())
	}
	if ct := rr2.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newHTTPFixture(t)
	cookie := f.loginCookie(t, f.owner.ID)

	rr := f.do(t, http.MethodGet, "/api/widgets", nil, cookie)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newHTTPFixture(t)

	rr := f.do(t, http.MethodGet, "/api/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ok := decodeJSON(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}

	rr = f.do(t, http.MethodGet, "/api/ready", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeJSON(t, rr)
	if payload["status"] != "ready" {
		t.Errorf("expected ready, got %v", payload["status"])
	}

	rr = f.do(t, http.MethodOptions, "/api/anything", nil, nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
}
