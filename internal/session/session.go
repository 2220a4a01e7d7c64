// Package session provides opaque-token session storage shared by the
// HTTP middleware and the realtime handshake. Sessions live in Mongo by
// default; a Redis backend can be selected at startup.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"proofdeck/api/internal/auth"
)

// ErrNoSession is the hard authentication failure for HTTP routes: the
// cookie is missing, invalid, or the session is expired or gone.
var ErrNoSession = errors.New("no valid session")

type Session struct {
	ID        string
	UserID    primitive.ObjectID
	ExpiresAt time.Time
}

// Backend persists sessions. Implementations expire entries physically
// (TTL index or key TTL), but the Manager still checks ExpiresAt
// logically: physical removal time is not authoritative.
type Backend interface {
	Create(ctx context.Context, userID primitive.ObjectID, expiresAt time.Time) (string, error)
	Lookup(ctx context.Context, sessionID string) (Session, error)
	Delete(ctx context.Context, sessionID string) error
}

type Manager struct {
	backend Backend
	secret  []byte
	ttl     time.Duration
}

func NewManager(backend Backend, secret []byte, ttl time.Duration) *Manager {
	return &Manager{backend: backend, secret: secret, ttl: ttl}
}

// Create inserts a session and sets the signed cookie on the response.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter, userID primitive.ObjectID) (Session, error) {
	expiresAt := time.Now().Add(m.ttl)
	id, err := m.backend.Create(ctx, userID, expiresAt)
	if err != nil {
		return Session{}, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    auth.SignSessionID(m.secret, id),
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return Session{ID: id, UserID: userID, ExpiresAt: expiresAt}, nil
}

// Get resolves the session for an HTTP request. Missing, invalid, or
// expired sessions all fail with ErrNoSession.
func (m *Manager) Get(ctx context.Context, r *http.Request) (Session, error) {
	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil {
		return Session{}, ErrNoSession
	}
	id, err := auth.VerifySessionID(m.secret, cookie.Value)
	if err != nil {
		return Session{}, ErrNoSession
	}
	return m.lookup(ctx, id)
}

// FromCookieHeader resolves a session from a raw Cookie header. Unlike
// Get this path is tolerant: the realtime hub treats a missing session
// as a degraded-but-connected state, not an error.
func (m *Manager) FromCookieHeader(ctx context.Context, header string) (Session, bool) {
	id, err := auth.SessionIDFromCookieHeader(m.secret, header)
	if err != nil {
		return Session{}, false
	}
	session, err := m.lookup(ctx, id)
	if err != nil {
		return Session{}, false
	}
	return session, true
}

// Remove deletes the session and clears the cookie.
func (m *Manager) Remove(ctx context.Context, w http.ResponseWriter, session Session) error {
	if err := m.backend.Delete(ctx, session.ID); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

func (m *Manager) lookup(ctx context.Context, id string) (Session, error) {
	session, err := m.backend.Lookup(ctx, id)
	if err != nil {
		return Session{}, ErrNoSession
	}
	// The TTL purge may lag; expiry is decided here, not by the store.
	if !time.Now().Before(session.ExpiresAt) {
		_ = m.backend.Delete(ctx, id)
		return Session{}, ErrNoSession
	}
	return session, nil
}
