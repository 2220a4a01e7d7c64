// Package auth signs and verifies the opaque session-id cookie value.
// The cookie carries "<sessionID>.<signature>" where the signature is an
// HMAC-SHA256 over the session id, so a tampered id never reaches the
// session store.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// SessionCookieName is the cookie shared by HTTP middleware and the
// realtime handshake.
const SessionCookieName = "proofdeck_session"

var ErrInvalidCookie = errors.New("invalid session cookie")

// SignSessionID produces the cookie value for a session id.
func SignSessionID(secret []byte, sessionID string) string {
	return sessionID + "." + sign(secret, sessionID)
}

// VerifySessionID extracts and verifies the session id from a cookie value.
func VerifySessionID(secret []byte, value string) (string, error) {
	dot := strings.LastIndex(value, ".")
	if dot <= 0 || dot == len(value)-1 {
		return "", ErrInvalidCookie
	}
	sessionID := value[:dot]
	signature := value[dot+1:]

	expected := sign(secret, sessionID)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", ErrInvalidCookie
	}
	return sessionID, nil
}

// SessionIDFromCookieHeader pulls the signed session id out of a raw
// Cookie header. Used by the websocket handshake, which does not go
// through net/http cookie parsing on all clients.
func SessionIDFromCookieHeader(secret []byte, header string) (string, error) {
	for _, part := range strings.Split(header, ";") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || name != SessionCookieName {
			continue
		}
		return VerifySessionID(secret, strings.Trim(value, `"`))
	}
	return "", ErrInvalidCookie
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
