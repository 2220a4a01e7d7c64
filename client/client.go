// Package client is a Go SDK for the Proofdeck API. It pairs the
// paginated comment endpoints with a websocket listener that keeps a
// local thread cache current as broadcasts arrive.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"
)

type User struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
}

type Comment struct {
	ID         string    `json:"_id"`
	FileID     string    `json:"fileId"`
	AuthorID   string    `json:"authorId"`
	Body       string    `json:"body"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	CreatedAt  time.Time `json:"createdAt"`
	ParentID   *string   `json:"parentId,omitempty"`
	Annotation string    `json:"annotation,omitempty"`
	Author     *User     `json:"author,omitempty"`
}

// ThreadGroup mirrors the server's thread shape: the root comment
// followed by its replies in creation order.
type ThreadGroup []Comment

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type CommentsPage struct {
	Comments   []ThreadGroup `json:"comments"`
	Pagination Pagination    `json:"pagination"`
}

// APIError is a non-2xx response decoded from the server's error shape.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (http %d)", e.Code, e.Message, e.StatusCode)
}

// Client talks to the Proofdeck API. The embedded cookie jar carries the
// session cookie set by Login across subsequent calls.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Jar: jar, Timeout: 30 * time.Second},
	}, nil
}

// CookieHeader returns the Cookie header value for the API host, for
// reuse on the websocket handshake.
func (c *Client) CookieHeader() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	cookies := c.http.Jar.Cookies(u)
	header := ""
	for i, cookie := range cookies {
		if i > 0 {
			header += "; "
		}
		header += cookie.Name + "=" + cookie.Value
	}
	return header, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var payload struct {
		User User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email": email, "password": password,
	}, &payload)
	return payload.User, err
}

func (c *Client) SignUp(ctx context.Context, email, password string) (User, error) {
	var payload struct {
		User User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/signup", map[string]string{
		"email": email, "password": password,
	}, &payload)
	return payload.User, err
}

func (c *Client) ListComments(ctx context.Context, fileID string, page, limit int) (CommentsPage, error) {
	query := url.Values{}
	query.Set("fileId", fileID)
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))

	var payload CommentsPage
	err := c.do(ctx, http.MethodGet, "/api/comments?"+query.Encode(), nil, &payload)
	return payload, err
}

type CreateCommentRequest struct {
	FileID     string  `json:"fileId"`
	Body       string  `json:"body"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	ParentID   string  `json:"parentId,omitempty"`
	Annotation string  `json:"annotation,omitempty"`
}

func (c *Client) CreateComment(ctx context.Context, req CreateCommentRequest) (Comment, error) {
	var payload struct {
		Comment Comment `json:"comment"`
	}
	err := c.do(ctx, http.MethodPost, "/api/comments", req, &payload)
	return payload.Comment, err
}

func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Code = "SERVER_ERROR"
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
