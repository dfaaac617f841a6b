// Package chatsync provides a client for the chatsync HTTP API.
package chatsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/eldtechnologies/chatsync/internal/identity"
	"github.com/eldtechnologies/chatsync/internal/models"
)

// DefaultURL is used when no base URL is given.
const DefaultURL = "http://localhost:8080"

// SessionHeader carries the email of the user a request acts for.
const SessionHeader = "X-Chat-Email"

// Client is a chatsync API client.
type Client struct {
	BaseURL    string
	Session    identity.Session
	Sessions   identity.SessionFile
	HTTPClient *http.Client
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatsync error %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new client and loads the saved session, if any.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	c := &Client{
		BaseURL:    baseURL,
		Sessions:   identity.DefaultSessionFile(os.Getenv("CHATSYNC_CONFIG")),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	if s, err := c.Sessions.Load(); err == nil {
		c.Session = s
	}
	return c
}

// doRequest performs an HTTP request, acting for the session user when
// withSession is set.
func (c *Client) doRequest(method, path string, body interface{}, withSession bool) ([]byte, error) {
	var reqBody []byte
	if body != nil {
		var err error
		if reqBody, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withSession {
		if !c.Session.Valid() {
			return nil, identity.ErrNoSession
		}
		req.Header.Set(SessionHeader, c.Session.Email)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, body: respBody}
	}

	return respBody, nil
}

func (c *Client) call(method, path string, body, out interface{}, withSession bool) error {
	respBody, err := c.doRequest(method, path, body, withSession)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}

// Register adds a user to the directory and saves the session. Registering
// an existing email logs in as that user.
func (c *Client) Register(email, name string) (*models.User, error) {
	var user models.User
	req := map[string]string{"email": email, "name": name}
	if err := c.call(http.MethodPost, "/users", req, &user, false); err != nil {
		return nil, err
	}
	return &user, c.setSession(user)
}

// Login looks the user up and saves the session.
func (c *Client) Login(email string) (*models.User, error) {
	user, err := c.Who(email)
	if err != nil {
		return nil, err
	}
	return user, c.setSession(*user)
}

// Logout clears the saved session.
func (c *Client) Logout() error {
	c.Session = identity.Session{}
	return c.Sessions.Clear()
}

func (c *Client) setSession(u models.User) error {
	c.Session = identity.NewSession(u.Email, u.DisplayName)
	return c.Sessions.Save(c.Session)
}

// UsersResponse is a page of the directory.
type UsersResponse struct {
	Users   []models.User `json:"users"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}

// ListUsers returns a page of registered users.
func (c *Client) ListUsers(limit, offset int) (*UsersResponse, error) {
	var resp UsersResponse
	path := fmt.Sprintf("/users?limit=%d&offset=%d", limit, offset)
	if err := c.call(http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Who looks up a user by email.
func (c *Client) Who(email string) (*models.User, error) {
	var user models.User
	if err := c.call(http.MethodGet, "/users/"+url.PathEscape(email), nil, &user, false); err != nil {
		return nil, err
	}
	return &user, nil
}

// Rename changes the session user's display name.
func (c *Client) Rename(name string) (*models.User, error) {
	var user models.User
	if err := c.call(http.MethodPut, "/me/name", map[string]string{"name": name}, &user, true); err != nil {
		return nil, err
	}
	return &user, c.setSession(user)
}

// Conversations returns the session user's conversation index.
func (c *Client) Conversations() ([]models.ConversationSummary, error) {
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := c.call(http.MethodGet, "/me/conversations", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// MessagesResponse is a page of a conversation's messages.
type MessagesResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	Total          int              `json:"total"`
	HasMore        bool             `json:"has_more"`
}

// Messages returns a page of a conversation's messages, oldest first.
func (c *Client) Messages(conversationID string, limit, offset int) (*MessagesResponse, error) {
	var resp MessagesResponse
	path := fmt.Sprintf("/conversations/%s/messages?limit=%d&offset=%d", url.PathEscape(conversationID), limit, offset)
	if err := c.call(http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead flags the messages the session user received in the
// conversation as read, and the conversation's summary with peer.
func (c *Client) MarkRead(conversationID, peer string) (int, error) {
	var resp struct {
		Updated int `json:"updated"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.call(http.MethodPost, path, nil, &resp, true); err != nil {
		return 0, err
	}
	_, err := c.doRequest(http.MethodPost, "/me/conversations/"+url.PathEscape(peer)+"/read", nil, true)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		err = nil
	}
	return resp.Updated, err
}

// Step reports one write of a send.
type Step struct {
	Step     string `json:"step"`
	Done     bool   `json:"done"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// SendResponse reports the outcome of a send.
type SendResponse struct {
	AttemptID      string `json:"attempt_id"`
	State          string `json:"state"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	FailedStep     string `json:"failed_step,omitempty"`
	Steps          []Step `json:"steps"`
}

// Send sends text to the user with email to. When the send fails part way
// the response is returned with the error so the attempt can be resumed.
func (c *Client) Send(to, text string) (*SendResponse, error) {
	req := map[string]string{"to": to, "text": text}
	return c.send("/messages", req)
}

// Resume retries the failed steps of an earlier send.
func (c *Client) Resume(attemptID string) (*SendResponse, error) {
	return c.send("/attempts/"+url.PathEscape(attemptID)+"/resume", nil)
}

func (c *Client) send(path string, body interface{}) (*SendResponse, error) {
	var resp SendResponse
	respBody, err := c.doRequest(http.MethodPost, path, body, true)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadGateway {
			if json.Unmarshal(apiErr.body, &resp) == nil && resp.AttemptID != "" {
				return &resp, err
			}
		}
		return nil, err
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Region    string                 `json:"region,omitempty"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.call(http.MethodGet, "/health", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}
