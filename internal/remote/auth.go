package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Auth state change events delivered to OnAuthStateChange listeners.
const (
	AuthEventSignedIn  = "SIGNED_IN"
	AuthEventSignedOut = "SIGNED_OUT"
)

// Session is the token pair returned by the backend auth endpoints.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         *User  `json:"user,omitempty"`
}

// User is the backend's view of an authenticated user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignInWithPassword authenticates with email and password, storing the
// returned session on the client and notifying auth listeners.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	if !c.IsAvailable() {
		return nil, fmt.Errorf("remote client is not available")
	}

	body, err := c.do(ctx, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"password"}},
		map[string]any{"email": email, "password": password}, nil)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return c.adoptSession(body)
}

// SignUp registers a new account. Depending on backend settings the
// returned session may be nil until the email is confirmed.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error) {
	if !c.IsAvailable() {
		return nil, fmt.Errorf("remote client is not available")
	}

	payload := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		payload["data"] = metadata
	}

	body, err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("sign up: decode response: %w", err)
	}
	if session.AccessToken == "" {
		// Email confirmation pending; no session yet.
		return nil, nil
	}
	return c.adoptSession(body)
}

// SignInWithOAuth returns the URL the caller should open to complete the
// provider flow. The redirect target is selected from client config.
func (c *Client) SignInWithOAuth(provider string) (string, error) {
	if !c.IsAvailable() {
		return "", fmt.Errorf("remote client is not available")
	}
	if provider == "" {
		return "", fmt.Errorf("oauth provider is required")
	}

	authorize := *c.baseURL
	authorize.Path = authorize.Path + "/auth/v1/authorize"
	query := url.Values{}
	query.Set("provider", provider)
	if c.cfg.RedirectURL != "" {
		query.Set("redirect_to", c.cfg.RedirectURL)
	}
	authorize.RawQuery = query.Encode()
	return authorize.String(), nil
}

// GetSession returns the current session, or nil when signed out.
func (c *Client) GetSession() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// OnAuthStateChange registers a listener for sign-in/sign-out events and
// returns a function that removes it.
func (c *Client) OnAuthStateChange(fn func(event string, session *Session)) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.authListeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.authListeners, id)
		c.mu.Unlock()
	}
}

// SignOut revokes the current session on the backend and clears it locally.
// The local session is cleared even if the revoke call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	c.notifyAuthListeners(AuthEventSignedOut, nil)

	if session == nil || !c.IsAvailable() {
		return nil
	}
	if _, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, map[string]any{}, nil); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

func (c *Client) adoptSession(body []byte) (*Session, error) {
	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()

	c.notifyAuthListeners(AuthEventSignedIn, &session)
	return &session, nil
}

func (c *Client) notifyAuthListeners(event string, session *Session) {
	c.mu.RLock()
	listeners := make([]func(string, *Session), 0, len(c.authListeners))
	for _, fn := range c.authListeners {
		listeners = append(listeners, fn)
	}
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(event, session)
	}
}
