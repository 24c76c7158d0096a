package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// AttributeCategories is the custom user attribute holding the serialized custom categories.
const AttributeCategories = "custom:categories"

// Provider is the hosted identity service.
type Provider interface {
	SignUp(ctx context.Context, email, password string) error
	ConfirmSignUp(ctx context.Context, email, code string) error
	ResendCode(ctx context.Context, email string) error
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, s *Session) error
	CurrentSession(ctx context.Context, token *oauth2.Token) (*Session, error)
	Attributes(ctx context.Context, s *Session) (map[string]string, error)
	UpdateAttributes(ctx context.Context, s *Session, attrs map[string]string) error
	ChangePassword(ctx context.Context, s *Session, current, next string) error
	ForgotPassword(ctx context.Context, email string) error
	ConfirmForgotPassword(ctx context.Context, email, code, password string) error
	DeleteAccount(ctx context.Context, s *Session) error
}

// Session is a signed-in user. Its token source refreshes transparently.
type Session struct {
	UserID string
	Email  string
	source oauth2.TokenSource
}

// NewSession wraps an existing token source. Mostly useful for tests and the CLI.
func NewSession(userID, email string, source oauth2.TokenSource) *Session {
	return &Session{UserID: userID, Email: email, source: oauth2.ReuseTokenSource(nil, source)}
}

// TokenSource returns the bearer token source for API calls.
func (s *Session) TokenSource() oauth2.TokenSource {
	return s.source
}

// Token returns the current, possibly refreshed, token.
func (s *Session) Token() (*oauth2.Token, error) {
	if s == nil || s.source == nil {
		return nil, ErrNoSession
	}
	return s.source.Token()
}

// WatchRefresh calls fn with the token each time its refresh token differs
// from known. Install it before the session's token source is handed out.
func (s *Session) WatchRefresh(known string, fn func(*oauth2.Token)) {
	s.source = &rotationSource{src: s.source, last: known, fn: fn}
}

type rotationSource struct {
	src oauth2.TokenSource
	fn  func(*oauth2.Token)

	mu   sync.Mutex
	last string
}

func (r *rotationSource) Token() (*oauth2.Token, error) {
	tok, err := r.src.Token()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	rotated := tok.RefreshToken != "" && tok.RefreshToken != r.last
	if rotated {
		r.last = tok.RefreshToken
	}
	r.mu.Unlock()
	if rotated {
		r.fn(tok)
	}
	return tok, nil
}

// Client talks JSON to the identity endpoint. Sign-in uses the OAuth2
// resource-owner password grant.
type Client struct {
	baseURL  string
	clientID string
	oauth    *oauth2.Config
	http     *http.Client
}

var _ Provider = (*Client)(nil)

func NewClient(baseURL, clientID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL:  baseURL,
		clientID: clientID,
		http:     httpClient,
		oauth: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  baseURL + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{"openid", "email"},
		},
	}
}

func (c *Client) SignUp(ctx context.Context, email, password string) error {
	if email = strings.TrimSpace(email); email == "" {
		return ErrEmptyEmail
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	return c.call(ctx, nil, http.MethodPost, "/signup", map[string]string{
		"clientId": c.clientID, "email": email, "password": password,
	}, nil)
}

func (c *Client) ConfirmSignUp(ctx context.Context, email, code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrEmptyCode
	}
	return c.call(ctx, nil, http.MethodPost, "/signup/confirm", map[string]string{
		"clientId": c.clientID, "email": strings.TrimSpace(email), "code": strings.TrimSpace(code),
	}, nil)
}

func (c *Client) ResendCode(ctx context.Context, email string) error {
	return c.call(ctx, nil, http.MethodPost, "/signup/resend", map[string]string{
		"clientId": c.clientID, "email": strings.TrimSpace(email),
	}, nil)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmptyEmail
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}

	token, err := c.oauth.PasswordCredentialsToken(c.withClient(ctx), email, password)
	if err != nil {
		return nil, classifyTokenError(err)
	}
	return c.session(ctx, c.oauth.TokenSource(c.withClient(context.Background()), token))
}

func (c *Client) SignOut(ctx context.Context, s *Session) error {
	token, err := s.Token()
	if err != nil {
		return nil
	}
	form := url.Values{"client_id": {c.clientID}}
	if token.RefreshToken != "" {
		form.Set("token", token.RefreshToken)
	} else {
		form.Set("token", token.AccessToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}

func (c *Client) CurrentSession(ctx context.Context, token *oauth2.Token) (*Session, error) {
	if token == nil || (token.AccessToken == "" && token.RefreshToken == "") {
		return nil, ErrNoSession
	}
	src := c.oauth.TokenSource(c.withClient(context.Background()), token)
	if _, err := src.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return c.session(ctx, src)
}

func (c *Client) Attributes(ctx context.Context, s *Session) (map[string]string, error) {
	var out struct {
		Attributes map[string]string `json:"attributes"`
	}
	if err := c.call(ctx, s, http.MethodGet, "/attributes", nil, &out); err != nil {
		return nil, err
	}
	if out.Attributes == nil {
		out.Attributes = map[string]string{}
	}
	return out.Attributes, nil
}

func (c *Client) UpdateAttributes(ctx context.Context, s *Session, attrs map[string]string) error {
	return c.call(ctx, s, http.MethodPut, "/attributes", map[string]any{"attributes": attrs}, nil)
}

func (c *Client) ChangePassword(ctx context.Context, s *Session, current, next string) error {
	if current == "" {
		return ErrEmptyPassword
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	return c.call(ctx, s, http.MethodPost, "/password/change", map[string]string{
		"previousPassword": current, "proposedPassword": next,
	}, nil)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	if email = strings.TrimSpace(email); email == "" {
		return ErrEmptyEmail
	}
	return c.call(ctx, nil, http.MethodPost, "/password/forgot", map[string]string{
		"clientId": c.clientID, "email": email,
	}, nil)
}

func (c *Client) ConfirmForgotPassword(ctx context.Context, email, code, password string) error {
	if strings.TrimSpace(code) == "" {
		return ErrEmptyCode
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	return c.call(ctx, nil, http.MethodPost, "/password/confirm", map[string]string{
		"clientId": c.clientID, "email": strings.TrimSpace(email), "code": strings.TrimSpace(code), "password": password,
	}, nil)
}

func (c *Client) DeleteAccount(ctx context.Context, s *Session) error {
	return c.call(ctx, s, http.MethodDelete, "/account", nil, nil)
}

func (c *Client) session(ctx context.Context, src oauth2.TokenSource) (*Session, error) {
	s := &Session{source: src}
	var info struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := c.call(ctx, s, http.MethodGet, "/userinfo", nil, &info); err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("fetch user info: empty subject")
	}
	s.UserID = info.Sub
	s.Email = info.Email
	return s, nil
}

func (c *Client) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// call sends in as JSON and decodes the answer into out. A nil session makes
// an unauthenticated call.
func (c *Client) call(ctx context.Context, s *Session, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s != nil {
		token, err := s.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoSession, err)
		}
		token.SetAuthHeader(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Code == "" {
		if resp.StatusCode == http.StatusTooManyRequests {
			return &Error{Kind: ErrRateLimited, Code: "TooManyRequestsException"}
		}
		return fmt.Errorf("auth: %s", resp.Status)
	}
	return newError(payload.Code, payload.Message)
}

func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("sign in: %w", err)
	}
	if re.Response != nil && re.Response.StatusCode == http.StatusTooManyRequests {
		return &Error{Kind: ErrRateLimited, Code: "TooManyRequestsException", Message: re.ErrorDescription}
	}
	if re.ErrorCode == "" {
		return fmt.Errorf("sign in: %w", err)
	}
	return newError(re.ErrorCode, re.ErrorDescription)
}

// SessionAttributes binds attribute storage to one signed-in session.
type SessionAttributes struct {
	provider Provider
	session  *Session
}

func BindAttributes(p Provider, s *Session) *SessionAttributes {
	return &SessionAttributes{provider: p, session: s}
}

func (a *SessionAttributes) Attribute(ctx context.Context, name string) (string, bool, error) {
	attrs, err := a.provider.Attributes(ctx, a.session)
	if err != nil {
		return "", false, err
	}
	value, ok := attrs[name]
	return value, ok, nil
}

func (a *SessionAttributes) SetAttribute(ctx context.Context, name, value string) error {
	return a.provider.UpdateAttributes(ctx, a.session, map[string]string{name: value})
}
