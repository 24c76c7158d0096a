package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"taskboard/internal/model"
)

var (
	ErrUnauthorized      = errors.New("not authorized")
	ErrNotFound          = errors.New("not found")
	ErrRecipientNotFound = errors.New("recipient is not a registered user")
)

// StatusError is a non-2xx answer of the task API.
type StatusError struct {
	Op      string
	Code    int
	Status  string
	Message string
	Kind    error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, http.StatusText(e.Code))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// Client calls the REST task API with a bearer token.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient authenticates every request with tokens from ts.
func NewClient(baseURL string, ts oauth2.TokenSource) *Client {
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = 30 * time.Second
	return NewClientWithHTTP(baseURL, httpClient)
}

// NewClientWithHTTP uses httpClient as is. It must attach the bearer token itself.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) ListTasks(ctx context.Context) (TaskList, error) {
	var out TaskList
	err := c.do(ctx, "list tasks", http.MethodGet, "/tasks", nil, &out)
	return out, err
}

func (c *Client) CreateTask(ctx context.Context, task NewTask) (TaskRecord, error) {
	if task.SharedWith == nil {
		task.SharedWith = []string{}
	}
	var out TaskRecord
	if err := c.do(ctx, "create task", http.MethodPost, "/tasks", task, &out); err != nil {
		return TaskRecord{}, err
	}
	if out.TaskID == "" {
		return TaskRecord{}, fmt.Errorf("create task: response carries no taskId")
	}
	return out, nil
}

func (c *Client) UpdateTask(ctx context.Context, id string, update TaskUpdate) (TaskRecord, error) {
	var out struct {
		Task TaskRecord `json:"task"`
	}
	err := c.do(ctx, "update task", http.MethodPut, "/tasks/"+url.PathEscape(id), update, &out)
	return out.Task, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, "delete task", http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

// ShareTask grants email access to the task. An unknown recipient yields ErrRecipientNotFound.
func (c *Client) ShareTask(ctx context.Context, id, email string, permission model.Permission) error {
	body := shareRequest{Email: email, Permission: string(permission)}
	err := c.do(ctx, "share task", http.MethodPost, "/tasks/"+url.PathEscape(id)+"/share", body, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		se.Kind = ErrRecipientNotFound
	}
	return err
}

func (c *Client) ListShares(ctx context.Context, id string) ([]model.Share, error) {
	var out struct {
		Shares []ShareRecord `json:"shares"`
	}
	if err := c.do(ctx, "list shares", http.MethodGet, "/tasks/"+url.PathEscape(id)+"/shares", nil, &out); err != nil {
		return nil, err
	}
	shares := make([]model.Share, 0, len(out.Shares))
	for _, rec := range out.Shares {
		shares = append(shares, model.Share{
			SharedWithUserID: rec.SharedWithUserID,
			SharedWithEmail:  rec.SharedWithEmail,
			Permission:       model.Permission(rec.Permission),
			SharedAt:         parseSharedAt(rec.SharedAt),
		})
	}
	return shares, nil
}

func (c *Client) UpdateShare(ctx context.Context, id, userID string, permission model.Permission) error {
	path := "/tasks/" + url.PathEscape(id) + "/share/" + url.PathEscape(userID)
	return c.do(ctx, "update share", http.MethodPut, path, permissionRequest{Permission: string(permission)}, nil)
}

func (c *Client) RemoveShare(ctx context.Context, id, userID string) error {
	path := "/tasks/" + url.PathEscape(id) + "/share/" + url.PathEscape(userID)
	return c.do(ctx, "remove share", http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	se := &StatusError{Op: op, Code: resp.StatusCode, Status: resp.Status}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		se.Kind = ErrUnauthorized
	case http.StatusNotFound:
		se.Kind = ErrNotFound
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		se.Message = payload.Message
		if se.Message == "" {
			se.Message = payload.Error
		}
	}
	return se
}

// parseSharedAt accepts RFC 3339 strings and epoch milliseconds.
func parseSharedAt(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
		return time.Time{}
	}
	var ms int64
	if json.Unmarshal(raw, &ms) == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}
