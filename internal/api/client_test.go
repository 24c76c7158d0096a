package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"taskboard/internal/model"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token-1", TokenType: "Bearer"}))
}

func TestListTasks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tasks", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"tasks": [{"taskId":"1","title":"Buy milk","priority":"3","completed":false,"sharedWith":["b@x.com"]}],
			"sharedTasks": [{"taskId":"9","title":"Plan trip","priority":null,"userId":"owner-1","ownerEmail":"o@x.com","sharedPermission":"read"}]
		}`)
	})
	client := newTestClient(t, mux)

	list, err := client.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, list.Tasks, 1)
	require.Len(t, list.SharedTasks, 1)

	own := list.Tasks[0]
	require.NotNil(t, own.Priority)
	assert.True(t, own.Priority.Valid)
	assert.Equal(t, 3, own.Priority.Value)
	assert.Equal(t, []string{"b@x.com"}, own.SharedWith)

	shared := list.SharedTasks[0]
	assert.Nil(t, shared.Priority)
	assert.Equal(t, "owner-1", shared.UserID)
	assert.Equal(t, "read", shared.SharedPermission)
}

func TestCreateTaskSendsNullDueDate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Nil(t, body["dueDate"])
		assert.Equal(t, []any{}, body["sharedWith"])
		assert.Equal(t, float64(2), body["priority"])
		_, _ = io.WriteString(w, `{"taskId":"srv-1","title":"Buy milk"}`)
	})
	client := newTestClient(t, mux)

	rec, err := client.CreateTask(context.Background(), NewTask{Title: "Buy milk", Priority: 2, Category: "personal"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", rec.TaskID)
}

func TestUpdateTaskOmitsUnsetFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /tasks/abc", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"completed": true}, body)
		_, _ = io.WriteString(w, `{"task":{"taskId":"abc","completed":true}}`)
	})
	client := newTestClient(t, mux)

	done := true
	rec, err := client.UpdateTask(context.Background(), "abc", TaskUpdate{Completed: &done})
	require.NoError(t, err)
	assert.True(t, rec.Completed)
}

func TestShareTaskUnknownRecipient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks/abc/share", func(w http.ResponseWriter, r *http.Request) {
		var body shareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Email != "a@x.com" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"User not found"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	require.NoError(t, client.ShareTask(ctx, "abc", "a@x.com", model.PermissionEdit))

	err := client.ShareTask(ctx, "abc", "b@x.com", model.PermissionEdit)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecipientNotFound)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "User not found", se.Message)
}

func TestListShares(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tasks/abc/shares", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"shares":[
			{"sharedWithUserId":"u1","sharedWithEmail":"a@x.com","permission":"edit","sharedAt":"2025-01-02T03:04:05Z"},
			{"sharedWithUserId":"u2","sharedWithEmail":"b@x.com","permission":"read","sharedAt":1735787045000}
		]}`)
	})
	client := newTestClient(t, mux)

	shares, err := client.ListShares(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, model.PermissionEdit, shares[0].Permission)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), shares[0].SharedAt.UTC())
	assert.Equal(t, int64(1735787045000), shares[1].SharedAt.UnixMilli())
}

func TestUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "expired"}))

	_, err := client.ListTasks(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "HTTP 401")
}
