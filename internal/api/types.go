package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// TaskList is the answer of GET /tasks: own tasks and shared-in tasks, tagged apart.
type TaskList struct {
	Tasks       []TaskRecord `json:"tasks"`
	SharedTasks []TaskRecord `json:"sharedTasks"`
}

// TaskRecord is a task as the API stores it.
type TaskRecord struct {
	TaskID           string    `json:"taskId"`
	UserID           string    `json:"userId,omitempty"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Priority         *Priority `json:"priority,omitempty"`
	DueDate          string    `json:"dueDate,omitempty"`
	Category         string    `json:"category,omitempty"`
	Completed        bool      `json:"completed"`
	SharedWith       []string  `json:"sharedWith,omitempty"`
	SharedPermission string    `json:"sharedPermission,omitempty"`
	OwnerEmail       string    `json:"ownerEmail,omitempty"`
}

// Priority accepts both numbers and numeric strings. Valid is false when
// the value could not be read as an integer.
type Priority struct {
	Value int
	Valid bool
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = Priority{}
		return nil
	}
	raw := string(data)
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*p = Priority{Value: int(f), Valid: true}
		return nil
	}
	*p = Priority{}
	return nil
}

func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(p.Value)), nil
}

// NewTask is the body of POST /tasks.
type NewTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Category    string   `json:"category"`
	DueDate     Nullable `json:"dueDate"`
	SharedWith  []string `json:"sharedWith"`
}

// TaskUpdate is the partial body of PUT /tasks/{id}. Nil fields are omitted.
type TaskUpdate struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	Category    *string   `json:"category,omitempty"`
	DueDate     *Nullable `json:"dueDate,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
	SharedWith  *[]string `json:"sharedWith,omitempty"`
}

// Nullable encodes the empty string as JSON null.
type Nullable string

func (n Nullable) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(n))
}

// ShareRecord is one entry of GET /tasks/{id}/shares.
type ShareRecord struct {
	SharedWithUserID string          `json:"sharedWithUserId"`
	SharedWithEmail  string          `json:"sharedWithEmail"`
	Permission       string          `json:"permission"`
	SharedAt         json.RawMessage `json:"sharedAt"`
}

type shareRequest struct {
	Email      string `json:"email"`
	Permission string `json:"permission"`
}

type permissionRequest struct {
	Permission string `json:"permission"`
}
