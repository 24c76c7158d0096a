package model

import (
	"slices"
	"strings"
	"time"
)

// Priority bounds accepted by the task API.
const (
	PriorityMin     = 0
	PriorityMax     = 3
	PriorityDefault = 2
)

// TempIDPrefix marks tasks that exist only locally while their create call is in flight.
const TempIDPrefix = "temp_"

// Permission is the access level granted on a shared task.
type Permission string

const (
	PermissionRead Permission = "read"
	PermissionEdit Permission = "edit"
)

// Valid reports whether p is one of the known permissions.
func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionEdit
}

// Toggle flips read and edit.
func (p Permission) Toggle() Permission {
	if p == PermissionEdit {
		return PermissionRead
	}
	return PermissionEdit
}

// Task is a single item in the combined view: either owned by the current
// user or shared in by somebody else (IsShared).
type Task struct {
	ID          string
	Title       string
	Description string
	Priority    int
	Deadline    string // ISO date or datetime, empty when unset
	Category    string
	Completed   bool

	// SharedWith lists grantee emails of an owned task. Always empty for shared-in tasks.
	SharedWith []string
	IsShared   bool

	// Set only on shared-in tasks.
	Permission Permission
	OwnerID    string
	OwnerEmail string
}

// Clone returns a copy that does not alias the receiver's slices.
func (t Task) Clone() Task {
	t.SharedWith = slices.Clone(t.SharedWith)
	return t
}

// Pending reports whether the task still carries a temporary id.
func (t Task) Pending() bool {
	return strings.HasPrefix(t.ID, TempIDPrefix)
}

// Editable reports whether the current user may change the task.
func (t Task) Editable() bool {
	return !t.IsShared || t.Permission == PermissionEdit
}

// InShareView reports whether the task belongs in the "shared" filter.
func (t Task) InShareView() bool {
	return len(t.SharedWith) > 0 || t.IsShared
}

// CategoryOrDefault normalizes an absent category to CategoryOther.
func (t Task) CategoryOrDefault() string {
	if strings.TrimSpace(t.Category) == "" {
		return CategoryOther
	}
	return t.Category
}

var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// DeadlineTime parses Deadline in loc. The second result is false when the
// deadline is empty or unparsable.
func (t Task) DeadlineTime(loc *time.Location) (time.Time, bool) {
	return ParseDeadline(t.Deadline, loc)
}

// ParseDeadline accepts the date and datetime shapes the task API hands out.
func ParseDeadline(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range deadlineLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// ClampPriority keeps p inside the accepted range, falling back to the default.
func ClampPriority(p int) int {
	if p < PriorityMin || p > PriorityMax {
		return PriorityDefault
	}
	return p
}

// Draft is the user input for a new task.
type Draft struct {
	Title       string
	Description string
	Priority    int
	Deadline    string
	Category    string
	Recipients  []string
}

// Normalize trims text fields and applies defaults for an omitted category or
// an out-of-range priority.
func (d Draft) Normalize() Draft {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Deadline = strings.TrimSpace(d.Deadline)
	d.Category = strings.TrimSpace(d.Category)
	if d.Category == "" {
		d.Category = CategoryPersonal
	}
	d.Priority = ClampPriority(d.Priority)
	d.Recipients = slices.Clone(d.Recipients)
	return d
}

// Patch is a partial edit. Nil fields are left untouched.
type Patch struct {
	Title       *string
	Description *string
	Priority    *int
	Deadline    *string
	Category    *string
	Completed   *bool

	// Recipients replaces the grantee list of an owned task when non-nil.
	Recipients []string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil &&
		p.Deadline == nil && p.Category == nil && p.Completed == nil && p.Recipients == nil
}

// Apply writes the patch onto t.
func (p Patch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Priority != nil {
		t.Priority = ClampPriority(*p.Priority)
	}
	if p.Deadline != nil {
		t.Deadline = strings.TrimSpace(*p.Deadline)
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Recipients != nil && !t.IsShared {
		t.SharedWith = slices.Clone(p.Recipients)
	}
}
