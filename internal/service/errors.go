package service

import (
	"errors"
	"fmt"
)

// Failure kinds of the optimistic flows. An *OpError unwraps to one of them
// and to the collaborator error that caused it.
var (
	ErrLoad         = errors.New("load tasks failed")
	ErrCreateFailed = errors.New("create task failed")
	ErrUpdateFailed = errors.New("update task failed")
	ErrDeleteFailed = errors.New("delete task failed")
	ErrShareFailed  = errors.New("share task failed")
)

// Validation and lookup errors, returned before any remote call.
var (
	ErrEmptyTitle        = errors.New("task title cannot be empty")
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskPending       = errors.New("task is still being created")
	ErrReadOnly          = errors.New("task is shared read-only")
	ErrEmptyPatch        = errors.New("nothing to update")
	ErrNothingToDelete   = errors.New("no completed tasks to delete")
	ErrProtectedCategory = errors.New("built-in categories cannot be deleted")
	ErrCategoryNotFound  = errors.New("category not found")
	ErrEmptyCategoryName = errors.New("category name cannot be empty")
	ErrInvalidColor      = errors.New("unknown category color")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidPermission = errors.New("permission must be read or edit")
	ErrUnknownFilter     = errors.New("unknown filter")
	ErrUnknownSort       = errors.New("unknown sort order")
)

// OpError describes a failed remote call made on behalf of one task.
type OpError struct {
	Kind   error
	Op     string
	TaskID string
	Err    error
}

func (e *OpError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Reason returns the collaborator's failure text shown to the user.
func Reason(err error) string {
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
