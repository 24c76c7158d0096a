package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"taskboard/internal/api"
	"taskboard/internal/model"
)

// ShareAPI is the sharing half of the task API.
type ShareAPI interface {
	ShareTask(ctx context.Context, taskID, email string, permission model.Permission) error
	ListShares(ctx context.Context, taskID string) ([]model.Share, error)
	UpdateShare(ctx context.Context, taskID, userID string, permission model.Permission) error
	RemoveShare(ctx context.Context, taskID, userID string) error
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail applies the same loose check as the recipient input.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ParseRecipients splits a comma, semicolon or whitespace separated list,
// validates every address and drops duplicates, keeping the first spelling.
func ParseRecipients(input string) ([]string, error) {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	seen := make(map[string]bool, len(fields))
	recipients := make([]string, 0, len(fields))
	for _, f := range fields {
		email := strings.TrimSpace(f)
		if email == "" {
			continue
		}
		if !ValidEmail(email) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEmail, email)
		}
		key := strings.ToLower(email)
		if seen[key] {
			continue
		}
		seen[key] = true
		recipients = append(recipients, email)
	}
	return recipients, nil
}

// RecipientFailure is one recipient a share call failed for.
type RecipientFailure struct {
	Email string
	Err   error
}

// ShareOutcome partitions a fan-out by result. Both halves keep input order.
type ShareOutcome struct {
	TaskID    string
	Succeeded []string
	Failed    []RecipientFailure
}

func (o ShareOutcome) FailedEmails() []string {
	emails := make([]string, 0, len(o.Failed))
	for _, f := range o.Failed {
		emails = append(emails, f.Email)
	}
	return emails
}

// NotFound lists the failed recipients that are not registered users.
func (o ShareOutcome) NotFound() []string {
	var emails []string
	for _, f := range o.Failed {
		if errors.Is(f.Err, api.ErrRecipientNotFound) {
			emails = append(emails, f.Email)
		}
	}
	return emails
}

// SharingController manages the share records of owned tasks. The share list
// is never patched locally: every successful change re-fetches it.
type SharingController struct {
	api     ShareAPI
	log     *slog.Logger
	workers int
}

func NewSharingController(shareAPI ShareAPI, logger *slog.Logger, workers int) *SharingController {
	if workers <= 0 {
		workers = 8
	}
	return &SharingController{api: shareAPI, log: logger, workers: workers}
}

// Share grants one recipient access and returns the refreshed share list.
func (c *SharingController) Share(ctx context.Context, taskID, email string, permission model.Permission) ([]model.Share, error) {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEmail, email)
	}
	if !permission.Valid() {
		return nil, ErrInvalidPermission
	}
	if err := c.api.ShareTask(ctx, taskID, email, permission); err != nil {
		c.log.Error("share task", "op", "share", "task_id", taskID, "email", email, "error", err)
		return nil, &OpError{Kind: ErrShareFailed, Op: "share", TaskID: taskID, Err: err}
	}
	return c.ListShares(ctx, taskID)
}

func (c *SharingController) ListShares(ctx context.Context, taskID string) ([]model.Share, error) {
	shares, err := c.api.ListShares(ctx, taskID)
	if err != nil {
		c.log.Error("list shares", "op", "list_shares", "task_id", taskID, "error", err)
		return nil, &OpError{Kind: ErrShareFailed, Op: "list shares", TaskID: taskID, Err: err}
	}
	return shares, nil
}

func (c *SharingController) UpdatePermission(ctx context.Context, taskID, userID string, permission model.Permission) ([]model.Share, error) {
	if !permission.Valid() {
		return nil, ErrInvalidPermission
	}
	if err := c.api.UpdateShare(ctx, taskID, userID, permission); err != nil {
		c.log.Error("update share", "op", "update_share", "task_id", taskID, "user", userID, "error", err)
		return nil, &OpError{Kind: ErrShareFailed, Op: "update share", TaskID: taskID, Err: err}
	}
	return c.ListShares(ctx, taskID)
}

// TogglePermission flips a share between read and edit.
func (c *SharingController) TogglePermission(ctx context.Context, taskID string, share model.Share) ([]model.Share, error) {
	return c.UpdatePermission(ctx, taskID, share.SharedWithUserID, share.Permission.Toggle())
}

func (c *SharingController) Unshare(ctx context.Context, taskID, userID string) ([]model.Share, error) {
	if err := c.api.RemoveShare(ctx, taskID, userID); err != nil {
		c.log.Error("remove share", "op", "unshare", "task_id", taskID, "user", userID, "error", err)
		return nil, &OpError{Kind: ErrShareFailed, Op: "unshare", TaskID: taskID, Err: err}
	}
	return c.ListShares(ctx, taskID)
}

// ShareWithAll shares the task with every recipient concurrently and waits
// for all of them. A failing recipient never stops its siblings.
func (c *SharingController) ShareWithAll(ctx context.Context, taskID string, emails []string, permission model.Permission) ShareOutcome {
	results := make([]error, len(emails))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, email := range emails {
		if !ValidEmail(email) {
			results[i] = fmt.Errorf("%w: %s", ErrInvalidEmail, email)
			continue
		}
		g.Go(func() error {
			results[i] = c.api.ShareTask(ctx, taskID, email, permission)
			return nil
		})
	}
	_ = g.Wait()

	outcome := ShareOutcome{TaskID: taskID}
	for i, email := range emails {
		if results[i] != nil {
			c.log.Warn("share recipient failed", "op", "share", "task_id", taskID, "email", email, "error", results[i])
			outcome.Failed = append(outcome.Failed, RecipientFailure{Email: email, Err: results[i]})
			continue
		}
		outcome.Succeeded = append(outcome.Succeeded, email)
	}
	return outcome
}
