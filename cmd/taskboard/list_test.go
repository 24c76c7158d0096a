package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"taskboard/internal/logging"
	"taskboard/internal/model"
	"taskboard/internal/service"
)

type emptyCache struct{}

func (emptyCache) Load(context.Context, string) (string, bool, error) { return "", false, nil }
func (emptyCache) Save(context.Context, string, string) error { return nil }
func (emptyCache) Clear(context.Context, string) error { return nil }

func TestFormatTask(t *testing.T) {
	cats := service.NewCategoryStore("me@example.com", emptyCache{}, nil, nil, logging.Discard())
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	line := formatTask(model.Task{
		ID: "12", Title: "Pay rent", Priority: 2, Deadline: "2026-10-01", Category: "health",
		SharedWith: []string{"bob@example.com"},
	}, cats, now)
	assert.Contains(t, line, "[ ]")
	assert.Contains(t, line, "!!")
	assert.Contains(t, line, "#Health")
	assert.Contains(t, line, "overdue")
	assert.Contains(t, line, "shared with bob@example.com")

	done := formatTask(model.Task{ID: "3", Title: "Done", Completed: true, Category: "custom_missing"}, cats, now)
	assert.Contains(t, done, "[x]")
	assert.Contains(t, done, "#Other")
}
