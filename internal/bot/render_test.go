package bot

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/api"
	"taskboard/internal/model"
	"taskboard/internal/service"
)

type builtinLookup map[string]model.Category

func (l builtinLookup) Resolve(id string) model.Category {
	if c, ok := l[id]; ok {
		return c
	}
	return l[model.CategoryOther]
}

func (l builtinLookup) Known(id string) bool {
	_, ok := l[id]
	return ok
}

func TestRenderTaskListEmpty(t *testing.T) {
	text, markup := renderTaskList(nil, builtinLookup(model.Builtins()), listHeader{Filter: model.FilterShared, Sort: model.SortDefault}, time.Now())

	assert.Contains(t, text, "Nothing here yet")
	assert.Contains(t, text, "shared")
	require.Len(t, markup.InlineKeyboard, 1, "only the filter row")
}

func TestRenderTaskLine(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	cats := builtinLookup(model.Builtins())

	line := renderTaskLine(model.Task{
		ID: "12", Title: "pay <rent>", Priority: 3, Deadline: "2026-10-01", Category: "custom_gone",
	}, cats, now)
	assert.Contains(t, line, "❗❗❗ Pay &lt;rent&gt;")
	assert.Contains(t, line, "Other", "unknown categories render as other")
	assert.Contains(t, line, "<code>#12</code>")
	assert.Contains(t, line, "overdue")

	pending := renderTaskLine(model.Task{ID: model.TempIDPrefix + "x", Title: "new"}, cats, now)
	assert.Contains(t, pending, "saving…")
	assert.NotContains(t, pending, "#temp_")

	shared := renderTaskLine(model.Task{
		ID: "7", Title: "theirs", IsShared: true, OwnerEmail: "bob@example.com", Permission: model.PermissionRead,
	}, cats, now)
	assert.Contains(t, shared, "from bob@example.com (read only)")
}

func TestTaskButtons(t *testing.T) {
	own := taskButtons(model.Task{ID: "1", Title: "mine"})
	require.Len(t, own, 3)
	require.NotNil(t, own[0].CallbackData)
	assert.Equal(t, cbTaskDone+"1", *own[0].CallbackData)

	readOnly := taskButtons(model.Task{ID: "7", IsShared: true, Permission: model.PermissionRead})
	require.Len(t, readOnly, 1)
	assert.Equal(t, cbTaskDelete+"7", *readOnly[0].CallbackData)

	assert.Empty(t, taskButtons(model.Task{ID: model.TempIDPrefix + "x"}))
}

func TestRenderSharesUsesIndexes(t *testing.T) {
	text, markup := renderShares("report", []model.Share{
		{SharedWithUserID: "u-1", SharedWithEmail: "a@example.com", Permission: model.PermissionRead},
		{SharedWithUserID: "u-2", SharedWithEmail: "b@example.com", Permission: model.PermissionEdit},
	})
	assert.Contains(t, text, "a@example.com · read only")
	assert.Contains(t, text, "b@example.com · can edit")
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, cbSharePerm+"1", *markup.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, cbShareRemove+"1", *markup.InlineKeyboard[1][1].CallbackData)

	text, markup = renderShares("report", nil)
	assert.Contains(t, text, "Not shared with anyone")
	assert.Empty(t, markup.InlineKeyboard)
}

func TestRenderShareOutcome(t *testing.T) {
	out := renderShareOutcome(service.ShareOutcome{
		Succeeded: []string{"a@example.com"},
		Failed: []service.RecipientFailure{
			{Email: "ghost@example.com", Err: &api.StatusError{Op: "share task", Code: 404, Kind: api.ErrRecipientNotFound}},
			{Email: "c@example.com", Err: errors.New("timeout")},
		},
	})
	assert.Contains(t, out, "Shared with a@example.com")
	assert.Contains(t, out, "Not registered: ghost@example.com")
	assert.Contains(t, out, "c@example.com: timeout")
	assert.NotContains(t, out, "ghost@example.com: ")
}

func TestShortTitle(t *testing.T) {
	assert.Equal(t, "Short", shortTitle("short", 10))
	assert.Equal(t, "Abcd…", shortTitle("abcdefgh", 5))
}
