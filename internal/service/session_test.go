package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/api"
	"taskboard/internal/logging"
	"taskboard/internal/model"
)

func TestSessionViewFollowsFilterAndSort(t *testing.T) {
	fake := newFakeAPI()
	fake.own = []api.TaskRecord{
		{TaskID: "1", Title: "low", Priority: priority(1), Category: "work"},
		{TaskID: "2", Title: "high", Priority: priority(3), Category: "work"},
		{TaskID: "3", Title: "garden", Priority: priority(2), Category: "custom_1"},
	}
	cache := newMemCache()
	cache.entries["ada@example.com"] = `{"custom_1":{"name":"Garden","color":"green"}}`

	s := NewSession(SessionDeps{
		UserID: "user-ada",
		Email:  "ada@example.com",
		Tasks:  fake,
		Shares: fake,
		Cache:  cache,
		Logger: logging.Discard(),
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	_, err := s.SetFilter("work")
	require.NoError(t, err)
	_, err = s.SetSort("priority-high")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, ids(s.View()))

	_, err = s.SetFilter("custom_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, ids(s.View()))

	_, err = s.Categories.Delete(context.Background(), "custom_1")
	require.NoError(t, err)
	s.Tasks.Wait()
	assert.Len(t, s.View(), 3, "a deleted filter category falls back to all")
	assert.Equal(t, model.FilterAll, s.Filter())

	_, err = s.SetSort("sideways")
	assert.ErrorIs(t, err, ErrUnknownSort)
	assert.Equal(t, model.SortPriorityHigh, s.Sort())
}

func TestSessionEditing(t *testing.T) {
	fake := newFakeAPI()
	fake.own = []api.TaskRecord{{TaskID: "1", Title: "mine"}}
	fake.shared = []api.TaskRecord{{TaskID: "7", Title: "theirs", SharedPermission: "read"}}
	s := NewSession(SessionDeps{UserID: "u", Email: "u@example.com", Tasks: fake, Shares: fake, Cache: newMemCache()})
	require.NoError(t, s.Start(context.Background()))

	task, err := s.BeginEdit("1")
	require.NoError(t, err)
	assert.Equal(t, "mine", task.Title)
	assert.Equal(t, "1", s.Editing())
	s.EndEdit()
	assert.Empty(t, s.Editing())

	_, err = s.BeginEdit("7")
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = s.BeginEdit("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

type staticCategories map[string]model.Category

func (c staticCategories) Resolve(id string) model.Category {
	if cat, ok := c[id]; ok {
		return cat
	}
	return c[model.CategoryOther]
}

func TestDigest(t *testing.T) {
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	tasks := []model.Task{
		{ID: "1", Title: "Later", Priority: 1, Category: "work"},
		{ID: "2", Title: "Due <soon>", Priority: 3, Deadline: "2026-10-15T17:00", Category: "work"},
		{ID: "3", Title: "Late", Deadline: "2026-10-10", Category: "health"},
		{ID: "4", Title: "Done", Completed: true, Deadline: "2026-10-15"},
		{ID: "5", Title: "Theirs", IsShared: true, OwnerEmail: "bob@example.com"},
	}

	out := Digest(tasks, staticCategories(model.Builtins()), now)

	assert.Contains(t, out, "Daily digest")
	assert.Contains(t, out, "Due today: 1")
	assert.Contains(t, out, "Due &lt;soon&gt;")
	assert.Contains(t, out, "❗❗❗ Due")
	assert.Contains(t, out, "<b>overdue</b>")
	assert.Contains(t, out, "👥 bob@example.com")
	assert.NotContains(t, out, "Done")

	late := strings.Index(out, "Late")
	soon := strings.Index(out, "Due &lt;soon&gt;")
	later := strings.Index(out, "Later")
	assert.True(t, late < soon && soon < later, "deadlines first, earliest first")

	empty := Digest(nil, nil, now)
	assert.Contains(t, empty, "nothing open")
}

func TestDailySpec(t *testing.T) {
	spec, err := dailySpec("08:30")
	require.NoError(t, err)
	assert.Equal(t, "0 30 8 * * *", spec)

	for _, bad := range []string{"8", "24:00", "12:60", "aa:bb"} {
		_, err := dailySpec(bad)
		assert.Error(t, err, bad)
	}

	s := NewScheduler(time.UTC)
	_, err = s.ScheduleInterval(500*time.Millisecond, func() {})
	assert.ErrorIs(t, err, errBadInterval)
	id, err := s.ScheduleInterval(15*time.Minute, func() {})
	require.NoError(t, err)
	s.Cancel(id)
}
