package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/api"
	"taskboard/internal/model"
)

func TestCategoryCommands(t *testing.T) {
	backend := newFakeBackend()
	b, out, s := newSignedInBot(t, backend)
	ctx := context.Background()

	require.NoError(t, b.handleMessage(ctx, textMessage("/newcategory neon Garden")))
	assert.True(t, out.anyText("Unknown color"))

	require.NoError(t, b.handleMessage(ctx, textMessage("/newcategory Green Home garden")))
	var garden model.Category
	for _, c := range s.Categories.List() {
		if c.Name == "Home garden" {
			garden = c
		}
	}
	require.True(t, model.IsCustomCategory(garden.ID))
	assert.Equal(t, "green", garden.Color)

	backend.own = []api.TaskRecord{{TaskID: "1", Title: "weed", Category: garden.ID}}
	require.NoError(t, s.Tasks.Load(ctx))

	require.NoError(t, b.handleMessage(ctx, textMessage("/delcategory work")))
	assert.True(t, out.anyText("Built-in categories cannot be deleted"))

	require.NoError(t, b.handleMessage(ctx, textMessage("/delcategory home garden")))
	s.Tasks.Wait()
	assert.False(t, s.Categories.Known(garden.ID))
	task, ok := s.Tasks.Get("1")
	require.True(t, ok)
	assert.Equal(t, model.DefaultCategory, task.Category)
	assert.True(t, out.anyText("1 tasks moved to"))
}
