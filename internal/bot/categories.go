package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskboard/internal/model"
	"taskboard/internal/service"
)

func (b *Bot) handleCategories(msg *tgbotapi.Message, s *service.Session) error {
	return b.sendWithReplyMarkup(msg.Chat.ID, renderCategories(s.Categories.List(), s.Tasks.Counts()), filterKeyboard(s))
}

// handleNewCategory expects "<color> <name>".
func (b *Bot) handleNewCategory(ctx context.Context, msg *tgbotapi.Message, s *service.Session) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Usage: /newcategory &lt;color&gt; &lt;name&gt;\nColors: %s", strings.Join(model.Colors, ", ")))
	}
	color, name := args[0], strings.Join(args[1:], " ")

	cat, err := s.Categories.Create(ctx, name, color)
	switch {
	case errors.Is(err, service.ErrInvalidColor):
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Unknown color %q. Pick one of: %s", escape(color), strings.Join(model.Colors, ", ")))
	case errors.Is(err, service.ErrEmptyCategoryName):
		return b.sendText(msg.Chat.ID, "A category needs a name.")
	case err != nil:
		b.log.Error("create category", "chat", msg.Chat.ID, "error", err)
		return b.sendText(msg.Chat.ID, "⚠️ Could not save the category: "+escape(err.Error()))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🏷️ Created %s <code>%s</code>.", categoryLabel(cat), escape(cat.ID)))
}

// handleDeleteCategory accepts a custom category id or name. Its tasks move to
// the default category.
func (b *Bot) handleDeleteCategory(ctx context.Context, msg *tgbotapi.Message, s *service.Session) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		return b.sendText(msg.Chat.ID, "Usage: /delcategory &lt;id or name&gt;")
	}
	id, ok := matchCategory(s.Categories.List(), arg)
	if !ok {
		id = arg
	}

	moved, err := s.Categories.Delete(ctx, id)
	switch {
	case errors.Is(err, service.ErrProtectedCategory):
		return b.sendText(msg.Chat.ID, "Built-in categories cannot be deleted.")
	case errors.Is(err, service.ErrCategoryNotFound):
		return b.sendText(msg.Chat.ID, "No such category. See /categories.")
	case err != nil:
		b.log.Error("delete category", "chat", msg.Chat.ID, "category", id, "error", err)
		return b.sendText(msg.Chat.ID, "⚠️ Could not delete the category: "+escape(err.Error()))
	}

	text := "🗑 Category deleted."
	if moved > 0 {
		text = fmt.Sprintf("🗑 Category deleted. %d tasks moved to %s.", moved, categoryLabel(s.Categories.Resolve(model.DefaultCategory)))
	}
	return b.sendText(msg.Chat.ID, text)
}
