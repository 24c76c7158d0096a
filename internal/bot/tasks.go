package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskboard/internal/model"
	"taskboard/internal/service"
)

type conversationStage int

const (
	stageTitle conversationStage = iota
	stageDescription
	stagePriority
	stageCategory
	stageDeadline
	stageRecipients
)

// conversation collects a new task or an edit step by step.
type conversation struct {
	stage  conversationStage
	taskID string // set when editing
	shared bool   // editing a shared-in task: no recipients step
	draft  model.Draft
	patch  model.Patch
}

func (c *conversation) editing() bool {
	return c.taskID != ""
}

// listener turns store events into chat updates. A full list event re-renders
// the list message with the current filter and sort; a task patch only
// refreshes the rows already on screen.
func (b *Bot) listener(chatID int64) service.Listener {
	return func(e service.Event) {
		switch e.Kind {
		case service.EventListChanged, service.EventCategoriesChanged:
			b.refreshList(chatID, false)
		case service.EventTaskPatched:
			b.refreshList(chatID, true)
		case service.EventLoadFailed:
			b.notify(chatID, "⚠️ Could not sync your tasks: "+escape(service.Reason(e.Err)))
		case service.EventCreateFailed:
			title := ""
			if e.Draft != nil {
				title = e.Draft.Title
			}
			b.notify(chatID, fmt.Sprintf("⚠️ Could not create “%s”: %s", escape(title), escape(service.Reason(e.Err))))
		case service.EventUpdateFailed:
			b.notify(chatID, updateFailedText(e.Err))
		case service.EventDeleteFailed:
			b.notify(chatID, "⚠️ Could not delete: "+escape(service.Reason(e.Err)))
		case service.EventShareResult:
			if e.Shares != nil {
				b.notify(chatID, renderShareOutcome(*e.Shares))
			}
		}
	}
}

// updateFailedText tells a rolled-back toggle apart from a general update,
// after which the store reloads from the server.
func updateFailedText(err error) string {
	text := "⚠️ Could not save the change: " + escape(service.Reason(err))
	var opErr *service.OpError
	if errors.As(err, &opErr) && opErr.Op == "toggle" {
		return text + "\nThe task was restored."
	}
	return text + "\nThe list was reloaded from the server."
}

func (b *Bot) notify(chatID int64, text string) {
	if err := b.sendText(chatID, text); err != nil {
		b.log.Error("notify chat", "chat", chatID, "error", err)
	}
}

// sendTaskList posts a fresh list message and makes it the one that store
// events keep up to date.
func (b *Bot) sendTaskList(chatID int64, s *service.Session) error {
	if s == nil {
		return nil
	}
	view := s.View()
	text, markup := renderTaskList(view, s.Categories, b.header(s), time.Now().In(b.loc))
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	sent, err := b.out.Send(msg)
	if err != nil {
		return err
	}

	c := b.chatState(chatID)
	b.mu.Lock()
	c.listMsg = sent.MessageID
	c.listView = taskIDs(view)
	b.mu.Unlock()
	return nil
}

func (b *Bot) header(s *service.Session) listHeader {
	return listHeader{Filter: s.Filter(), Sort: s.Sort(), Counts: s.Tasks.Counts()}
}

// refreshList edits the current list message in place. With patchOnly the
// rows keep their positions and only their content is redrawn.
func (b *Bot) refreshList(chatID int64, patchOnly bool) {
	b.mu.Lock()
	c, ok := b.chats[chatID]
	if !ok || c.session == nil || c.listMsg == 0 {
		b.mu.Unlock()
		return
	}
	s, msgID, onScreen := c.session, c.listMsg, append([]string(nil), c.listView...)
	b.mu.Unlock()

	var view []model.Task
	if patchOnly {
		for _, id := range onScreen {
			if t, ok := s.Tasks.Get(id); ok {
				view = append(view, t)
			}
		}
	} else {
		view = s.View()
	}

	text, markup := renderTaskList(view, s.Categories, b.header(s), time.Now().In(b.loc))
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, markup)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.out.Send(edit); err != nil && !strings.Contains(err.Error(), "message is not modified") {
		b.log.Warn("refresh task list", "chat", chatID, "error", err)
	}

	if !patchOnly {
		b.mu.Lock()
		if c.listMsg == msgID {
			c.listView = taskIDs(view)
		}
		b.mu.Unlock()
	}
}

func taskIDs(tasks []model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func (b *Bot) handleFilter(msg *tgbotapi.Message, s *service.Session) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		return b.sendWithReplyMarkup(msg.Chat.ID, "Show which tasks?", filterKeyboard(s))
	}
	if _, err := s.SetFilter(arg); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Unknown filter %q. Try all, shared or a category from /categories.", escape(arg)))
	}
	return b.sendTaskList(msg.Chat.ID, s)
}

func (b *Bot) handleSort(msg *tgbotapi.Message, s *service.Session) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, o := range model.SortOrders {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(string(o), cbSort+string(o))))
		}
		return b.sendWithReplyMarkup(msg.Chat.ID, "Sort tasks by?", tgbotapi.NewInlineKeyboardMarkup(rows...))
	}
	if _, err := s.SetSort(arg); err != nil {
		return b.sendText(msg.Chat.ID, "Unknown sort order. Use default, priority-high, priority-low, date-newest or date-oldest.")
	}
	return b.sendTaskList(msg.Chat.ID, s)
}

func filterKeyboard(s *service.Session) tgbotapi.InlineKeyboardMarkup {
	counts := s.Tasks.Counts()
	rows := [][]tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("All (%d)", counts[model.FilterAll]), cbFilter+model.FilterAll),
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Shared (%d)", counts[model.FilterShared]), cbFilter+model.FilterShared),
	)}
	for _, c := range s.Categories.List() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s (%d)", c.Name, counts[c.ID]), cbFilter+c.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) startNewTask(chatID int64, s *service.Session) error {
	b.setConversation(chatID, &conversation{stage: stageTitle})
	return b.sendWithReplyMarkup(chatID, "🆕 New task.\n<b>Step 1:</b> what is it called?", skipKeyboard())
}

func (b *Bot) handleEdit(msg *tgbotapi.Message, s *service.Session) error {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		return b.sendText(msg.Chat.ID, "Usage: /edit &lt;id&gt;")
	}
	return b.startEdit(msg.Chat.ID, s, id)
}

func (b *Bot) startEdit(chatID int64, s *service.Session, id string) error {
	task, err := s.BeginEdit(id)
	if err != nil {
		return b.sendText(chatID, taskErrorText(err))
	}
	b.setConversation(chatID, &conversation{stage: stageTitle, taskID: id, shared: task.IsShared})
	return b.sendWithReplyMarkup(chatID, fmt.Sprintf("✏️ Editing “%s”.\nSend a new title or Skip to keep it.", escape(task.Title)), skipKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message, conv *conversation) error {
	chatID := msg.Chat.ID
	s := b.session(chatID)
	if s == nil {
		b.clearConversation(chatID)
		return b.sendText(chatID, "Your session ended. Sign in again with /login.")
	}

	text := strings.TrimSpace(msg.Text)
	skip := isSkipInput(text)

	switch conv.stage {
	case stageTitle:
		if skip || text == "" {
			if !conv.editing() {
				return b.sendWithReplyMarkup(chatID, "A task needs a title.", skipKeyboard())
			}
		} else if conv.editing() {
			conv.patch.Title = &text
		} else {
			conv.draft.Title = text
		}
		conv.stage = stageDescription
		return b.sendWithReplyMarkup(chatID, "📝 Description? (or Skip)", skipKeyboard())

	case stageDescription:
		if !skip {
			if conv.editing() {
				conv.patch.Description = &text
			} else {
				conv.draft.Description = text
			}
		}
		conv.stage = stagePriority
		return b.sendWithReplyMarkup(chatID, "❗ Priority from 0 (none) to 3 (urgent)? Skip keeps the default.", skipKeyboard())

	case stagePriority:
		if !skip {
			p, err := strconv.Atoi(text)
			if err != nil || p < model.PriorityMin || p > model.PriorityMax {
				return b.sendWithReplyMarkup(chatID, "Priority must be a number from 0 to 3.", skipKeyboard())
			}
			if conv.editing() {
				conv.patch.Priority = &p
			} else {
				conv.draft.Priority = p
			}
		} else if !conv.editing() {
			conv.draft.Priority = model.PriorityDefault
		}
		conv.stage = stageCategory
		return b.sendWithReplyMarkup(chatID, "🏷 Category? Send its name or id.", categoryKeyboard(s.Categories.List()))

	case stageCategory:
		if !skip {
			id, ok := matchCategory(s.Categories.List(), text)
			if !ok {
				return b.sendWithReplyMarkup(chatID, "No such category. Pick one from the keyboard.", categoryKeyboard(s.Categories.List()))
			}
			if conv.editing() {
				conv.patch.Category = &id
			} else {
				conv.draft.Category = id
			}
		}
		conv.stage = stageDeadline
		return b.sendWithReplyMarkup(chatID, "⏰ Deadline as <code>2026-11-30</code> or <code>2026-11-30 18:00</code>? Send <code>none</code> to clear.", skipKeyboard())

	case stageDeadline:
		if !skip {
			deadline, err := parseDeadlineInput(text, b.loc)
			if err != nil {
				return b.sendWithReplyMarkup(chatID, "I cannot read that date. Use <code>2026-11-30</code> or <code>2026-11-30 18:00</code>.", skipKeyboard())
			}
			if conv.editing() {
				conv.patch.Deadline = &deadline
			} else {
				conv.draft.Deadline = deadline
			}
		}
		if conv.shared {
			return b.finishConversation(ctx, chatID, s, conv)
		}
		conv.stage = stageRecipients
		prompt := "👥 Share with whom? Emails separated by commas, or Skip."
		if conv.editing() {
			prompt = "👥 New full list of people to share with? Send <code>none</code> to stop sharing, or Skip."
		}
		return b.sendWithReplyMarkup(chatID, prompt, skipKeyboard())

	case stageRecipients:
		if !skip {
			var recipients []string
			if !strings.EqualFold(text, "none") {
				var err error
				recipients, err = service.ParseRecipients(text)
				if err != nil {
					return b.sendWithReplyMarkup(chatID, escape(err.Error())+". Try again or Skip.", skipKeyboard())
				}
			}
			if recipients == nil {
				recipients = []string{}
			}
			if conv.editing() {
				conv.patch.Recipients = recipients
			} else {
				conv.draft.Recipients = recipients
			}
		}
		return b.finishConversation(ctx, chatID, s, conv)
	}

	b.clearConversation(chatID)
	return b.sendText(chatID, "Dialog reset. Start again with /newtask.")
}

func (b *Bot) finishConversation(ctx context.Context, chatID int64, s *service.Session, conv *conversation) error {
	b.clearConversation(chatID)

	if conv.editing() {
		defer s.EndEdit()
		if conv.patch.Empty() {
			return b.sendText(chatID, "Nothing changed.")
		}
		if err := s.Tasks.Update(ctx, conv.taskID, conv.patch); err != nil {
			return b.sendText(chatID, taskErrorText(err))
		}
		if err := b.sendText(chatID, "💾 Saved."); err != nil {
			return err
		}
		return b.sendTaskList(chatID, s)
	}

	task, err := s.Tasks.Create(ctx, conv.draft)
	if err != nil {
		return b.sendText(chatID, taskErrorText(err))
	}
	b.log.Info("task drafted", "chat", chatID, "task_id", task.ID)
	if err := b.sendText(chatID, fmt.Sprintf("✅ Added “%s”.", escape(task.Title))); err != nil {
		return err
	}
	return b.sendTaskList(chatID, s)
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message, s *service.Session) error {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		return b.sendText(msg.Chat.ID, "Usage: /done &lt;id&gt;")
	}
	completed, err := s.Tasks.ToggleComplete(ctx, id)
	if err != nil {
		return b.sendText(msg.Chat.ID, taskErrorText(err))
	}
	if completed {
		return b.sendText(msg.Chat.ID, "✅ Marked as done.")
	}
	return b.sendText(msg.Chat.ID, "↩️ Marked as open.")
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message, s *service.Session) error {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		return b.sendText(msg.Chat.ID, "Usage: /delete &lt;id&gt;")
	}
	return b.askDelete(msg.Chat.ID, s, id)
}

func (b *Bot) askDelete(chatID int64, s *service.Session, id string) error {
	task, ok := s.Tasks.Get(id)
	if !ok {
		return b.sendText(chatID, taskErrorText(service.ErrTaskNotFound))
	}
	question := fmt.Sprintf("Delete “%s”?", escape(task.Title))
	if task.IsShared {
		question = fmt.Sprintf("Stop seeing “%s”? The owner keeps the task.", escape(task.Title))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Yes", cbTaskDeleteOK+id),
		tgbotapi.NewInlineKeyboardButtonData("↩️ No", cbDismiss),
	))
	return b.sendWithReplyMarkup(chatID, question, markup)
}

func (b *Bot) handleClearCompleted(ctx context.Context, msg *tgbotapi.Message, s *service.Session) error {
	result, err := s.Tasks.DeleteAllCompleted(ctx)
	switch {
	case errors.Is(err, service.ErrNothingToDelete):
		return b.sendText(msg.Chat.ID, "There are no completed tasks to delete.")
	case err != nil:
		return b.sendText(msg.Chat.ID, fmt.Sprintf("🗑 Deleted %d, failed %d. The list was reloaded.", len(result.Deleted), len(result.Failed)))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🗑 Deleted %d completed tasks.", len(result.Deleted)))
}

func (b *Bot) handleCalendar(msg *tgbotapi.Message, s *service.Session) error {
	day := time.Now().In(b.loc)
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		parsed, err := time.ParseInLocation("2006-01-02", arg, b.loc)
		if err != nil {
			return b.sendText(msg.Chat.ID, "Usage: /calendar [YYYY-MM-DD]")
		}
		day = parsed
	}

	due := service.DueOn(s.Tasks.Snapshot(), day, b.loc)
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📅 <b>%s</b>\n", day.Format("Monday, 02 Jan 2006")))
	if len(due) == 0 {
		sb.WriteString("Nothing due.")
	}
	now := time.Now().In(b.loc)
	for _, t := range due {
		sb.WriteString(renderTaskLine(t, s.Categories, now))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(sb.String()))
}

func (b *Bot) handleSync(ctx context.Context, msg *tgbotapi.Message, s *service.Session) error {
	if err := s.Tasks.Load(ctx); err != nil {
		return b.sendText(msg.Chat.ID, "⚠️ Could not sync: "+escape(service.Reason(err)))
	}
	return b.sendTaskList(msg.Chat.ID, s)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	chatID := cb.Message.Chat.ID
	data := cb.Data

	switch data {
	case cbDismiss, cbAccountKeep:
		b.ack(cb, "")
		return nil
	case cbAccountDelete:
		b.ack(cb, "")
		return b.confirmDeleteAccount(ctx, cb)
	}

	s := b.session(chatID)
	if s == nil {
		b.ack(cb, "Sign in first")
		return nil
	}

	switch {
	case strings.HasPrefix(data, cbTaskDone):
		completed, err := s.Tasks.ToggleComplete(ctx, strings.TrimPrefix(data, cbTaskDone))
		if err != nil {
			b.ack(cb, taskErrorPlain(err))
			return nil
		}
		if completed {
			b.ack(cb, "Done")
		} else {
			b.ack(cb, "Reopened")
		}
		return nil
	case strings.HasPrefix(data, cbTaskEdit):
		b.ack(cb, "")
		return b.startEdit(chatID, s, strings.TrimPrefix(data, cbTaskEdit))
	case strings.HasPrefix(data, cbTaskDeleteOK):
		if err := s.Tasks.Remove(ctx, strings.TrimPrefix(data, cbTaskDeleteOK)); err != nil {
			b.ack(cb, taskErrorPlain(err))
			return nil
		}
		b.ack(cb, "Deleted")
		return nil
	case strings.HasPrefix(data, cbTaskDelete):
		b.ack(cb, "")
		return b.askDelete(chatID, s, strings.TrimPrefix(data, cbTaskDelete))
	case strings.HasPrefix(data, cbFilter):
		b.ack(cb, "")
		if _, err := s.SetFilter(strings.TrimPrefix(data, cbFilter)); err != nil {
			return b.sendText(chatID, "That category no longer exists.")
		}
		return b.sendTaskList(chatID, s)
	case strings.HasPrefix(data, cbSort):
		b.ack(cb, "")
		if _, err := s.SetSort(strings.TrimPrefix(data, cbSort)); err != nil {
			return nil
		}
		return b.sendTaskList(chatID, s)
	case strings.HasPrefix(data, cbSharePerm), strings.HasPrefix(data, cbShareRemove):
		return b.handleShareCallback(ctx, cb, s)
	default:
		b.ack(cb, "")
		return nil
	}
}

func taskErrorText(err error) string {
	return escape(taskErrorPlain(err))
}

func taskErrorPlain(err error) string {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		return "Task not found. Refresh with /tasks."
	case errors.Is(err, service.ErrTaskPending):
		return "The task is still being saved. Try again in a moment."
	case errors.Is(err, service.ErrReadOnly):
		return "This task was shared with you read-only."
	case errors.Is(err, service.ErrEmptyTitle):
		return "A task needs a title."
	case errors.Is(err, service.ErrEmptyPatch):
		return "Nothing changed."
	case errors.Is(err, service.ErrDeleteFailed):
		return "Could not delete: " + service.Reason(err)
	default:
		return service.Reason(err)
	}
}

func categoryKeyboard(cats []model.Category) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	var row []tgbotapi.KeyboardButton
	for _, c := range cats {
		row = append(row, tgbotapi.NewKeyboardButton(c.Name))
		if len(row) == 3 {
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(row...))
	}
	rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnSkip), tgbotapi.NewKeyboardButton(btnCancelDialog)))
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// matchCategory accepts a category id or a case-insensitive name.
func matchCategory(cats []model.Category, input string) (string, bool) {
	input = strings.TrimSpace(input)
	for _, c := range cats {
		if c.ID == input {
			return c.ID, true
		}
	}
	for _, c := range cats {
		if strings.EqualFold(strings.TrimSpace(c.Name), input) {
			return c.ID, true
		}
	}
	return "", false
}

// parseDeadlineInput normalizes user input to the stored deadline shape.
// "none" clears the deadline.
func parseDeadlineInput(text string, loc *time.Location) (string, error) {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "none") {
		return "", nil
	}
	parsed, ok := model.ParseDeadline(text, loc)
	if !ok {
		return "", fmt.Errorf("invalid deadline %q", text)
	}
	if len(text) == len("2006-01-02") {
		return parsed.Format("2006-01-02"), nil
	}
	return parsed.Format("2006-01-02T15:04"), nil
}
