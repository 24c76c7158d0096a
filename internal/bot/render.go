package bot

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskboard/internal/model"
	"taskboard/internal/service"
)

const (
	cbTaskDone     = "t:done:"
	cbTaskEdit     = "t:edit:"
	cbTaskDelete   = "t:del:"
	cbTaskDeleteOK = "t:delok:"
	cbFilter       = "f:"
	cbSort         = "o:"
	cbSharePerm    = "s:perm:"
	cbShareRemove  = "s:rm:"
	cbDismiss      = "x"
)

// categoryLookup resolves category ids to display data.
type categoryLookup interface {
	Resolve(id string) model.Category
	Known(id string) bool
}

// listHeader describes the view a task list was rendered for.
type listHeader struct {
	Filter string
	Sort   model.SortOrder
	Counts map[string]int
}

func renderTaskList(tasks []model.Task, cats categoryLookup, head listHeader, now time.Time) (string, tgbotapi.InlineKeyboardMarkup) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 <b>Tasks</b> · %s · sort: %s\n\n", filterLabel(head.Filter, cats), escape(string(head.Sort))))

	var rows [][]tgbotapi.InlineKeyboardButton
	if len(tasks) == 0 {
		sb.WriteString("Nothing here yet. Add a task with /newtask.")
	}
	for _, t := range tasks {
		sb.WriteString(renderTaskLine(t, cats, now))
		if row := taskButtons(t); len(row) > 0 {
			rows = append(rows, row)
		}
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("All (%d)", head.Counts[model.FilterAll]), cbFilter+model.FilterAll),
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Shared (%d)", head.Counts[model.FilterShared]), cbFilter+model.FilterShared),
	))
	return strings.TrimSpace(sb.String()), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func filterLabel(filter string, cats categoryLookup) string {
	switch filter {
	case "", model.FilterAll:
		return "all"
	case model.FilterShared:
		return "shared"
	}
	return categoryLabel(cats.Resolve(filter))
}

func renderTaskLine(t model.Task, cats categoryLookup, now time.Time) string {
	var sb strings.Builder

	box := "⬜"
	if t.Completed {
		box = "☑️"
	}
	title := escape(normalizeTitle(t.Title))
	if t.Completed {
		title = "<s>" + title + "</s>"
	}
	sb.WriteString(fmt.Sprintf("%s %s%s", box, service.PriorityMarks(t.Priority), title))

	category := t.CategoryOrDefault()
	if !cats.Known(category) {
		category = model.CategoryOther
	}
	sb.WriteString(" · " + categoryLabel(cats.Resolve(category)))
	if t.Pending() {
		sb.WriteString(" · <i>saving…</i>")
	} else {
		sb.WriteString(fmt.Sprintf(" <code>#%s</code>", escape(t.ID)))
	}
	sb.WriteByte('\n')

	if due, ok := t.DeadlineTime(now.Location()); ok {
		layout := "2006-01-02 15:04"
		if len(strings.TrimSpace(t.Deadline)) == len("2006-01-02") {
			layout = "2006-01-02"
		}
		if !t.Completed && now.After(due) {
			sb.WriteString(fmt.Sprintf("   ⏰ <b>%s · overdue</b>\n", due.Format(layout)))
		} else {
			sb.WriteString(fmt.Sprintf("   ⏰ %s\n", due.Format(layout)))
		}
	}

	switch {
	case t.IsShared && t.OwnerEmail != "":
		access := "read only"
		if t.Permission == model.PermissionEdit {
			access = "can edit"
		}
		sb.WriteString(fmt.Sprintf("   👥 from %s (%s)\n", escape(t.OwnerEmail), access))
	case len(t.SharedWith) > 0:
		sb.WriteString(fmt.Sprintf("   👥 shared with %s\n", escape(strings.Join(t.SharedWith, ", "))))
	}

	if t.Description != "" {
		sb.WriteString(fmt.Sprintf("   📝 %s\n", escape(t.Description)))
	}
	return sb.String()
}

func taskButtons(t model.Task) []tgbotapi.InlineKeyboardButton {
	if t.Pending() {
		return nil
	}
	var row []tgbotapi.InlineKeyboardButton
	if t.Editable() {
		label := "✅ " + shortTitle(t.Title, 18)
		if t.Completed {
			label = "↩️ " + shortTitle(t.Title, 18)
		}
		row = append(row,
			tgbotapi.NewInlineKeyboardButtonData(label, cbTaskDone+t.ID),
			tgbotapi.NewInlineKeyboardButtonData("✏️", cbTaskEdit+t.ID),
		)
	}
	if t.IsShared {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("🚪 Leave", cbTaskDelete+t.ID))
	} else {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("🗑", cbTaskDelete+t.ID))
	}
	return row
}

func renderCategories(cats []model.Category, counts map[string]int) string {
	var sb strings.Builder
	sb.WriteString("📂 <b>Categories</b>\n")
	for _, c := range cats {
		sb.WriteString(fmt.Sprintf("• %s (%d)", categoryLabel(c), counts[c.ID]))
		if model.IsCustomCategory(c.ID) {
			sb.WriteString(fmt.Sprintf(" <code>%s</code>", escape(c.ID)))
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(fmt.Sprintf("\nColors: %s", strings.Join(model.Colors, ", ")))
	return sb.String()
}

func renderShares(title string, shares []model.Share) (string, tgbotapi.InlineKeyboardMarkup) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("👥 <b>Sharing</b> · %s\n", escape(normalizeTitle(title))))
	var rows [][]tgbotapi.InlineKeyboardButton
	if len(shares) == 0 {
		sb.WriteString("Not shared with anyone yet.")
	}
	for i, s := range shares {
		sb.WriteString(fmt.Sprintf("• %s · %s", escape(s.SharedWithEmail), permissionLabel(s.Permission)))
		if !s.SharedAt.IsZero() {
			sb.WriteString(" · since " + s.SharedAt.Format("2006-01-02"))
		}
		sb.WriteByte('\n')
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔁 "+shortTitle(s.SharedWithEmail, 20), fmt.Sprintf("%s%d", cbSharePerm, i)),
			tgbotapi.NewInlineKeyboardButtonData("✖️", fmt.Sprintf("%s%d", cbShareRemove, i)),
		))
	}
	if len(rows) == 0 {
		return strings.TrimSpace(sb.String()), tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	}
	return strings.TrimSpace(sb.String()), tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func renderShareOutcome(o service.ShareOutcome) string {
	var sb strings.Builder
	if len(o.Succeeded) > 0 {
		sb.WriteString(fmt.Sprintf("✅ Shared with %s\n", escape(strings.Join(o.Succeeded, ", "))))
	}
	if missing := o.NotFound(); len(missing) > 0 {
		sb.WriteString(fmt.Sprintf("⚠️ Not registered: %s\n", escape(strings.Join(missing, ", "))))
	}
	for _, f := range o.Failed {
		if contains(o.NotFound(), f.Email) {
			continue
		}
		sb.WriteString(fmt.Sprintf("⚠️ %s: %s\n", escape(f.Email), escape(service.Reason(f.Err))))
	}
	return strings.TrimSpace(sb.String())
}

func permissionLabel(p model.Permission) string {
	if p == model.PermissionEdit {
		return "can edit"
	}
	return "read only"
}

func categoryLabel(c model.Category) string {
	icon := "🏷️"
	switch c.ID {
	case model.CategoryWork:
		icon = "💼"
	case model.CategoryPersonal:
		icon = "🧩"
	case model.CategoryStudy:
		icon = "🎓"
	case model.CategoryHealth:
		icon = "🩺"
	case model.CategoryOther:
		icon = "📁"
	}
	return fmt.Sprintf("%s %s", icon, escape(strings.TrimSpace(c.Name)))
}

func shortTitle(title string, maxLen int) string {
	clean := normalizeTitle(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func escape(s string) string {
	return html.EscapeString(s)
}
