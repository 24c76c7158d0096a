package service

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"taskboard/internal/model"
)

// CategoryResolver maps a category id to its display metadata.
type CategoryResolver interface {
	Resolve(id string) model.Category
}

// Digest renders the daily summary of open tasks as Telegram HTML.
// Tasks with a deadline come first, earliest first; the rest follow by
// priority.
func Digest(tasks []model.Task, categories CategoryResolver, now time.Time) string {
	loc := now.Location()

	type entry struct {
		task   model.Task
		due    time.Time
		hasDue bool
	}
	var open []entry
	for _, t := range tasks {
		if t.Completed {
			continue
		}
		due, ok := t.DeadlineTime(loc)
		open = append(open, entry{task: t, due: due, hasDue: ok})
	}

	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i], open[j]
		switch {
		case a.hasDue && b.hasDue:
			return a.due.Before(b.due)
		case a.hasDue != b.hasDue:
			return a.hasDue
		default:
			return a.task.Priority > b.task.Priority
		}
	})

	var sb strings.Builder
	sb.WriteString("📋 <b>Daily digest</b>\n")
	sb.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("Mon, 02 Jan 2006")))

	dueToday := DueOn(tasks, now, loc)
	sb.WriteString(fmt.Sprintf("📅 Due today: %d\n\n", countOpen(dueToday)))

	sb.WriteString("🔥 <b>Open tasks</b>\n")
	if len(open) == 0 {
		sb.WriteString("— nothing open, enjoy the day\n")
		return strings.TrimSpace(sb.String())
	}
	for _, e := range open {
		sb.WriteString(digestLine(e.task, e.due, e.hasDue, categories, now))
	}
	return strings.TrimSpace(sb.String())
}

func countOpen(tasks []model.Task) int {
	n := 0
	for _, t := range tasks {
		if !t.Completed {
			n++
		}
	}
	return n
}

func digestLine(t model.Task, due time.Time, hasDue bool, categories CategoryResolver, now time.Time) string {
	var sb strings.Builder

	icon := "🟢"
	if hasDue {
		switch {
		case now.After(due):
			icon = "⚠️"
		case due.Sub(now) <= 48*time.Hour:
			icon = "⏳"
		}
	}
	sb.WriteString(fmt.Sprintf("%s %s%s", icon, PriorityMarks(t.Priority), html.EscapeString(t.Title)))

	if categories != nil {
		if name := strings.TrimSpace(categories.Resolve(t.CategoryOrDefault()).Name); name != "" {
			sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(name)))
		}
	}
	if t.IsShared && t.OwnerEmail != "" {
		sb.WriteString(fmt.Sprintf(" 👥 %s", html.EscapeString(t.OwnerEmail)))
	}

	if hasDue {
		if now.After(due) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ %s · <b>overdue</b>", due.Format("2006-01-02")))
		} else {
			daysLeft := int(due.Sub(now).Hours()/24) + 1
			sb.WriteString(fmt.Sprintf("\n   ⏰ %s · ≈%d days left", due.Format("2006-01-02"), daysLeft))
		}
	}
	if t.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(t.Description)))
	}
	sb.WriteByte('\n')
	return sb.String()
}

// PriorityMarks renders the priority as repeated exclamation marks, empty
// for priority 0.
func PriorityMarks(p int) string {
	if p <= 0 {
		return ""
	}
	return strings.Repeat("❗", p) + " "
}
