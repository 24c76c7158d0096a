package service

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"taskboard/internal/model"
)

// Arrange filters and orders tasks for display. It returns a new slice and
// never reorders its input. Open tasks always come before completed ones;
// within each group the primary sort is stable.
func Arrange(tasks []model.Task, filter string, order model.SortOrder) []model.Task {
	return ArrangeKnown(tasks, filter, order, nil)
}

// ArrangeKnown is Arrange with a category lookup: tasks whose category is
// not in known are filtered as "other". A nil known only normalizes absent
// categories.
func ArrangeKnown(tasks []model.Task, filter string, order model.SortOrder, known func(id string) bool) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if matches(t, filter, known) {
			out = append(out, t.Clone())
		}
	}

	switch order {
	case model.SortPriorityHigh:
		slices.SortStableFunc(out, func(a, b model.Task) int { return cmp.Compare(b.Priority, a.Priority) })
	case model.SortPriorityLow:
		slices.SortStableFunc(out, func(a, b model.Task) int { return cmp.Compare(a.Priority, b.Priority) })
	case model.SortDateNewest:
		slices.SortStableFunc(out, func(a, b model.Task) int { return compareIDs(b.ID, a.ID) })
	case model.SortDateOldest:
		slices.SortStableFunc(out, func(a, b model.Task) int { return compareIDs(a.ID, b.ID) })
	}

	slices.SortStableFunc(out, func(a, b model.Task) int {
		switch {
		case a.Completed == b.Completed:
			return 0
		case a.Completed:
			return 1
		default:
			return -1
		}
	})
	return out
}

func matches(t model.Task, filter string, known func(string) bool) bool {
	switch filter {
	case "", model.FilterAll:
		return true
	case model.FilterShared:
		return t.InShareView()
	}
	category := t.CategoryOrDefault()
	if known != nil && !known(category) {
		category = model.CategoryOther
	}
	return category == filter
}

// compareIDs orders ids numerically when both are integers and lexically
// otherwise. Ids stand in for creation order.
func compareIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return cmp.Compare(na, nb)
	}
	return strings.Compare(a, b)
}

// DueOn returns the tasks whose deadline falls on day in loc, in input order.
func DueOn(tasks []model.Task, day time.Time, loc *time.Location) []model.Task {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := day.In(loc).Date()
	var out []model.Task
	for _, t := range tasks {
		due, ok := t.DeadlineTime(loc)
		if !ok {
			continue
		}
		if dy, dm, dd := due.In(loc).Date(); dy == y && dm == m && dd == d {
			out = append(out, t.Clone())
		}
	}
	return out
}

// ParseFilter accepts "all", "shared" or a known category id.
func ParseFilter(raw string, known func(id string) bool) (string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch {
	case raw == "" || raw == model.FilterAll:
		return model.FilterAll, nil
	case raw == model.FilterShared:
		return raw, nil
	case known != nil && known(raw):
		return raw, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFilter, raw)
}

// ParseSort accepts one of model.SortOrders.
func ParseSort(raw string) (model.SortOrder, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return model.SortDefault, nil
	}
	for _, o := range model.SortOrders {
		if string(o) == raw {
			return o, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownSort, raw)
}
