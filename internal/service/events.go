package service

import "taskboard/internal/model"

// EventKind tells a listener what changed.
type EventKind int

const (
	// EventListChanged asks for a full re-render of the task list.
	EventListChanged EventKind = iota
	// EventTaskPatched affects one task only; a targeted view patch is enough.
	EventTaskPatched
	EventCategoriesChanged
	EventLoadFailed
	EventCreateFailed
	EventUpdateFailed
	EventDeleteFailed
	// EventShareResult reports a fan-out that had at least one failed recipient.
	EventShareResult
)

func (k EventKind) String() string {
	switch k {
	case EventListChanged:
		return "list_changed"
	case EventTaskPatched:
		return "task_patched"
	case EventCategoriesChanged:
		return "categories_changed"
	case EventLoadFailed:
		return "load_failed"
	case EventCreateFailed:
		return "create_failed"
	case EventUpdateFailed:
		return "update_failed"
	case EventDeleteFailed:
		return "delete_failed"
	case EventShareResult:
		return "share_result"
	default:
		return "unknown"
	}
}

// Event is delivered to a Listener after the state change it describes.
type Event struct {
	Kind   EventKind
	TaskID string
	Err    error

	// Draft is set on EventCreateFailed so the caller can offer a retry.
	Draft *model.Draft
	// Shares is set on EventShareResult.
	Shares *ShareOutcome
}

// Listener receives store events. It is never called with a store lock held.
type Listener func(Event)

func nopListener(Event) {}
