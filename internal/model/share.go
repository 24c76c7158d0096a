package model

import "time"

// Share grants one recipient access to a task. Only the task owner sees these.
type Share struct {
	SharedWithUserID string
	SharedWithEmail  string
	Permission       Permission
	SharedAt         time.Time
}

// Filter keys besides category ids.
const (
	FilterAll    = "all"
	FilterShared = "shared"
)

// SortOrder selects the primary sort key of the task view.
type SortOrder string

const (
	SortDefault      SortOrder = "default"
	SortPriorityHigh SortOrder = "priority-high"
	SortPriorityLow  SortOrder = "priority-low"
	SortDateNewest   SortOrder = "date-newest"
	SortDateOldest   SortOrder = "date-oldest"
)

// SortOrders lists every accepted sort key.
var SortOrders = []SortOrder{SortDefault, SortPriorityHigh, SortPriorityLow, SortDateNewest, SortDateOldest}
