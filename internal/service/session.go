package service

import (
	"context"
	"log/slog"
	"sync"

	"taskboard/internal/model"
)

// SessionDeps are the collaborators of one signed-in session.
type SessionDeps struct {
	UserID  string
	Email   string
	Tasks   TaskAPI
	Shares  ShareAPI
	Cache   CategoryCache
	Attrs   AttributeStore
	Workers int
	Logger  *slog.Logger
}

// Session is the application state of one signed-in user: the stores plus
// the current filter, sort order and edited task.
type Session struct {
	UserID     string
	Email      string
	Tasks      *TaskStore
	Categories *CategoryStore
	Sharing    *SharingController

	mu      sync.Mutex
	filter  string
	order   model.SortOrder
	editing string
}

func NewSession(deps SessionDeps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user", deps.Email)
	sharing := NewSharingController(deps.Shares, logger, deps.Workers)
	tasks := NewTaskStore(deps.Tasks, sharing, deps.UserID, logger)
	return &Session{
		UserID:     deps.UserID,
		Email:      deps.Email,
		Tasks:      tasks,
		Categories: NewCategoryStore(deps.Email, deps.Cache, deps.Attrs, tasks, logger),
		Sharing:    sharing,
		filter:     model.FilterAll,
		order:      model.SortDefault,
	}
}

// Start loads categories and tasks. A category cache failure is logged by
// the store and does not stop the task load.
func (s *Session) Start(ctx context.Context) error {
	_ = s.Categories.Load(ctx)
	return s.Tasks.Load(ctx)
}

// SetListener routes events of both stores to l.
func (s *Session) SetListener(l Listener) {
	s.Tasks.SetListener(l)
	s.Categories.SetListener(l)
}

func (s *Session) SetFilter(raw string) (string, error) {
	filter, err := ParseFilter(raw, s.Categories.Known)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.filter = filter
	s.mu.Unlock()
	return filter, nil
}

func (s *Session) SetSort(raw string) (model.SortOrder, error) {
	order, err := ParseSort(raw)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.order = order
	s.mu.Unlock()
	return order, nil
}

func (s *Session) Filter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

func (s *Session) Sort() model.SortOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order
}

// BeginEdit marks id as the task being edited.
func (s *Session) BeginEdit(id string) (model.Task, error) {
	t, ok := s.Tasks.Get(id)
	if !ok {
		return model.Task{}, ErrTaskNotFound
	}
	if t.Pending() {
		return model.Task{}, ErrTaskPending
	}
	if !t.Editable() {
		return model.Task{}, ErrReadOnly
	}
	s.mu.Lock()
	s.editing = id
	s.mu.Unlock()
	return t, nil
}

func (s *Session) Editing() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing
}

func (s *Session) EndEdit() {
	s.mu.Lock()
	s.editing = ""
	s.mu.Unlock()
}

// View returns the tasks for the current filter and sort order. If the
// filtered category was deleted in the meantime the filter falls back to all.
func (s *Session) View() []model.Task {
	s.mu.Lock()
	filter, order := s.filter, s.order
	if filter != model.FilterAll && filter != model.FilterShared && !s.Categories.Known(filter) {
		filter = model.FilterAll
		s.filter = filter
	}
	s.mu.Unlock()
	return ArrangeKnown(s.Tasks.Snapshot(), filter, order, s.Categories.Known)
}

// Close waits for background work of both stores.
func (s *Session) Close() {
	s.Tasks.Wait()
	s.Categories.Wait()
}
