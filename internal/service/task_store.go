package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"taskboard/internal/api"
	"taskboard/internal/model"
)

// TaskAPI is the task half of the REST collaborator.
type TaskAPI interface {
	ListTasks(ctx context.Context) (api.TaskList, error)
	CreateTask(ctx context.Context, task api.NewTask) (api.TaskRecord, error)
	UpdateTask(ctx context.Context, id string, update api.TaskUpdate) (api.TaskRecord, error)
	DeleteTask(ctx context.Context, id string) error
	RemoveShare(ctx context.Context, taskID, userID string) error
}

// TaskFailure is one task a bulk operation could not process.
type TaskFailure struct {
	TaskID string
	Title  string
	Err    error
}

// BulkResult reports per-item outcomes of DeleteAllCompleted.
type BulkResult struct {
	Deleted []string
	Failed  []TaskFailure
}

// TaskStore is the ordered in-memory collection of own and shared-in tasks.
//
// Mutations are applied locally and synchronously, then confirmed against
// the API in the background. Background handlers look records up by id when
// they resolve, because the collection may have changed in the meantime. A
// second mutation of the same id before the first one resolves may race.
type TaskStore struct {
	api     TaskAPI
	sharing *SharingController
	userID  string
	log     *slog.Logger
	newID   func() string

	listenerMu sync.RWMutex
	listener   Listener

	mu     sync.Mutex
	tasks  []model.Task
	loaded bool

	inflight sync.WaitGroup
}

// StoreOption customizes a TaskStore.
type StoreOption func(*TaskStore)

// WithListener registers the event listener at construction time.
func WithListener(l Listener) StoreOption {
	return func(s *TaskStore) { s.listener = l }
}

// WithIDGenerator replaces the temporary id generator.
func WithIDGenerator(fn func() string) StoreOption {
	return func(s *TaskStore) { s.newID = fn }
}

// NewTaskStore builds a store for the signed-in user userID. sharing may be
// nil, in which case recipients on drafts and patches are only sent along
// with the task body.
func NewTaskStore(taskAPI TaskAPI, sharing *SharingController, userID string, logger *slog.Logger, opts ...StoreOption) *TaskStore {
	s := &TaskStore{
		api:      taskAPI,
		sharing:  sharing,
		userID:   userID,
		log:      logger,
		listener: nopListener,
		newID:    func() string { return model.TempIDPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetListener replaces the event listener. nil silences events.
func (s *TaskStore) SetListener(l Listener) {
	if l == nil {
		l = nopListener
	}
	s.listenerMu.Lock()
	s.listener = l
	s.listenerMu.Unlock()
}

func (s *TaskStore) emit(e Event) {
	s.listenerMu.RLock()
	l := s.listener
	s.listenerMu.RUnlock()
	l(e)
}

// Wait blocks until every background confirmation has resolved.
func (s *TaskStore) Wait() {
	s.inflight.Wait()
}

func (s *TaskStore) background(ctx context.Context, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		fn(ctx)
	}()
}

// Load replaces the whole collection with the authoritative remote state:
// own tasks first, then shared-in tasks.
func (s *TaskStore) Load(ctx context.Context) error {
	list, err := s.api.ListTasks(ctx)
	if err != nil {
		s.log.Error("load tasks", "op", "load", "user", s.userID, "error", err)
		return &OpError{Kind: ErrLoad, Op: "load", Err: err}
	}

	tasks := make([]model.Task, 0, len(list.Tasks)+len(list.SharedTasks))
	owned := make(map[string]bool, len(list.Tasks))
	for _, rec := range list.Tasks {
		tasks = append(tasks, ownTask(rec))
		owned[rec.TaskID] = true
	}
	for _, rec := range list.SharedTasks {
		// A task is either owned or shared in, never both.
		if owned[rec.TaskID] {
			continue
		}
		tasks = append(tasks, sharedInTask(rec))
	}

	s.mu.Lock()
	s.tasks = tasks
	s.loaded = true
	s.mu.Unlock()

	s.log.Debug("tasks loaded", "user", s.userID, "own", len(list.Tasks), "shared", len(list.SharedTasks))
	s.emit(Event{Kind: EventListChanged})
	return nil
}

// Loaded reports whether Load has succeeded at least once.
func (s *TaskStore) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *TaskStore) resync(ctx context.Context) {
	if err := s.Load(ctx); err != nil {
		s.emit(Event{Kind: EventLoadFailed, Err: err})
	}
}

// Snapshot returns a copy of the collection in store order.
func (s *TaskStore) Snapshot() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Get returns a copy of the task with id.
func (s *TaskStore) Get(id string) (model.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.tasks[i].Clone(), true
	}
	return model.Task{}, false
}

// Counts returns the number of open tasks per category id plus the "all" and
// "shared" buckets. Completed tasks are not counted.
func (s *TaskStore) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{model.FilterAll: 0, model.FilterShared: 0}
	for _, t := range s.tasks {
		if t.Completed {
			continue
		}
		counts[model.FilterAll]++
		if t.InShareView() {
			counts[model.FilterShared]++
		}
		counts[t.CategoryOrDefault()]++
	}
	return counts
}

// Create inserts the draft at the head of the collection under a temporary
// id and returns at once. The create call, the id swap and the recipient
// fan-out happen in the background.
func (s *TaskStore) Create(ctx context.Context, draft model.Draft) (model.Task, error) {
	draft = draft.Normalize()
	if draft.Title == "" {
		return model.Task{}, ErrEmptyTitle
	}

	task := model.Task{
		ID:          s.newID(),
		Title:       draft.Title,
		Description: draft.Description,
		Priority:    draft.Priority,
		Deadline:    draft.Deadline,
		Category:    draft.Category,
		SharedWith:  slices.Clone(draft.Recipients),
	}

	s.mu.Lock()
	s.tasks = slices.Insert(s.tasks, 0, task)
	s.mu.Unlock()
	s.emit(Event{Kind: EventListChanged})

	tempID := task.ID
	s.background(ctx, func(ctx context.Context) {
		s.finishCreate(ctx, tempID, draft)
	})
	return task.Clone(), nil
}

func (s *TaskStore) finishCreate(ctx context.Context, tempID string, draft model.Draft) {
	rec, err := s.api.CreateTask(ctx, api.NewTask{
		Title:       draft.Title,
		Description: draft.Description,
		Priority:    draft.Priority,
		Category:    draft.Category,
		DueDate:     api.Nullable(draft.Deadline),
		SharedWith:  slices.Clone(draft.Recipients),
	})
	if err != nil {
		s.log.Error("create task", "op", "create", "task_id", tempID, "title", draft.Title, "error", err)
		s.mu.Lock()
		s.removeLocked(tempID)
		s.mu.Unlock()
		s.emit(Event{Kind: EventListChanged})
		s.emit(Event{
			Kind:   EventCreateFailed,
			TaskID: tempID,
			Draft:  &draft,
			Err:    &OpError{Kind: ErrCreateFailed, Op: "create", TaskID: tempID, Err: err},
		})
		return
	}

	serverID := rec.TaskID
	var category string
	s.mu.Lock()
	i := s.indexLocked(tempID)
	if i >= 0 {
		// Swap in place so the record keeps its position.
		s.tasks[i].ID = serverID
		category = s.tasks[i].Category
	}
	s.mu.Unlock()
	if i >= 0 {
		s.log.Info("task created", "task_id", serverID, "temp_id", tempID, "user", s.userID)
	} else {
		s.log.Warn("created task left the collection before confirmation", "task_id", serverID, "temp_id", tempID)
	}

	// A category deleted while the create was in flight still went out with
	// the draft.
	if i >= 0 && category != draft.Category {
		s.push(ctx, "reassign category", serverID, api.TaskUpdate{Category: &category})
	}

	if len(draft.Recipients) > 0 && s.sharing != nil {
		outcome := s.sharing.ShareWithAll(ctx, serverID, draft.Recipients, model.PermissionEdit)
		s.setSharedWith(serverID, outcome.Succeeded)
		if len(outcome.Failed) > 0 {
			s.emit(Event{Kind: EventShareResult, TaskID: serverID, Shares: &outcome})
		}
	}
	if i < 0 {
		s.resync(ctx)
		return
	}
	s.emit(Event{Kind: EventListChanged})
}

// Update applies patch locally and confirms it in the background. A failed
// confirmation is not rolled back field by field; the store reloads the
// authoritative state instead.
func (s *TaskStore) Update(ctx context.Context, id string, patch model.Patch) error {
	if patch.Empty() {
		return ErrEmptyPatch
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	task := &s.tasks[i]
	if err := checkMutable(*task); err != nil {
		s.mu.Unlock()
		return err
	}

	var added []string
	previous := slices.Clone(task.SharedWith)
	if patch.Recipients != nil && !task.IsShared {
		added = missingFrom(patch.Recipients, previous)
	}
	patch.Apply(task)
	update := updateFor(patch, *task)
	s.mu.Unlock()
	s.emit(Event{Kind: EventListChanged})

	requested := slices.Clone(patch.Recipients)
	s.background(ctx, func(ctx context.Context) {
		if !s.push(ctx, "update", id, update) {
			return
		}
		if len(added) == 0 || s.sharing == nil {
			return
		}
		outcome := s.sharing.ShareWithAll(ctx, id, added, model.PermissionEdit)
		kept := make([]string, 0, len(requested))
		for _, email := range requested {
			if containsFold(previous, email) || containsFold(outcome.Succeeded, email) {
				kept = append(kept, email)
			}
		}
		s.setSharedWith(id, kept)
		if len(outcome.Failed) > 0 {
			s.emit(Event{Kind: EventShareResult, TaskID: id, Shares: &outcome})
		}
		s.emit(Event{Kind: EventListChanged})
	})
	return nil
}

// push sends an update and on failure reports it and reloads. It returns
// whether the update was accepted.
func (s *TaskStore) push(ctx context.Context, op, id string, update api.TaskUpdate) bool {
	if _, err := s.api.UpdateTask(ctx, id, update); err != nil {
		s.log.Error("update task", "op", op, "task_id", id, "error", err)
		s.emit(Event{Kind: EventUpdateFailed, TaskID: id, Err: &OpError{Kind: ErrUpdateFailed, Op: op, TaskID: id, Err: err}})
		s.resync(ctx)
		return false
	}
	return true
}

// ToggleComplete flips the completion flag and returns the new value. If the
// confirmation fails the flag is flipped back; nothing else is touched.
func (s *TaskStore) ToggleComplete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false, ErrTaskNotFound
	}
	if err := checkMutable(s.tasks[i]); err != nil {
		s.mu.Unlock()
		return false, err
	}
	completed := !s.tasks[i].Completed
	s.tasks[i].Completed = completed
	s.mu.Unlock()
	s.emit(Event{Kind: EventTaskPatched, TaskID: id})

	s.background(ctx, func(ctx context.Context) {
		_, err := s.api.UpdateTask(ctx, id, api.TaskUpdate{Completed: &completed})
		if err == nil {
			return
		}
		s.log.Error("toggle task", "op", "toggle", "task_id", id, "completed", completed, "error", err)
		s.mu.Lock()
		if j := s.indexLocked(id); j >= 0 && s.tasks[j].Completed == completed {
			s.tasks[j].Completed = !completed
		}
		s.mu.Unlock()
		s.emit(Event{Kind: EventUpdateFailed, TaskID: id, Err: &OpError{Kind: ErrUpdateFailed, Op: "toggle", TaskID: id, Err: err}})
		s.emit(Event{Kind: EventTaskPatched, TaskID: id})
	})
	return completed, nil
}

// Remove deletes an own task, or for a shared-in task drops the current
// user's share and reloads. It waits for the API.
func (s *TaskStore) Remove(ctx context.Context, id string) error {
	task, ok := s.Get(id)
	if !ok {
		return ErrTaskNotFound
	}
	if task.Pending() {
		return ErrTaskPending
	}

	if task.IsShared {
		if err := s.api.RemoveShare(ctx, id, s.userID); err != nil {
			s.log.Error("leave shared task", "op", "leave", "task_id", id, "user", s.userID, "error", err)
			opErr := &OpError{Kind: ErrDeleteFailed, Op: "leave", TaskID: id, Err: err}
			s.emit(Event{Kind: EventDeleteFailed, TaskID: id, Err: opErr})
			return opErr
		}
		return s.Load(ctx)
	}

	if err := s.api.DeleteTask(ctx, id); err != nil {
		s.log.Error("delete task", "op", "delete", "task_id", id, "error", err)
		opErr := &OpError{Kind: ErrDeleteFailed, Op: "delete", TaskID: id, Err: err}
		s.emit(Event{Kind: EventDeleteFailed, TaskID: id, Err: opErr})
		return opErr
	}
	s.mu.Lock()
	s.removeLocked(id)
	s.mu.Unlock()
	s.emit(Event{Kind: EventListChanged})
	return nil
}

// DeleteAllCompleted removes every completed own task locally at once, then
// deletes them one by one. Any failure triggers a reload.
func (s *TaskStore) DeleteAllCompleted(ctx context.Context) (BulkResult, error) {
	s.mu.Lock()
	var doomed []model.Task
	kept := s.tasks[:0:0]
	for _, t := range s.tasks {
		if t.Completed && !t.IsShared && !t.Pending() {
			doomed = append(doomed, t)
			continue
		}
		kept = append(kept, t)
	}
	if len(doomed) > 0 {
		s.tasks = kept
	}
	s.mu.Unlock()

	if len(doomed) == 0 {
		return BulkResult{}, ErrNothingToDelete
	}
	s.emit(Event{Kind: EventListChanged})

	var result BulkResult
	var errs []error
	for _, t := range doomed {
		if err := s.api.DeleteTask(ctx, t.ID); err != nil {
			s.log.Error("delete completed task", "op", "delete_completed", "task_id", t.ID, "error", err)
			result.Failed = append(result.Failed, TaskFailure{TaskID: t.ID, Title: t.Title, Err: err})
			errs = append(errs, err)
			continue
		}
		result.Deleted = append(result.Deleted, t.ID)
	}

	if len(result.Failed) == 0 {
		return result, nil
	}
	opErr := &OpError{Kind: ErrDeleteFailed, Op: "delete completed", Err: errors.Join(errs...)}
	s.emit(Event{Kind: EventDeleteFailed, Err: opErr})
	s.resync(ctx)
	return result, opErr
}

// ReassignCategory moves every task in category from to category to and
// persists the change for own tasks. It returns how many tasks moved.
func (s *TaskStore) ReassignCategory(ctx context.Context, from, to string) int {
	s.mu.Lock()
	moved := 0
	var persist []string
	for i := range s.tasks {
		if s.tasks[i].Category != from {
			continue
		}
		s.tasks[i].Category = to
		moved++
		if !s.tasks[i].IsShared && !s.tasks[i].Pending() {
			persist = append(persist, s.tasks[i].ID)
		}
	}
	s.mu.Unlock()

	if moved == 0 {
		return 0
	}
	s.emit(Event{Kind: EventListChanged})

	for _, id := range persist {
		target := to
		s.background(ctx, func(ctx context.Context) {
			s.push(ctx, "reassign category", id, api.TaskUpdate{Category: &target})
		})
	}
	return moved
}

func (s *TaskStore) setSharedWith(id string, emails []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		s.tasks[i].SharedWith = slices.Clone(emails)
		if s.tasks[i].SharedWith == nil {
			s.tasks[i].SharedWith = []string{}
		}
	}
}

func (s *TaskStore) indexLocked(id string) int {
	return slices.IndexFunc(s.tasks, func(t model.Task) bool { return t.ID == id })
}

func (s *TaskStore) removeLocked(id string) {
	s.tasks = slices.DeleteFunc(s.tasks, func(t model.Task) bool { return t.ID == id })
}

func checkMutable(t model.Task) error {
	if t.Pending() {
		return ErrTaskPending
	}
	if !t.Editable() {
		return ErrReadOnly
	}
	return nil
}

func updateFor(patch model.Patch, t model.Task) api.TaskUpdate {
	var u api.TaskUpdate
	if patch.Title != nil {
		u.Title = &t.Title
	}
	if patch.Description != nil {
		u.Description = &t.Description
	}
	if patch.Priority != nil {
		u.Priority = &t.Priority
	}
	if patch.Category != nil {
		u.Category = &t.Category
	}
	if patch.Deadline != nil {
		due := api.Nullable(t.Deadline)
		u.DueDate = &due
	}
	if patch.Completed != nil {
		u.Completed = &t.Completed
	}
	if patch.Recipients != nil && !t.IsShared {
		recipients := slices.Clone(patch.Recipients)
		if recipients == nil {
			recipients = []string{}
		}
		u.SharedWith = &recipients
	}
	return u
}

func ownTask(rec api.TaskRecord) model.Task {
	t := baseTask(rec)
	t.SharedWith = slices.Clone(rec.SharedWith)
	if t.SharedWith == nil {
		t.SharedWith = []string{}
	}
	return t
}

func sharedInTask(rec api.TaskRecord) model.Task {
	t := baseTask(rec)
	t.SharedWith = []string{}
	t.IsShared = true
	t.Permission = model.Permission(rec.SharedPermission)
	if !t.Permission.Valid() {
		t.Permission = model.PermissionRead
	}
	t.OwnerID = rec.UserID
	t.OwnerEmail = rec.OwnerEmail
	return t
}

func baseTask(rec api.TaskRecord) model.Task {
	priority := model.PriorityDefault
	if rec.Priority != nil && rec.Priority.Valid {
		priority = model.ClampPriority(rec.Priority.Value)
	}
	category := rec.Category
	if category == "" {
		category = model.CategoryPersonal
	}
	return model.Task{
		ID:          rec.TaskID,
		Title:       rec.Title,
		Description: rec.Description,
		Priority:    priority,
		Deadline:    rec.DueDate,
		Category:    category,
		Completed:   rec.Completed,
	}
}

func missingFrom(emails, existing []string) []string {
	var out []string
	for _, e := range emails {
		if !containsFold(existing, e) {
			out = append(out, e)
		}
	}
	return out
}

func containsFold(list []string, email string) bool {
	for _, e := range list {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}
