package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"taskboard/internal/api"
	"taskboard/internal/logging"
	"taskboard/internal/model"
)

var errBoom = errors.New("boom")

// fakeAPI is an in-memory task and share backend.
type fakeAPI struct {
	mu     sync.Mutex
	nextID int
	own    []api.TaskRecord
	shared []api.TaskRecord
	shares map[string][]model.Share

	listErr    error
	createErr  error
	updateErr  map[string]error
	deleteErr  map[string]error
	shareErr   map[string]error
	createGate chan struct{}

	listCalls    int
	updates      map[string][]api.TaskUpdate
	deleted      []string
	removedShare [][2]string
	shareCalls   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		nextID:    100,
		shares:    map[string][]model.Share{},
		updateErr: map[string]error{},
		deleteErr: map[string]error{},
		shareErr:  map[string]error{},
		updates:   map[string][]api.TaskUpdate{},
	}
}

func (f *fakeAPI) ListTasks(ctx context.Context) (api.TaskList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return api.TaskList{}, f.listErr
	}
	return api.TaskList{
		Tasks:       append([]api.TaskRecord(nil), f.own...),
		SharedTasks: append([]api.TaskRecord(nil), f.shared...),
	}, nil
}

func (f *fakeAPI) CreateTask(ctx context.Context, task api.NewTask) (api.TaskRecord, error) {
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return api.TaskRecord{}, f.createErr
	}
	f.nextID++
	rec := api.TaskRecord{
		TaskID:     strconv.Itoa(f.nextID),
		Title:      task.Title,
		Priority:   &api.Priority{Value: task.Priority, Valid: true},
		Category:   task.Category,
		DueDate:    string(task.DueDate),
		SharedWith: task.SharedWith,
	}
	f.own = append([]api.TaskRecord{rec}, f.own...)
	return rec, nil
}

func (f *fakeAPI) UpdateTask(ctx context.Context, id string, update api.TaskUpdate) (api.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = append(f.updates[id], update)
	if err := f.updateErr[id]; err != nil {
		return api.TaskRecord{}, err
	}
	for i := range f.own {
		if f.own[i].TaskID != id {
			continue
		}
		if update.Completed != nil {
			f.own[i].Completed = *update.Completed
		}
		if update.Title != nil {
			f.own[i].Title = *update.Title
		}
		if update.Category != nil {
			f.own[i].Category = *update.Category
		}
		return f.own[i], nil
	}
	return api.TaskRecord{TaskID: id}, nil
}

func (f *fakeAPI) DeleteTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	for i := range f.own {
		if f.own[i].TaskID == id {
			f.own = append(f.own[:i], f.own[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeAPI) ShareTask(ctx context.Context, taskID, email string, permission model.Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shareCalls = append(f.shareCalls, email)
	if err := f.shareErr[strings.ToLower(email)]; err != nil {
		return err
	}
	f.shares[taskID] = append(f.shares[taskID], model.Share{
		SharedWithUserID: "uid-" + email,
		SharedWithEmail:  email,
		Permission:       permission,
	})
	return nil
}

func (f *fakeAPI) ListShares(ctx context.Context, taskID string) ([]model.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Share(nil), f.shares[taskID]...), nil
}

func (f *fakeAPI) UpdateShare(ctx context.Context, taskID, userID string, permission model.Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.shares[taskID] {
		if s.SharedWithUserID == userID {
			f.shares[taskID][i].Permission = permission
			return nil
		}
	}
	return api.ErrNotFound
}

func (f *fakeAPI) RemoveShare(ctx context.Context, taskID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedShare = append(f.removedShare, [2]string{taskID, userID})
	f.shares[taskID] = deleteShare(f.shares[taskID], userID)
	for i := range f.shared {
		if f.shared[i].TaskID == taskID {
			f.shared = append(f.shared[:i], f.shared[i+1:]...)
			break
		}
	}
	return nil
}

func deleteShare(shares []model.Share, userID string) []model.Share {
	out := shares[:0]
	for _, s := range shares {
		if s.SharedWithUserID != userID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeAPI) setUpdateErr(id string, err error) {
	f.mu.Lock()
	f.updateErr[id] = err
	f.mu.Unlock()
}

func (f *fakeAPI) lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// recorder collects events delivered to a listener.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) first(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func priority(v int) *api.Priority {
	return &api.Priority{Value: v, Valid: true}
}

// newLoadedStore returns a store over fake that has completed its first load.
func newLoadedStore(t *testing.T, fake *fakeAPI) (*TaskStore, *recorder) {
	t.Helper()
	rec := &recorder{}
	sharing := NewSharingController(fake, logging.Discard(), 4)
	store := NewTaskStore(fake, sharing, "user-me", logging.Discard(), WithListener(rec.listen))
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	rec.reset()
	return store, rec
}

func ids(tasks []model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

// memCache is an in-memory CategoryCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]string
	saves   int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]string{}}
}

func (c *memCache) Load(ctx context.Context, owner string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[owner]
	return v, ok, nil
}

func (c *memCache) Save(ctx context.Context, owner, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	c.entries[owner] = payload
	return nil
}

func (c *memCache) Clear(ctx context.Context, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, owner)
	return nil
}

// fakeAttrs is an AttributeStore with switchable failures.
type fakeAttrs struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
	setErr error
	calls  int
}

func (a *fakeAttrs) Attribute(ctx context.Context, name string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.getErr != nil {
		return "", false, a.getErr
	}
	v, ok := a.values[name]
	return v, ok, nil
}

func (a *fakeAttrs) SetAttribute(ctx context.Context, name, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.setErr != nil {
		return a.setErr
	}
	if a.values == nil {
		a.values = map[string]string{}
	}
	a.values[name] = value
	return nil
}

func (a *fakeAttrs) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
