package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"taskboard/internal/api"
	"taskboard/internal/logging"
	"taskboard/internal/model"
	"taskboard/internal/service"
)

const testChat int64 = 42

// fakeSender records everything the bot sends.
type fakeSender struct {
	mu       sync.Mutex
	next     int
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: f.next}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch v := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, v.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, v.Text)
		}
	}
	return out
}

func (f *fakeSender) lastEdit() (tgbotapi.EditMessageTextConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if v, ok := f.sent[i].(tgbotapi.EditMessageTextConfig); ok {
			return v, true
		}
	}
	return tgbotapi.EditMessageTextConfig{}, false
}

func (f *fakeSender) acks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.requests {
		if v, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, v.Text)
		}
	}
	return out
}

func (f *fakeSender) anyText(sub string) bool {
	for _, t := range f.texts() {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}

// fakeBackend is an in-memory task API.
type fakeBackend struct {
	mu        sync.Mutex
	next      int
	own       []api.TaskRecord
	shared    []api.TaskRecord
	shares    map[string][]model.Share
	updateErr error
	shareErr  map[string]error
	updates   []api.TaskUpdate
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{next: 500, shares: map[string][]model.Share{}, shareErr: map[string]error{}}
}

func (f *fakeBackend) ListTasks(ctx context.Context) (api.TaskList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return api.TaskList{
		Tasks:       append([]api.TaskRecord(nil), f.own...),
		SharedTasks: append([]api.TaskRecord(nil), f.shared...),
	}, nil
}

func (f *fakeBackend) CreateTask(ctx context.Context, task api.NewTask) (api.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	rec := api.TaskRecord{
		TaskID:      strconv.Itoa(f.next),
		Title:       task.Title,
		Description: task.Description,
		Priority:    &api.Priority{Value: task.Priority, Valid: true},
		DueDate:     string(task.DueDate),
		Category:    task.Category,
	}
	f.own = append(f.own, rec)
	return rec, nil
}

func (f *fakeBackend) UpdateTask(ctx context.Context, id string, update api.TaskUpdate) (api.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	if f.updateErr != nil {
		return api.TaskRecord{}, f.updateErr
	}
	for _, list := range [][]api.TaskRecord{f.own, f.shared} {
		for i := range list {
			if list[i].TaskID != id {
				continue
			}
			if update.Completed != nil {
				list[i].Completed = *update.Completed
			}
			if update.Title != nil {
				list[i].Title = *update.Title
			}
			return list[i], nil
		}
	}
	return api.TaskRecord{}, api.ErrNotFound
}

func (f *fakeBackend) DeleteTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.own {
		if f.own[i].TaskID == id {
			f.own = append(f.own[:i], f.own[i+1:]...)
			return nil
		}
	}
	return api.ErrNotFound
}

func (f *fakeBackend) ShareTask(ctx context.Context, taskID, email string, permission model.Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.shareErr[email]; err != nil {
		return err
	}
	f.shares[taskID] = append(f.shares[taskID], model.Share{
		SharedWithUserID: "uid-" + email,
		SharedWithEmail:  email,
		Permission:       permission,
	})
	return nil
}

func (f *fakeBackend) ListShares(ctx context.Context, taskID string) ([]model.Share, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Share(nil), f.shares[taskID]...), nil
}

func (f *fakeBackend) UpdateShare(ctx context.Context, taskID, userID string, permission model.Permission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.shares[taskID] {
		if f.shares[taskID][i].SharedWithUserID == userID {
			f.shares[taskID][i].Permission = permission
			return nil
		}
	}
	return api.ErrNotFound
}

func (f *fakeBackend) RemoveShare(ctx context.Context, taskID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.shares[taskID][:0]
	for _, s := range f.shares[taskID] {
		if s.SharedWithUserID != userID {
			kept = append(kept, s)
		}
	}
	f.shares[taskID] = kept
	if userID == "me" {
		for i := range f.shared {
			if f.shared[i].TaskID == taskID {
				f.shared = append(f.shared[:i], f.shared[i+1:]...)
				break
			}
		}
	}
	return nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func (m *memCache) Load(ctx context.Context, owner string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[owner]
	return v, ok, nil
}

func (m *memCache) Save(ctx context.Context, owner, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[owner] = payload
	return nil
}

func (m *memCache) Clear(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, owner)
	return nil
}

// newSignedInBot returns a bot whose test chat already has a loaded session.
func newSignedInBot(t *testing.T, backend *fakeBackend) (*Bot, *fakeSender, *service.Session) {
	t.Helper()
	out := &fakeSender{}
	b := newBot(out, Deps{Logger: logging.Discard(), Location: time.UTC})

	s := service.NewSession(service.SessionDeps{
		UserID: "me",
		Email:  "me@example.com",
		Tasks:  backend,
		Shares: backend,
		Cache:  &memCache{entries: map[string]string{}},
		Logger: logging.Discard(),
	})
	c := b.chatState(testChat)
	c.session = s
	s.SetListener(b.listener(testChat))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return b, out, s
}

func textMessage(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 7, FirstName: "Ada"},
		Chat:      &tgbotapi.Chat{ID: testChat, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = commandEntity(cmd)
	}
	return msg
}

func callback(data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: testChat, Type: "private"}},
		Data:    data,
	}
}

func priority(p int) *api.Priority {
	return &api.Priority{Value: p, Valid: true}
}
