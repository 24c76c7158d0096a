package service

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"taskboard/internal/auth"
	"taskboard/internal/model"
)

// CategoryCache is the local copy of the custom category JSON, keyed by owner.
type CategoryCache interface {
	Load(ctx context.Context, owner string) (string, bool, error)
	Save(ctx context.Context, owner, payload string) error
	Clear(ctx context.Context, owner string) error
}

// AttributeStore reads and writes user attributes of the signed-in account.
type AttributeStore interface {
	Attribute(ctx context.Context, name string) (string, bool, error)
	SetAttribute(ctx context.Context, name, value string) error
}

// TaskReassigner moves tasks out of a deleted category.
type TaskReassigner interface {
	ReassignCategory(ctx context.Context, from, to string) int
}

// MergeCategories overlays customs on builtins. Only custom-prefixed ids are
// taken from customs, so a built-in can never be replaced or shadowed.
func MergeCategories(builtins, customs map[string]model.Category) map[string]model.Category {
	merged := maps.Clone(builtins)
	if merged == nil {
		merged = make(map[string]model.Category, len(customs))
	}
	for id, c := range customs {
		if !model.IsCustomCategory(id) {
			continue
		}
		c.ID = id
		merged[id] = c
	}
	return merged
}

// CategoryStore holds the built-in categories plus the user's custom ones.
type CategoryStore struct {
	owner string
	cache CategoryCache
	attrs AttributeStore
	tasks TaskReassigner
	log   *slog.Logger
	newID func() string

	listenerMu sync.RWMutex
	listener   Listener

	mu         sync.RWMutex
	categories map[string]model.Category

	inflight sync.WaitGroup
}

// NewCategoryStore builds a store for owner. attrs may be nil when no remote
// attribute storage is available; the local cache is used alone then.
func NewCategoryStore(owner string, cache CategoryCache, attrs AttributeStore, tasks TaskReassigner, logger *slog.Logger) *CategoryStore {
	return &CategoryStore{
		owner:      owner,
		cache:      cache,
		attrs:      attrs,
		tasks:      tasks,
		log:        logger,
		newID:      func() string { return model.CustomCategoryPrefix + uuid.NewString() },
		listener:   nopListener,
		categories: model.Builtins(),
	}
}

func (s *CategoryStore) SetListener(l Listener) {
	if l == nil {
		l = nopListener
	}
	s.listenerMu.Lock()
	s.listener = l
	s.listenerMu.Unlock()
}

func (s *CategoryStore) emit(e Event) {
	s.listenerMu.RLock()
	l := s.listener
	s.listenerMu.RUnlock()
	l(e)
}

// Wait blocks until a background remote fetch has finished.
func (s *CategoryStore) Wait() {
	s.inflight.Wait()
}

// Load applies the locally cached customs at once and refreshes them from
// the remote attribute in the background.
func (s *CategoryStore) Load(ctx context.Context) error {
	payload, ok, err := s.cache.Load(ctx, s.owner)
	if err != nil {
		s.log.Error("load cached categories", "op", "load_categories", "user", s.owner, "error", err)
	}
	if ok {
		s.apply(s.decode(payload))
	}

	if s.attrs == nil {
		return err
	}
	bg := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.refresh(bg)
	}()
	return err
}

func (s *CategoryStore) refresh(ctx context.Context) {
	payload, ok, err := s.attrs.Attribute(ctx, auth.AttributeCategories)
	if err != nil {
		s.log.Warn("fetch remote categories", "op", "load_categories", "user", s.owner, "error", err)
		return
	}
	if !ok {
		return
	}
	s.apply(s.decode(payload))
	if err := s.cache.Save(ctx, s.owner, payload); err != nil {
		s.log.Error("cache remote categories", "op", "load_categories", "user", s.owner, "error", err)
	}
}

func (s *CategoryStore) apply(customs map[string]model.Category) {
	s.mu.Lock()
	s.categories = MergeCategories(model.Builtins(), customs)
	s.mu.Unlock()
	s.emit(Event{Kind: EventCategoriesChanged})
}

func (s *CategoryStore) decode(payload string) map[string]model.Category {
	customs := make(map[string]model.Category)
	if strings.TrimSpace(payload) == "" {
		return customs
	}
	if err := json.Unmarshal([]byte(payload), &customs); err != nil {
		s.log.Warn("decode categories", "user", s.owner, "error", err)
		return map[string]model.Category{}
	}
	return customs
}

// Create adds a custom category and persists it.
func (s *CategoryStore) Create(ctx context.Context, name, color string) (model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Category{}, ErrEmptyCategoryName
	}
	color = strings.ToLower(strings.TrimSpace(color))
	if !model.ValidColor(color) {
		return model.Category{}, fmt.Errorf("%w: %s", ErrInvalidColor, color)
	}

	c := model.NewCategory(s.newID(), name, color)
	s.mu.Lock()
	s.categories[c.ID] = c
	s.mu.Unlock()
	s.emit(Event{Kind: EventCategoriesChanged})

	return c, s.Persist(ctx)
}

// Persist writes the custom entries to the local cache and the remote
// attribute. A remote failure is logged and does not fail the call.
func (s *CategoryStore) Persist(ctx context.Context) error {
	s.mu.RLock()
	customs := make(map[string]model.Category)
	for id, c := range s.categories {
		if model.IsCustomCategory(id) {
			customs[id] = c
		}
	}
	s.mu.RUnlock()

	raw, err := json.Marshal(customs)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}
	payload := string(raw)

	var cacheErr error
	if err := s.cache.Save(ctx, s.owner, payload); err != nil {
		s.log.Error("save cached categories", "op", "persist_categories", "user", s.owner, "error", err)
		cacheErr = fmt.Errorf("save categories: %w", err)
	}
	if s.attrs != nil {
		if err := s.attrs.SetAttribute(ctx, auth.AttributeCategories, payload); err != nil {
			s.log.Warn("save remote categories", "op", "persist_categories", "user", s.owner, "error", err)
		}
	}
	return cacheErr
}

// Delete removes a custom category and moves its tasks to the default
// category. It returns how many tasks were moved.
func (s *CategoryStore) Delete(ctx context.Context, id string) (int, error) {
	if model.IsBuiltinCategory(id) {
		return 0, ErrProtectedCategory
	}
	s.mu.RLock()
	_, ok := s.categories[id]
	s.mu.RUnlock()
	if !ok {
		return 0, ErrCategoryNotFound
	}

	moved := 0
	if s.tasks != nil {
		moved = s.tasks.ReassignCategory(ctx, id, model.DefaultCategory)
	}

	s.mu.Lock()
	delete(s.categories, id)
	s.mu.Unlock()
	s.emit(Event{Kind: EventCategoriesChanged})

	s.log.Info("category deleted", "category_id", id, "user", s.owner, "moved", moved)
	return moved, s.Persist(ctx)
}

// Resolve returns the display metadata of id; unknown or absent ids resolve
// to "other".
func (s *CategoryStore) Resolve(id string) model.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.categories[id]; ok {
		return c
	}
	return s.categories[model.CategoryOther]
}

// Known reports whether id is a current category.
func (s *CategoryStore) Known(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.categories[id]
	return ok
}

// List returns built-ins in their fixed order followed by customs by name.
func (s *CategoryStore) List() []model.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Category, 0, len(s.categories))
	for _, id := range model.BuiltinIDs() {
		out = append(out, s.categories[id])
	}
	var customs []model.Category
	for id, c := range s.categories {
		if model.IsCustomCategory(id) {
			customs = append(customs, c)
		}
	}
	slices.SortFunc(customs, func(a, b model.Category) int {
		return cmp.Or(cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)), cmp.Compare(a.ID, b.ID))
	})
	return append(out, customs...)
}

// Reset drops every custom category and the local cache entry.
func (s *CategoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.categories = model.Builtins()
	s.mu.Unlock()
	s.emit(Event{Kind: EventCategoriesChanged})
	if err := s.cache.Clear(ctx, s.owner); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	return nil
}
