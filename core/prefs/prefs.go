// Package prefs holds the role and accessibility preferences of users.
package prefs

import (
	"context"
	"sync"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
)

type (
	Preferences struct {
		Role         core.Role `json:"role" validate:"required,role"`
		FontScale    float64   `json:"fontScale" validate:"gte=1,lte=2"`
		HighContrast bool      `json:"highContrast"`
		ReduceMotion bool      `json:"reduceMotion"`
		DyslexicFont bool      `json:"dyslexicFont"`
	}

	// Persister stores the preferences of users.
	Persister interface {
		// Load returns core.ErrNotFound when nothing was saved for the user.
		Load(ctx context.Context, userID string) (Preferences, error)
		Save(ctx context.Context, userID string, p Preferences) error
	}
)

// Defaults are used until a user saves preferences.
func Defaults() Preferences {
	return Preferences{Role: core.RoleStudent, FontScale: 1}
}

// Store holds the preferences of one user: loaded once, then read from memory.
// Updates are validated, persisted, then published to subscribers, one at a time.
type Store struct {
	userID     string
	persister  Persister
	validate   *validator.Validate
	translator ut.Translator

	writeMu sync.Mutex // serialises Update and Modify

	mu      sync.RWMutex
	current Preferences
	loaded  bool

	subsMu  sync.Mutex
	subs    map[int]func(Preferences)
	nextSub int
}

func NewStore(userID string, persister Persister, validate *validator.Validate, translator ut.Translator) *Store {
	return &Store{
		userID:     userID,
		persister:  persister,
		validate:   validate,
		translator: translator,
		current:    Defaults(),
		subs:       make(map[int]func(Preferences)),
	}
}

// Load reads the persisted preferences, falling back to the defaults.
func (s *Store) Load(ctx context.Context) (Preferences, error) {
	p, err := s.persister.Load(ctx, s.userID)
	if core.IsNotFound(err) {
		p, err = Defaults(), nil
	}
	if err != nil {
		return Defaults(), errors.Wrap(err, "persister.Load()")
	}

	s.mu.Lock()
	s.current = p
	s.loaded = true
	s.mu.Unlock()
	return p, nil
}

// Get returns the current preferences, the defaults before Load.
func (s *Store) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Update validates and persists p, then notifies the subscribers.
// Nothing changes when validation or persistence fails.
func (s *Store) Update(ctx context.Context, p Preferences) (Preferences, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.updateLocked(ctx, p)
}

// Modify applies edit to a copy of the current preferences and updates the store with the result.
// No other update can interleave between the read and the write. An edit error is returned as is.
func (s *Store) Modify(ctx context.Context, edit func(p *Preferences) error) (Preferences, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p := s.Get()
	if err := edit(&p); err != nil {
		return s.Get(), err
	}
	return s.updateLocked(ctx, p)
}

func (s *Store) updateLocked(ctx context.Context, p Preferences) (Preferences, error) {
	if err := s.validate.Struct(p); err != nil {
		return s.Get(), core.TranslateValidationErrors(err, s.translator)
	}
	if err := s.persister.Save(ctx, s.userID, p); err != nil {
		return s.Get(), errors.Wrap(err, "persister.Save()")
	}

	s.mu.Lock()
	s.current = p
	s.loaded = true
	s.mu.Unlock()

	s.publish(p)
	return p, nil
}

// Subscribe calls fn with the new preferences after every update, until cancel is called.
func (s *Store) Subscribe(fn func(Preferences)) (cancel func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) publish(p Preferences) {
	s.subsMu.Lock()
	fns := make([]func(Preferences), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// Registry hands out the loaded Store of each user.
type Registry struct {
	persister  Persister
	validate   *validator.Validate
	translator ut.Translator

	mu     sync.Mutex
	stores map[string]*Store
}

func NewRegistry(persister Persister, validate *validator.Validate, translator ut.Translator) *Registry {
	return &Registry{
		persister:  persister,
		validate:   validate,
		translator: translator,
		stores:     make(map[string]*Store),
	}
}

// For returns the store of userID, loading it on first use.
func (r *Registry) For(ctx context.Context, userID string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[userID]; ok {
		return s, nil
	}
	s := NewStore(userID, r.persister, r.validate, r.translator)
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}
	r.stores[userID] = s
	return s, nil
}

// MemPersister keeps preferences in memory.
type MemPersister struct {
	mu    sync.RWMutex
	prefs map[string]Preferences
}

var _ Persister = (*MemPersister)(nil)

func NewMemPersister() *MemPersister {
	return &MemPersister{prefs: make(map[string]Preferences)}
}

func (m *MemPersister) Load(_ context.Context, userID string) (Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[userID]
	if !ok {
		return Preferences{}, core.ErrNotFound
	}
	return p, nil
}

func (m *MemPersister) Save(_ context.Context, userID string, p Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[userID] = p
	return nil
}
