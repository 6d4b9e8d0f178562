package triggers

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
)

// Book is the registry of user-defined triggers. It owns trigger state;
// callers get copies.
type Book struct {
	mu        sync.RWMutex
	triggers  map[string]*Trigger
	validator AddressValidator
	now       func() time.Time
}

// NewBook creates an empty registry. validator may be nil to skip address checks.
func NewBook(validator AddressValidator) *Book {
	return &Book{
		triggers:  make(map[string]*Trigger),
		validator: validator,
		now:       time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (b *Book) WithClock(now func() time.Time) *Book {
	b.now = now
	return b
}

// Create validates and registers a trigger. A missing ID is generated;
// an ID already in the book is rejected.
func (b *Book) Create(t Trigger) (Trigger, error) {
	t.normalize()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := t.Validate(b.validator); err != nil {
		return Trigger{}, err
	}

	t.IsActive = true
	t.TriggerCount = 0
	t.Failures = 0
	t.LastError = ""
	t.LastFiredAt = nil
	t.CreatedAt = b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.triggers[t.ID]; exists {
		return Trigger{}, boterrors.NewValidationError(component, "create", "duplicate trigger id "+t.ID)
	}
	stored := t
	b.triggers[t.ID] = &stored
	return t.clone(), nil
}

// Get returns a copy of a trigger
func (b *Book) Get(id string) (Trigger, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.triggers[id]
	if !ok {
		return Trigger{}, false
	}
	return t.clone(), true
}

// List returns all triggers ordered by creation time
func (b *Book) List() []Trigger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Trigger, 0, len(b.triggers))
	for _, t := range b.triggers {
		out = append(out, t.clone())
	}
	sortTriggers(out)
	return out
}

// Active returns the triggers that can still fire
func (b *Book) Active() []Trigger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Trigger
	for _, t := range b.triggers {
		if t.IsActive && !t.Exhausted() {
			out = append(out, t.clone())
		}
	}
	sortTriggers(out)
	return out
}

// ForAsset returns triggers watching asset
func (b *Book) ForAsset(asset string) []Trigger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Trigger
	for _, t := range b.triggers {
		if t.Asset == asset {
			out = append(out, t.clone())
		}
	}
	sortTriggers(out)
	return out
}

// Remove deletes a trigger, reporting whether it existed
func (b *Book) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.triggers[id]; !ok {
		return false
	}
	delete(b.triggers, id)
	return true
}

// SetActive pauses or resumes a trigger. Exhausted triggers stay inactive.
func (b *Book) SetActive(id string, active bool) (Trigger, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.triggers[id]
	if !ok {
		return Trigger{}, boterrors.NewValidationError(component, "set_active", "unknown trigger "+id)
	}
	t.IsActive = active && !t.Exhausted()
	return t.clone(), nil
}

// RecordFire applies the result of running a trigger's action. Only a
// successful execution counts toward MaxTriggers; the trigger deactivates
// when the count reaches it.
func (b *Book) RecordFire(id string, success bool, execErr error) (Trigger, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.triggers[id]
	if !ok {
		return Trigger{}, false
	}

	if !success {
		t.Failures++
		if execErr != nil {
			t.LastError = execErr.Error()
		}
		return t.clone(), true
	}

	at := b.now()
	t.TriggerCount++
	t.LastFiredAt = &at
	t.LastError = ""
	if t.Exhausted() {
		t.IsActive = false
	}
	return t.clone(), true
}

// Snapshot copies every trigger for persistence
func (b *Book) Snapshot() []Trigger {
	return b.List()
}

// Restore replaces the book contents with persisted triggers. Entries are
// trusted as they were validated when created.
func (b *Book) Restore(triggers []Trigger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggers = make(map[string]*Trigger, len(triggers))
	for _, t := range triggers {
		c := t.clone()
		if c.Exhausted() {
			c.IsActive = false
		}
		b.triggers[c.ID] = &c
	}
}

// Len returns the number of triggers
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.triggers)
}

func sortTriggers(ts []Trigger) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}
