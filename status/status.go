// Package status keeps operator-visible health slots, one per producer.
// Each slot has a single writer; readers may snapshot all slots at any
// time.
package status

import (
	"sync"
	"time"
)

// Level is the severity of a status entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Entry is the current condition reported by a producer.
type Entry struct {
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Registry holds one status slot per producer key (e.g. "wallet").
type Registry struct {
	mu    sync.RWMutex
	slots map[string]Entry
}

// NewRegistry creates an empty status registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]Entry)}
}

// Set replaces the slot of the given producer. Producers must write only to
// their own key.
func (r *Registry) Set(producer string, level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[producer] = Entry{
		Level:     level,
		Message:   message,
		UpdatedAt: time.Now().Unix(),
	}
}

// Get returns the slot of the given producer, or a zero entry at info level
// if the producer never reported.
func (r *Registry) Get(producer string) Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.slots[producer]
	if !ok {
		return Entry{Level: LevelInfo}
	}
	return entry
}

// All returns a snapshot of every slot.
func (r *Registry) All() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entry, len(r.slots))
	for k, v := range r.slots {
		out[k] = v
	}
	return out
}
