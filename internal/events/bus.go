// Package events provides the typed in-process event bus the worker and sync
// engine publish job lifecycle events on. Consumers (SSE streams, CLI
// progress bars, log sinks) subscribe independently; a slow consumer never
// blocks an executing job.
package events

import (
	"sync"
	"time"
)

// Type enumerates the job lifecycle events.
type Type string

const (
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
	TypeRetry     Type = "retry"
	TypeCancelled Type = "cancelled"
)

// Event is one job lifecycle notification.
type Event struct {
	Type   Type   `json:"type"`
	JobID  string `json:"job_id"`
	UserID uint   `json:"user_id"`

	// Progress payload
	Completed int `json:"completed,omitempty"`
	Total     int `json:"total,omitempty"`
	Pct       int `json:"pct,omitempty"`

	// Completed payload
	Result *Result `json:"result,omitempty"`

	// Failed payload
	Error string `json:"error,omitempty"`

	// Retry payload
	Attempts  int        `json:"attempts,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// Result is the payload of a completed event.
type Result struct {
	FileID   string        `json:"file_id,omitempty"`
	FileName string        `json:"file_name,omitempty"`
	FileURL  string        `json:"file_url,omitempty"`
	Duration time.Duration `json:"duration"`
}

// defaultBufferSize is per subscriber; events beyond it are dropped for that
// subscriber rather than blocking the publisher.
const defaultBufferSize = 64

// Bus fans events out to subscriber channels.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new consumer and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, defaultBufferSize)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber, dropping it for
// subscribers whose buffer is full.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Progress builds a progress event.
func Progress(jobID string, userID uint, completed, total, pct int) Event {
	return Event{Type: TypeProgress, JobID: jobID, UserID: userID, Completed: completed, Total: total, Pct: pct}
}

// Completed builds a completed event.
func Completed(jobID string, userID uint, result Result) Event {
	return Event{Type: TypeCompleted, JobID: jobID, UserID: userID, Result: &result}
}

// Failed builds a failed event.
func Failed(jobID string, userID uint, errMsg string) Event {
	return Event{Type: TypeFailed, JobID: jobID, UserID: userID, Error: errMsg}
}

// Retry builds a retry-scheduled event.
func Retry(jobID string, userID uint, attempts int, nextRunAt time.Time) Event {
	return Event{Type: TypeRetry, JobID: jobID, UserID: userID, Attempts: attempts, NextRunAt: &nextRunAt}
}

// Cancelled builds a cancelled event.
func Cancelled(jobID string, userID uint) Event {
	return Event{Type: TypeCancelled, JobID: jobID, UserID: userID}
}
