// Package store holds the append-only event log and its durable sink.
package store

import (
	"context"
	"log/slog"
	"sync"

	"chaos-organizer/internal/models"

	"github.com/goccy/go-json"
)

// EventStore is the ordered, append-only log of accepted events. Every append
// rewrites the full serialized log to the sink before it becomes visible.
type EventStore struct {
	sink Sink

	// appendMu serializes appends so that each sink write holds the
	// complete log; mu guards the visible slice.
	appendMu sync.Mutex
	mu       sync.RWMutex
	events   []models.Event
}

func New(sink Sink) *EventStore {
	return &EventStore{sink: sink}
}

// Load reads the sink and replaces the in-memory log with its contents. A
// missing or unreadable document yields an empty log; the failure is logged.
func (s *EventStore) Load(ctx context.Context) []models.Event {
	var events []models.Event

	data, err := s.sink.Load(ctx)
	switch {
	case err != nil:
		slog.Error("[STORE] Failed to read stored log, starting empty", "error", err)
	case len(data) == 0:
		slog.Info("[STORE] No stored log found, starting empty")
	default:
		if err := json.Unmarshal(data, &events); err != nil {
			slog.Error("[STORE] Stored log is unparsable, starting empty", "error", err)
			events = nil
		}
	}
	if events == nil {
		events = []models.Event{}
	}

	s.mu.Lock()
	s.events = events
	s.mu.Unlock()

	slog.Info("[STORE] Log loaded", "events", len(events))
	return events
}

// Append adds ev to the tail of the log and persists the whole log. On a
// sink failure the log is left unchanged and a PersistenceError is returned.
func (s *EventStore) Append(ctx context.Context, ev models.Event) ([]models.Event, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	current := s.Snapshot()
	// The three-index slice forces a fresh backing array, so snapshots
	// already handed out never see the new element.
	next := append(current[:len(current):len(current)], ev)

	data, err := json.Marshal(next)
	if err != nil {
		return nil, &models.PersistenceError{Op: "encode log", Err: err}
	}
	if err := s.sink.Save(ctx, data); err != nil {
		slog.Error("[STORE] Failed to persist log", "event", ev.ID, "error", err)
		return nil, &models.PersistenceError{Op: "write log", Err: err}
	}

	s.mu.Lock()
	s.events = next
	s.mu.Unlock()

	slog.Debug("[STORE] Event appended", "event", ev.ID, "type", ev.Type, "events", len(next), "bytes", len(data))
	return next, nil
}

// Snapshot returns the log as of the call. The returned slice must not be
// modified.
func (s *EventStore) Snapshot() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events
}

func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// MaxID returns the highest event id in the log, or 0 when it is empty.
func (s *EventStore) MaxID() int64 {
	var max int64
	for _, ev := range s.Snapshot() {
		if ev.ID > max {
			max = ev.ID
		}
	}
	return max
}

// FindFile returns the file event whose blob is stored under name. Storage
// names are never reused, so the earliest match is the event the upload
// created.
func (s *EventStore) FindFile(name string) (models.Event, bool) {
	for _, ev := range s.Snapshot() {
		if ev.Type == models.KindFile && ev.Filename == name {
			return ev, true
		}
	}
	return models.Event{}, false
}

func (s *EventStore) Close() error {
	return s.sink.Close()
}
