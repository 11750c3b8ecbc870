// Package progress provides the event surface for long-running operations:
// progress-update and progress-finished events keyed by a caller-supplied
// event id, SSE-style subscribers, and in-band cancellation.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Common errors.
var (
	// ErrOperationExists is returned when registering a duplicate event id.
	ErrOperationExists = errors.New("operation already exists for this event id")
)

// Event types delivered to subscribers.
const (
	EventTypeProgress = "progress-update"
	EventTypeFinished = "progress-finished"
)

// Event is one progress notification.
type Event struct {
	// Type is EventTypeProgress or EventTypeFinished.
	Type string `json:"type"`
	// ID is the caller-supplied event id of the operation.
	ID string `json:"id"`
	// Content is the human-readable progress line (progress-update only).
	Content string `json:"content,omitempty"`
	// Success reports the terminal outcome (progress-finished only).
	Success bool `json:"success,omitempty"`
	// Message describes the terminal outcome (progress-finished only).
	Message string `json:"message,omitempty"`
	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives events over a buffered channel.
type Subscriber struct {
	ID     string
	Events chan *Event
}

// operation tracks one cancellable in-flight operation.
type operation struct {
	cancel context.CancelFunc
}

// Service broadcasts progress events and owns operation cancellation.
type Service struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	operations  map[string]*operation
	finished    map[string]time.Time
	logger      *slog.Logger

	staleDuration time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewService creates a new progress service.
func NewService(logger *slog.Logger) *Service {
	return &Service{
		subscribers:   make(map[string]*Subscriber),
		operations:    make(map[string]*operation),
		finished:      make(map[string]time.Time),
		logger:        logger.With("component", "progress_service"),
		staleDuration: 5 * time.Minute,
		stopCleanup:   make(chan struct{}),
	}
}

// Start begins background cleanup of finished-id bookkeeping.
func (s *Service) Start() {
	s.cleanupTicker = time.NewTicker(time.Minute)
	go s.cleanupLoop()
}

// Stop halts the background cleanup.
func (s *Service) Stop() {
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
		s.stopOnce.Do(func() { close(s.stopCleanup) })
	}
}

func (s *Service) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanupFinished()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupFinished drops finished-id entries older than staleDuration. The
// set only exists to suppress duplicate terminal events.
func (s *Service) cleanupFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.staleDuration)
	removed := 0
	for id, at := range s.finished {
		if at.Before(cutoff) {
			delete(s.finished, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("cleaned up finished operations", "count", removed)
	}
}

// Register associates a cancel function with an event id so that Cancel(id)
// can abort the operation. Returns ErrOperationExists for an active id.
func (s *Service) Register(id string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operations[id]; exists {
		return ErrOperationExists
	}
	s.operations[id] = &operation{cancel: cancel}
	delete(s.finished, id)
	return nil
}

// Cancel trips the cancellation token of the operation with the given id.
// Returns false when no such operation is active.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	op, ok := s.operations[id]
	s.mu.Unlock()

	if !ok {
		return false
	}
	op.cancel()
	s.logger.Debug("operation cancelled", "event_id", id)
	return true
}

// EmitProgress broadcasts a progress-update event for id.
func (s *Service) EmitProgress(id, content string) {
	s.broadcast(&Event{
		Type:      EventTypeProgress,
		ID:        id,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// EmitFinished broadcasts the terminal event for id. At most one finished
// event is delivered per id; later calls are ignored.
func (s *Service) EmitFinished(id string, success bool, message string) {
	s.mu.Lock()
	if _, done := s.finished[id]; done {
		s.mu.Unlock()
		return
	}
	s.finished[id] = time.Now()
	delete(s.operations, id)
	s.mu.Unlock()

	s.broadcast(&Event{
		Type:      EventTypeFinished,
		ID:        id,
		Success:   success,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Subscribe creates a new subscriber for progress events.
func (s *Service) Subscribe() *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Events: make(chan *Event, 100),
	}
	s.subscribers[sub.ID] = sub
	s.logger.Debug("subscriber added", "subscriber_id", sub.ID)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Service) Unsubscribe(subscriberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(s.subscribers, subscriberID)
		s.logger.Debug("subscriber removed", "subscriber_id", subscriberID)
	}
}

// broadcast delivers an event to all subscribers. Events for the same id are
// delivered in emission order because sends happen under the service lock.
// Terminal events must be delivered, so they block briefly on a full
// channel; progress events are droppable.
func (s *Service) broadcast(event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	isTerminal := event.Type == EventTypeFinished
	for _, sub := range s.subscribers {
		if isTerminal {
			select {
			case sub.Events <- event:
			case <-time.After(500 * time.Millisecond):
				s.logger.Error("failed to deliver terminal event - channel full",
					"subscriber_id", sub.ID,
					"event_id", event.ID,
				)
			}
		} else {
			select {
			case sub.Events <- event:
			default:
				s.logger.Warn("subscriber event channel full, dropping event",
					"subscriber_id", sub.ID,
					"event_id", event.ID,
				)
			}
		}
	}
}
