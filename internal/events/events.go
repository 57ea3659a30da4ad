// Package events is a small typed publish/subscribe bus used to decouple the
// upload pipeline from whatever renders its progress (terminal bars, logs).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/seqlab/run-uploader/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventProgress       EventType = "progress"
	EventLog            EventType = "log"
	EventStateChange    EventType = "state_change"
	EventSampleUploaded EventType = "sample_uploaded"
	EventRunQueued      EventType = "run_queued" // watcher handed a run to the uploader
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func base(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// ProgressEvent carries one byte-accounting update for a run.
type ProgressEvent struct {
	BaseEvent
	RunDir         string
	FileProgress   float64 // percent of the current file, 0-100
	RunProgress    float64 // percent of the whole run, 0-100
	BytesCurrent   int64
	BytesTotal     int64
	BytesPerSecond float64
	ETA            time.Duration
}

// LogEvent is a user-facing message about a run or sample.
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	RunDir  string
	Sample  string
	Error   error
}

// StateChangeEvent reports a remote run status transition.
type StateChangeEvent struct {
	BaseEvent
	RunDir       string
	RunID        string
	OldStatus    string
	NewStatus    string
	ErrorMessage string
}

// SampleUploadedEvent is published once the server confirms a sample.
type SampleUploadedEvent struct {
	BaseEvent
	RunDir string
	RunID  string
	Sample string
	Files  int
}

// RunQueuedEvent is published by the watcher when it hands a run over.
type RunQueuedEvent struct {
	BaseEvent
	RunDir  string
	Samples int
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

func (eb *EventBus) newChannel() chan Event {
	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	return make(chan Event, eb.bufferSize)
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := eb.newChannel()
	if !eb.closed {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	}
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := eb.newChannel()
	if !eb.closed {
		eb.all = append(eb.all, ch)
	}
	return ch
}

// Publish sends an event to all subscribers without blocking. Events for a
// full subscriber are dropped and counted. A nil bus ignores the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	send := func(ch chan Event) {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
	for _, ch := range eb.subscribers[event.Type()] {
		send(ch)
	}
	for _, ch := range eb.all {
		send(ch)
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes ch from every subscription list and closes it.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	remove := func(list []chan Event) ([]chan Event, chan Event) {
		for i, sub := range list {
			if sub == ch {
				list[i] = list[len(list)-1]
				return list[:len(list)-1], sub
			}
		}
		return list, nil
	}

	var found chan Event
	for t, list := range eb.subscribers {
		var sub chan Event
		eb.subscribers[t], sub = remove(list)
		if sub != nil {
			found = sub
		}
	}
	var sub chan Event
	eb.all, sub = remove(eb.all)
	if sub != nil {
		found = sub
	}
	if found != nil {
		close(found)
	}
}

// DroppedEventCount returns the number of events dropped due to full buffers
func (eb *EventBus) DroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, runDir, sample, message string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: base(EventLog),
		Level:     level,
		Message:   message,
		RunDir:    runDir,
		Sample:    sample,
		Error:     err,
	})
}

// PublishStateChange is a convenience method for publishing state change events
func (eb *EventBus) PublishStateChange(runDir, runID, oldStatus, newStatus, errorMsg string) {
	eb.Publish(&StateChangeEvent{
		BaseEvent:    base(EventStateChange),
		RunDir:       runDir,
		RunID:        runID,
		OldStatus:    oldStatus,
		NewStatus:    newStatus,
		ErrorMessage: errorMsg,
	})
}

// PublishSampleUploaded announces a confirmed sample.
func (eb *EventBus) PublishSampleUploaded(runDir, runID, sample string, files int) {
	eb.Publish(&SampleUploadedEvent{
		BaseEvent: base(EventSampleUploaded),
		RunDir:    runDir,
		RunID:     runID,
		Sample:    sample,
		Files:     files,
	})
}

// PublishRunQueued announces a run handed over by the watcher.
func (eb *EventBus) PublishRunQueued(runDir string, samples int) {
	eb.Publish(&RunQueuedEvent{
		BaseEvent: base(EventRunQueued),
		RunDir:    runDir,
		Samples:   samples,
	})
}

// PublishProgress is a convenience method for publishing progress events
func (eb *EventBus) PublishProgress(e ProgressEvent) {
	e.BaseEvent = base(EventProgress)
	eb.Publish(&e)
}
