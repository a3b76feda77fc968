package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates progress bus event kinds.
type EventType string

const (
	EventFileProgress  EventType = "file_progress"
	EventBatchProgress EventType = "batch_progress"
	EventBatchComplete EventType = "batch_complete"
	EventBatchError    EventType = "batch_error"
)

// Event is one progress update for a batch. Events for one batch are
// published in the order they occur within that batch's worker.
type Event struct {
	Type    EventType `json:"type"`
	BatchID uuid.UUID `json:"batch_id"`

	FileID   *uuid.UUID `json:"file_id,omitempty"`
	Filename string     `json:"filename,omitempty"`
	Status   string     `json:"status,omitempty"`

	ProcessedFiles int     `json:"processed_files"`
	TotalFiles     int     `json:"total_files"`
	Percent        float64 `json:"percent"`

	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber channel; slow consumers drop
// events instead of stalling the batch worker.
const subscriberBuffer = 16

type subscriber struct {
	ch chan Event
}

// Bus fans progress events out to subscribers keyed by batch id.
// Subscribers may come and go at any time.
type Bus struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uuid.UUID]map[*subscriber]struct{})}
}

// Subscribe registers for one batch's events. The returned cancel func must
// be called to release the subscription; the channel is closed by it.
func (b *Bus) Subscribe(batchID uuid.UUID) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[batchID] == nil {
		b.subs[batchID] = make(map[*subscriber]struct{})
	}
	b.subs[batchID][s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[batchID]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(b.subs, batchID)
				}
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Publish delivers the event to every current subscriber of its batch.
// Full subscriber buffers drop the event.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[evt.BatchID] {
		select {
		case s.ch <- evt:
		default:
		}
	}
}
