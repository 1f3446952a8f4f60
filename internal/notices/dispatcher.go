// Package notices fans out background write failures to interested
// subscribers of a user session.
package notices

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultBufferSize = 16

// Notice reports a remote write that failed after the local state had already
// been updated.
type Notice struct {
	UserID    string
	Kind      string
	Operation string
	Err       error
	Time      time.Time
}

// Message renders the notice for display.
func (n Notice) Message() string {
	return fmt.Sprintf("%s %s failed: %v", n.Kind, n.Operation, n.Err)
}

// Publisher accepts notices.
type Publisher interface {
	Publish(notice Notice)
}

// Dispatcher delivers notices to per-user subscribers without blocking the
// publisher. Subscribers whose buffer is full miss the notice.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
	watchers    sync.WaitGroup
}

type subscriber struct {
	id     int64
	stream chan Notice
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a stream for userID. The stream is closed when ctx ends
// or the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan Notice, func()) {
	if userID == "" {
		ch := make(chan Notice)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{stream: make(chan Notice, d.bufferSize)}
	d.register(userID, sub)

	var once sync.Once
	released := make(chan struct{})
	cleanup := func() {
		once.Do(func() {
			close(released)
			d.unregister(userID, sub.id)
		})
	}
	if ctx.Done() != nil {
		d.watchers.Add(1)
		go func() {
			defer d.watchers.Done()
			select {
			case <-ctx.Done():
				cleanup()
			case <-released:
			}
		}()
	}
	return sub.stream, cleanup
}

// Publish delivers notice to every subscriber of its user.
func (d *Dispatcher) Publish(notice Notice) {
	if notice.UserID == "" || notice.Err == nil {
		return
	}
	if notice.Time.IsZero() {
		notice.Time = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers[notice.UserID] {
		select {
		case sub.stream <- notice:
		default:
		}
	}
}

func (d *Dispatcher) register(userID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	sub.id = d.nextID
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*subscriber)
	}
	d.subscribers[userID][sub.id] = sub
}

func (d *Dispatcher) unregister(userID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[userID]
	if subscribers == nil {
		return
	}
	if sub, ok := subscribers[subscriberID]; ok {
		close(sub.stream)
		delete(subscribers, subscriberID)
	}
	if len(subscribers) == 0 {
		delete(d.subscribers, userID)
	}
}

var _ Publisher = (*Dispatcher)(nil)
