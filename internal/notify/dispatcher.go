package notify

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/okrylov/countersign/internal/logging"
	"github.com/okrylov/countersign/internal/models"
)

// Sink delivers one event to some destination (chat bridge, websocket
// clients). Delivery failures are the sink's problem; they never reach
// the request path.
type Sink interface {
	Deliver(event models.Event)
}

/*
Dispatcher decouples event emission from delivery. Dispatch appends to
a buffered channel drained by a single goroutine, which keeps the
global emission order intact and keeps the completion coordinator's
per-task lock from ever being held across a slow outbound call.
*/
type Dispatcher struct {
	events chan models.Event
	sinks  []Sink
	wg     sync.WaitGroup
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		events: make(chan models.Event, 256),
		sinks:  sinks,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch enqueues an event for delivery. It blocks only when the
// buffer is full, which bounds memory instead of dropping events.
func (d *Dispatcher) Dispatch(event models.Event) {
	d.events <- event
}

// Close drains remaining events and stops the delivery goroutine.
func (d *Dispatcher) Close() {
	close(d.events)
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.events {
		logging.Logger.WithFields(logrus.Fields{
			"kind":    event.Kind,
			"task_id": event.Task.ID,
			"actor":   event.ActorID,
		}).Info("dispatching event")

		for _, sink := range d.sinks {
			sink.Deliver(event)
		}
	}
}
