package events

import "time"

type EventID string

type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// EventRecorder collects events raised by an aggregate until the application layer drains them.
type EventRecorder struct {
	pending []DomainEvent
}

func (r *EventRecorder) Record(event DomainEvent) {
	if event == nil {
		return
	}
	r.pending = append(r.pending, event)
}

func (r *EventRecorder) PendingEvents() []DomainEvent {
	out := make([]DomainEvent, len(r.pending))
	copy(out, r.pending)
	return out
}

func (r *EventRecorder) ClearEvents() {
	r.pending = nil
}

// PullEvents returns the pending events and clears the recorder.
func (r *EventRecorder) PullEvents() []DomainEvent {
	out := r.PendingEvents()
	r.ClearEvents()
	return out
}

// Base carries the envelope fields shared by chat events.
type Base struct {
	Name      string    `json:"-"`
	Aggregate string    `json:"aggregateId"`
	Time      time.Time `json:"occurredAt"`
}

func (e Base) EventName() string {
	return e.Name
}

func (e Base) AggregateID() string {
	return e.Aggregate
}

func (e Base) OccurredAt() time.Time {
	return e.Time
}
