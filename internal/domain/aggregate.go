package domain

import "time"

// aggregateRoot buffers events recorded since the last successful save.
// version is the version of the last persisted event.
type aggregateRoot struct {
	version int
	pending []DomainEvent
}

func (a *aggregateRoot) record(aggregateID string, aggregateType AggregateType, payload Payload, at time.Time) {
	a.pending = append(a.pending, NewDomainEvent(aggregateID, aggregateType, a.Version()+1, payload, at))
}

// Version is the version including pending events
func (a *aggregateRoot) Version() int {
	return a.version + len(a.pending)
}

// ExpectedVersion is the stream version the pending events must be appended after
func (a *aggregateRoot) ExpectedVersion() int {
	return a.version
}

// PendingEvents returns a copy of the not yet persisted events
func (a *aggregateRoot) PendingEvents() []DomainEvent {
	out := make([]DomainEvent, len(a.pending))
	copy(out, a.pending)
	return out
}

// HasPendingEvents reports whether a save would append anything
func (a *aggregateRoot) HasPendingEvents() bool {
	return len(a.pending) > 0
}

// DrainEvents clears the buffer after a successful save and returns what was in it
func (a *aggregateRoot) DrainEvents() []DomainEvent {
	drained := a.pending
	a.version += len(drained)
	a.pending = nil
	return drained
}

// AnnotatePending attaches metadata (e.g. correlation id) to every pending event
func (a *aggregateRoot) AnnotatePending(key, value string) {
	for i := range a.pending {
		if a.pending[i].Metadata == nil {
			a.pending[i].Metadata = map[string]string{}
		}
		a.pending[i].Metadata[key] = value
	}
}
