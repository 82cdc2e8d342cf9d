package client

import (
	"github.com/srg/hrmon/internal/device"
)

// ReadQueue is the FIFO of characteristics waiting to be read on the current
// connection. At most one read is in flight; the next one is only handed out
// after the previous one completes.
//
// A ReadQueue is owned by the client actor and is not safe for concurrent use.
type ReadQueue struct {
	items    []*device.CharacteristicDescriptor
	inFlight *device.CharacteristicDescriptor
}

// NewReadQueue creates an empty queue.
func NewReadQueue() *ReadQueue {
	return &ReadQueue{}
}

// Enqueue appends characteristics in the given order.
func (q *ReadQueue) Enqueue(chars ...*device.CharacteristicDescriptor) {
	q.items = append(q.items, chars...)
}

// Replace discards everything queued, including the in-flight marker, and
// queues chars. A completion for the discarded in-flight read is ignored.
func (q *ReadQueue) Replace(chars []*device.CharacteristicDescriptor) {
	q.items = append(make([]*device.CharacteristicDescriptor, 0, len(chars)), chars...)
	q.inFlight = nil
}

// DrainNext hands out the head of the queue when no read is in flight.
func (q *ReadQueue) DrainNext() (*device.CharacteristicDescriptor, bool) {
	if q.inFlight != nil || len(q.items) == 0 {
		return nil, false
	}
	next := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.inFlight = next
	return next, true
}

// Complete marks the in-flight read as finished, successfully or not. It
// reports false when char is not the read in flight.
func (q *ReadQueue) Complete(char *device.CharacteristicDescriptor) bool {
	if q.inFlight == nil || q.inFlight != char {
		return false
	}
	q.inFlight = nil
	return true
}

// Clear drops every queued read and the in-flight marker.
func (q *ReadQueue) Clear() {
	q.items = nil
	q.inFlight = nil
}

// Len counts queued reads, excluding the one in flight.
func (q *ReadQueue) Len() int { return len(q.items) }

// InFlight returns the read currently in flight, if any.
func (q *ReadQueue) InFlight() *device.CharacteristicDescriptor { return q.inFlight }
