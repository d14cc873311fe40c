package queue

import (
	"errors"
	"fmt"

	"github.com/srg/vitals/internal/gatt"
)

// DefaultCapacity is the number of pending indications a session can hold
const DefaultCapacity = 16

// MaxPayload is the largest indication payload in bytes
const MaxPayload = 5

var (
	ErrQueueFull      = errors.New("indication queue full")
	ErrQueueEmpty     = errors.New("indication queue empty")
	ErrInvalidPayload = errors.New("invalid payload length")
)

// TransportError reports that the link refused an entry handed over by
// DequeueAndSend
type TransportError struct {
	Capability gatt.Capability
	Err        error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("transport rejected %s indication: %v", e.Capability, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Entry is one pending indication. It is a value type.
type Entry struct {
	Capability gatt.Capability
	Length     uint8
	Payload    [MaxPayload]byte
}

// NewEntry validates the payload length (1..MaxPayload) and copies it
func NewEntry(c gatt.Capability, payload []byte) (Entry, error) {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return Entry{}, fmt.Errorf("%w: %d bytes for %s", ErrInvalidPayload, len(payload), c)
	}
	e := Entry{Capability: c, Length: uint8(len(payload))}
	copy(e.Payload[:], payload)
	return e, nil
}

// Bytes returns a copy of the valid part of the payload
func (e Entry) Bytes() []byte {
	out := make([]byte, e.Length)
	copy(out, e.Payload[:e.Length])
	return out
}

// SendFunc hands an entry to the link. A nil error means the link accepted it.
type SendFunc func(Entry) error

// Queue is the fixed-capacity circular buffer of pending indications.
//
// The queue is empty when the indices are equal and full is false, and full
// when the write index caught up with the read index. It is not safe for
// concurrent use; it belongs to the run loop.
type Queue struct {
	entries []Entry
	read    int
	write   int
	full    bool
	count   int
}

// New creates a queue holding capacity entries
func New(capacity int) *Queue {
	if capacity <= 0 {
		panic("queue: capacity must be > 0")
	}
	return &Queue{entries: make([]Entry, capacity)}
}

// Enqueue appends e, or fails with ErrQueueFull. It never overwrites.
func (q *Queue) Enqueue(e Entry) error {
	if q.full {
		return ErrQueueFull
	}
	q.entries[q.write] = e
	q.write = (q.write + 1) % len(q.entries)
	q.full = q.write == q.read
	q.count++
	return nil
}

// DequeueAndSend passes the oldest entry to send. Only when send accepts it
// does the entry leave the queue; on rejection nothing changes and the error
// is returned wrapped in a TransportError.
func (q *Queue) DequeueAndSend(send SendFunc) error {
	if q.IsEmpty() {
		return ErrQueueEmpty
	}

	e := q.entries[q.read]
	if err := send(e); err != nil {
		return &TransportError{Capability: e.Capability, Err: err}
	}

	q.entries[q.read] = Entry{}
	q.read = (q.read + 1) % len(q.entries)
	q.full = false
	q.count--
	return nil
}

// Peek returns the oldest entry without removing it
func (q *Queue) Peek() (Entry, bool) {
	if q.IsEmpty() {
		return Entry{}, false
	}
	return q.entries[q.read], true
}

// IsEmpty reports whether the queue holds no entries
func (q *Queue) IsEmpty() bool {
	return q.read == q.write && !q.full
}

// IsFull reports whether the next Enqueue would fail
func (q *Queue) IsFull() bool {
	return q.full
}

// Len returns the number of queued entries
func (q *Queue) Len() int {
	return q.count
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return len(q.entries)
}

// Reset empties the queue
func (q *Queue) Reset() {
	for i := range q.entries {
		q.entries[i] = Entry{}
	}
	q.read, q.write, q.full, q.count = 0, 0, false, 0
}
