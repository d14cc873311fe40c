package event

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// JournalEntry is one routed event as seen by the run loop
type JournalEntry struct {
	Seq   uint64    `json:"seq"`
	At    time.Time `json:"at"`
	Event string    `json:"event"`
}

// Journal keeps the most recent routed events. Once full, the oldest entries
// are overwritten.
type Journal struct {
	buffer      mpmc.RichOverlappedRingBuffer[JournalEntry]
	seq         atomic.Uint64
	overwritten atomic.Uint64
}

// NewJournal creates a journal holding at least size entries
func NewJournal(size uint32) (*Journal, error) {
	if size == 0 {
		return nil, fmt.Errorf("journal size must be > 0")
	}
	return &Journal{buffer: mpmc.NewOverlappedRingBuffer[JournalEntry](size)}, nil
}

// Record appends e to the journal
func (j *Journal) Record(e Event) {
	entry := JournalEntry{
		Seq:   j.seq.Add(1),
		At:    time.Now(),
		Event: e.String(),
	}
	if overwrites, err := j.buffer.EnqueueM(entry); err == nil {
		j.overwritten.Add(uint64(overwrites))
	}
}

// Drain removes and returns the buffered entries, oldest first
func (j *Journal) Drain() []JournalEntry {
	var out []JournalEntry
	for !j.buffer.IsEmpty() {
		entry, err := j.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, entry)
	}
	return out
}

// Recorded returns the total number of recorded events
func (j *Journal) Recorded() uint64 {
	return j.seq.Load()
}

// Overwritten returns how many entries were lost to overflow
func (j *Journal) Overwritten() uint64 {
	return j.overwritten.Load()
}
