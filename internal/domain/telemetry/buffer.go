package telemetry

import (
	"github.com/okian/fieldpresence/internal/domain/model"
)

// DefaultCapacity bounds the buffer during sustained upload outages.
const DefaultCapacity = 1000

// Buffer is an ordered, bounded queue of telemetry records. When full, the
// oldest records are dropped. It is not safe for concurrent use.
type Buffer struct {
	records  []model.TelemetryRecord
	capacity int
	dropped  uint64
}

// NewBuffer creates a buffer holding at most capacity records. A
// non-positive capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		records:  make([]model.TelemetryRecord, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a record at the tail and returns how many old records were
// dropped to make room.
func (b *Buffer) Append(rec model.TelemetryRecord) int {
	n := 0
	if len(b.records) >= b.capacity {
		n = len(b.records) - b.capacity + 1
		b.records = append(b.records[:0], b.records[n:]...)
	}
	b.records = append(b.records, rec)
	b.dropped += uint64(n)
	return n
}

// Drain removes and returns every buffered record in order.
func (b *Buffer) Drain() []model.TelemetryRecord {
	if len(b.records) == 0 {
		return nil
	}
	out := make([]model.TelemetryRecord, len(b.records))
	copy(out, b.records)
	b.records = b.records[:0]
	return out
}

// Requeue puts a failed batch back in front of whatever was appended
// since it was drained. Oldest records beyond capacity are dropped; the
// number dropped is returned.
func (b *Buffer) Requeue(batch []model.TelemetryRecord) int {
	if len(batch) == 0 {
		return 0
	}
	merged := make([]model.TelemetryRecord, 0, len(batch)+len(b.records))
	merged = append(merged, batch...)
	merged = append(merged, b.records...)

	n := 0
	if len(merged) > b.capacity {
		n = len(merged) - b.capacity
		merged = merged[n:]
	}
	b.records = append(b.records[:0], merged...)
	b.dropped += uint64(n)
	return n
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int { return len(b.records) }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Dropped returns the total number of records discarded for space.
func (b *Buffer) Dropped() uint64 { return b.dropped }
