package logclient

import (
	"context"
	"sync"
)

// MemoryClient is a simple in-memory implementation of Client, used in
// tests in place of a real broker. It models a single topic-partition
// log per TopicPartition: produce appends, list_offsets reports the
// log length, and fetch replays a [start, end) slice.
type MemoryClient struct {
	mu   sync.RWMutex
	logs map[TopicPartition][]Record
}

// NewMemoryClient creates an empty in-memory log client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		logs: make(map[TopicPartition][]Record),
	}
}

func (m *MemoryClient) ListOffsets(ctx context.Context, tp TopicPartition) (ListOffsetsResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	end := int64(len(m.logs[tp]))
	return ListOffsetsResult{
		Topics: []TopicOffsets{{
			Topic:      tp.Topic,
			Partitions: []PartitionOffset{{Partition: tp.Partition, Offset: end}},
		}},
	}, nil
}

func (m *MemoryClient) ProduceRecordBatch(ctx context.Context, tp TopicPartition, records []Record) (ProduceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := int64(len(m.logs[tp]))
	for i, r := range records {
		r.Offset = base + int64(i)
		m.logs[tp] = append(m.logs[tp], r)
	}

	return ProduceResult{BaseOffset: base}, nil
}

func (m *MemoryClient) FetchBatchReader(ctx context.Context, tp TopicPartition, start, end int64) (BatchReader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.logs[tp]
	if end > int64(len(log)) {
		end = int64(len(log))
	}
	var slice []Record
	if start < end {
		slice = append(slice, log[start:end]...)
	}
	return &memoryBatchReader{records: slice}, nil
}

// InjectRace appends rec directly to tp's log at the next offset, as a
// produce from another writer would, to simulate a concurrent writer
// landing a record between a caller's list_offsets and produce calls.
func (m *MemoryClient) InjectRace(tp TopicPartition, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Offset = int64(len(m.logs[tp]))
	m.logs[tp] = append(m.logs[tp], rec)
}

type memoryBatchReader struct {
	records []Record
	pos     int
}

func (r *memoryBatchReader) Next(ctx context.Context) (Record, bool, error) {
	if r.pos >= len(r.records) {
		return Record{}, false, nil
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, true, nil
}

func (r *memoryBatchReader) Close() error { return nil }
