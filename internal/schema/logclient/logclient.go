// Package logclient defines the Log Client interface the Sequenced
// Writer depends on (C1 in the design) and the types that flow across
// it. The interface mirrors the three Kafka protocol calls the writer
// needs: list_offsets, produce_record_batch, and a fetch batch reader.
package logclient

import "context"

// TopicPartition identifies a single-partition topic, as the internal
// topic always is.
type TopicPartition struct {
	Topic     string
	Partition int
}

// ErrorCode mirrors the Kafka wire protocol's per-partition error code.
// ErrCodeNone is success.
type ErrorCode int16

const ErrCodeNone ErrorCode = 0

// PartitionOffset is one partition's entry in a ListOffsets response.
type PartitionOffset struct {
	Partition int
	Offset    int64
	ErrorCode ErrorCode
}

// TopicOffsets is one topic's entry in a ListOffsets response.
type TopicOffsets struct {
	Topic      string
	Partitions []PartitionOffset
}

// ListOffsetsResult is the response shape from list_offsets, matching
// the nested topics/partitions structure the writer's read_sync
// validates (exactly one topic, exactly one partition).
type ListOffsetsResult struct {
	Topics []TopicOffsets
}

// ProduceResult is the response from produce_record_batch.
type ProduceResult struct {
	BaseOffset   int64
	ErrorCode    ErrorCode
	ErrorMessage string
}

// Record is a single key/value pair read from, or about to be written
// to, the internal topic. A nil Value is a tombstone.
type Record struct {
	Offset int64
	Key    []byte
	Value  []byte
}

// BatchReader streams records from a fetch range in strictly increasing
// offset order.
type BatchReader interface {
	// Next returns the next record, or ok=false once the requested range
	// is exhausted.
	Next(ctx context.Context) (rec Record, ok bool, err error)
	Close() error
}

// Client is the Log Client interface the Sequenced Writer depends on.
// Implementations must be safe for concurrent use across workers.
type Client interface {
	// ListOffsets returns the current end offset of tp.
	ListOffsets(ctx context.Context, tp TopicPartition) (ListOffsetsResult, error)

	// ProduceRecordBatch appends records to tp as a single batch and
	// reports the base offset the batch landed at.
	ProduceRecordBatch(ctx context.Context, tp TopicPartition, records []Record) (ProduceResult, error)

	// FetchBatchReader returns a reader over [start, end) on tp.
	FetchBatchReader(ctx context.Context, tp TopicPartition, start, end int64) (BatchReader, error)
}
