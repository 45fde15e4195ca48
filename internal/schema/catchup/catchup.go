// Package catchup implements the shared "catch this Store replica up
// to a target offset" algorithm (wait_for / read_sync / advance_offset
// in the source). Both the coordinator Writer and every read-only
// Replica embed a Catcher bound to their own Store; the algorithm
// itself does not care which one is driving it.
package catchup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nimbusdata/schema-registry/internal/regerr"
	"github.com/nimbusdata/schema-registry/internal/schema/applier"
	"github.com/nimbusdata/schema-registry/internal/schema/codec"
	"github.com/nimbusdata/schema-registry/internal/schema/logclient"
	"golang.org/x/sync/semaphore"
)

// Catcher owns one Store replica's loaded-offset bookkeeping and the
// wait permit that serializes catch-up fetches against it.
type Catcher struct {
	client logclient.Client
	tp     logclient.TopicPartition
	apply  *applier.Applier

	waitSem *semaphore.Weighted

	mu           sync.Mutex
	loadedOffset int64 // -1 means nothing applied yet

	notifier *Notifier
}

// New binds a Catcher to a log client/topic-partition and the Applier
// it feeds. notifier may be nil; pass the coordinator's Notifier when
// constructing a Replica's Catcher so it can react to remote writes
// without polling. initialOffset seeds loadedOffset: pass -1 for a
// Store that starts empty, or the offset a prior replay already
// brought the Store's contents up to, so this Catcher does not
// re-fetch and re-apply history the Store already reflects.
func New(client logclient.Client, tp logclient.TopicPartition, a *applier.Applier, notifier *Notifier, initialOffset int64) *Catcher {
	return &Catcher{
		client:       client,
		tp:           tp,
		apply:        a,
		waitSem:      semaphore.NewWeighted(1),
		loadedOffset: initialOffset,
		notifier:     notifier,
	}
}

// LoadedOffset returns the highest offset applied so far, or -1 if
// nothing has been applied yet.
func (c *Catcher) LoadedOffset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadedOffset
}

// CatchUpToTail lists the internal topic's current end offset and
// waits for everything up to it.
func (c *Catcher) CatchUpToTail(ctx context.Context) (int64, error) {
	result, err := c.client.ListOffsets(ctx, c.tp)
	if err != nil {
		return 0, fmt.Errorf("catchup: list offsets: %w", err)
	}
	tail, err := singlePartitionOffset(result, c.tp)
	if err != nil {
		return 0, err
	}
	if err := c.WaitFor(ctx, tail-1); err != nil {
		return 0, err
	}
	return tail, nil
}

// ReadSync establishes read-your-writes: it asks the Log Client for
// the internal topic's end offset and waits for everything up to it.
func (c *Catcher) ReadSync(ctx context.Context) error {
	_, err := c.CatchUpToTail(ctx)
	return err
}

// WaitFor blocks until offset has been applied to the Store, fetching
// and applying [loadedOffset+1, offset+1) from the log if necessary.
// It runs under the wait permit, independent of any write permit the
// caller may also hold, so a slow catch-up never blocks unrelated
// readers of the local store.
func (c *Catcher) WaitFor(ctx context.Context, offset int64) error {
	if offset < 0 {
		return nil
	}
	if err := c.waitSem.Acquire(ctx, 1); err != nil {
		return wrapAborted(err)
	}
	defer c.waitSem.Release(1)

	if offset <= c.LoadedOffset() {
		return nil
	}

	start := c.LoadedOffset() + 1
	reader, err := c.client.FetchBatchReader(ctx, c.tp, start, offset+1)
	if err != nil {
		return fmt.Errorf("catchup: fetch batch reader: %w", err)
	}
	defer reader.Close()

	for {
		rec, ok, err := reader.Next(ctx)
		if err != nil {
			return fmt.Errorf("catchup: read record: %w", err)
		}
		if !ok {
			break
		}
		if err := c.applyRecord(rec); err != nil {
			return fmt.Errorf("catchup: apply record at offset %d: %w", rec.Offset, err)
		}
	}
	return nil
}

func (c *Catcher) applyRecord(rec logclient.Record) error {
	key, err := codec.DecodeKey(rec.Key)
	if err != nil {
		return err
	}
	value, err := codec.DecodeValue(rec.Value)
	if err != nil {
		return err
	}
	if err := c.apply.Apply(rec.Offset, key, value); err != nil {
		return err
	}
	c.AdvanceOffsetInner(rec.Offset)
	return nil
}

// AdvanceOffsetInner advances loadedOffset monotonically and, if this
// Catcher has a Notifier, broadcasts the new offset to subscribers.
// It is exported so a coordinator Writer can record the offset of a
// record it produced directly, without re-fetching it.
func (c *Catcher) AdvanceOffsetInner(offset int64) {
	c.mu.Lock()
	advanced := offset > c.loadedOffset
	if advanced {
		c.loadedOffset = offset
	}
	c.mu.Unlock()

	if advanced && c.notifier != nil {
		c.notifier.Broadcast(offset)
	}
}

// ApplyLocal decodes and applies a record this Catcher's owner just
// produced itself, without re-fetching it. It takes the wait permit so
// it never interleaves with a concurrent WaitFor (such as a REST
// handler's ReadSync), and skips a record such a WaitFor already
// applied.
func (c *Catcher) ApplyLocal(rec logclient.Record) error {
	if err := c.waitSem.Acquire(context.Background(), 1); err != nil {
		return wrapAborted(err)
	}
	defer c.waitSem.Release(1)

	if rec.Offset <= c.LoadedOffset() {
		return nil
	}
	return c.applyRecord(rec)
}

func singlePartitionOffset(result logclient.ListOffsetsResult, tp logclient.TopicPartition) (int64, error) {
	if len(result.Topics) != 1 || result.Topics[0].Topic != tp.Topic {
		return 0, fmt.Errorf("%w: list_offsets returned %d topics, expected 1", regerr.ErrUnknownTopicOrPartition, len(result.Topics))
	}
	partitions := result.Topics[0].Partitions
	if len(partitions) != 1 || partitions[0].Partition != tp.Partition {
		return 0, fmt.Errorf("%w: list_offsets returned %d partitions, expected 1", regerr.ErrUnknownTopicOrPartition, len(partitions))
	}
	if partitions[0].ErrorCode != logclient.ErrCodeNone {
		return 0, fmt.Errorf("%w: list_offsets partition error code %d", regerr.ErrBackendError, partitions[0].ErrorCode)
	}
	return partitions[0].Offset, nil
}

// wrapAborted reclassifies a context error observed at a suspension
// point as ErrAborted, leaving other errors untouched.
func wrapAborted(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", regerr.ErrAborted, err)
	}
	return err
}

// Notifier fans out "loaded offset advanced" events from the
// coordinator's Catcher to any number of Replica Catchers, per the
// Replica Sync concern. It never blocks the broadcaster: subscribers
// with a full buffer miss intermediate offsets, which is harmless
// since the next one they do see is itself a watermark.
type Notifier struct {
	mu   sync.Mutex
	subs []chan int64
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers a new listener and returns its channel.
func (n *Notifier) Subscribe() <-chan int64 {
	ch := make(chan int64, 1)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

// Broadcast sends offset to every subscriber, dropping it for any
// subscriber whose buffer is already full.
func (n *Notifier) Broadcast(offset int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- offset:
		default:
		}
	}
}
