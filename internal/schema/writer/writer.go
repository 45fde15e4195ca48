// Package writer implements the Sequenced Writer: the coordinator that
// serializes mutating operations against the internal topic via an
// optimistic produce-and-check loop, and exposes read-sync for callers
// that need read-your-writes consistency.
//
// One Writer exists per process and owns the coordinator's Store
// replica. Every mutating call runs under a single binary write
// permit, so offset prediction (loadedOffset+1) is always correct for
// this process; collisions with other nodes writing to the same
// internal topic are caught by comparing the produced base offset to
// the prediction and resolved by catching up and retrying.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nimbusdata/schema-registry/internal/regerr"
	"github.com/nimbusdata/schema-registry/internal/schema/applier"
	"github.com/nimbusdata/schema-registry/internal/schema/catchup"
	"github.com/nimbusdata/schema-registry/internal/schema/codec"
	"github.com/nimbusdata/schema-registry/internal/schema/logclient"
	"github.com/nimbusdata/schema-registry/internal/schema/store"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
	"golang.org/x/sync/semaphore"
)

// DefaultRetryBudget is the number of offset-collision retries a
// sequenced write tolerates before failing with ErrExhaustedRetries.
const DefaultRetryBudget = 5

// Writer is the coordinator shard's Sequenced Writer.
type Writer struct {
	client logclient.Client
	tp     logclient.TopicPartition
	store  *store.Store
	apply  *applier.Applier
	catch  *catchup.Catcher

	notifier *catchup.Notifier

	writeSem    *semaphore.Weighted
	retryBudget int
	nodeID      types.NodeID
}

// Config configures a new Writer.
type Config struct {
	Client      logclient.Client
	Topic       logclient.TopicPartition
	Store       *store.Store
	NodeID      types.NodeID
	RetryBudget int // 0 means DefaultRetryBudget

	// InitialOffset is the offset cfg.Store's contents already reflect,
	// if it was pre-populated by a replay before New was called (see
	// cmd/schemaregistry's bootstrap). Leave nil for a fresh, empty
	// Store; the Writer's Catcher then starts at -1, as usual. Passing
	// nil for a Store a caller replayed themselves would make the
	// Writer's first CatchUpToTail re-fetch and re-apply the whole
	// topic a second time, double-counting every seq marker.
	InitialOffset *int64
}

// New constructs a coordinator Writer bound to cfg.Store. cfg.Store
// should already be populated by replaying the log from offset 0
// before the Writer is allowed to serve traffic; see cmd/schemaregistry
// for the boot sequence.
func New(cfg Config) *Writer {
	retryBudget := cfg.RetryBudget
	if retryBudget <= 0 {
		retryBudget = DefaultRetryBudget
	}

	initialOffset := int64(-1)
	if cfg.InitialOffset != nil {
		initialOffset = *cfg.InitialOffset
	}

	a := applier.New(cfg.Store)
	notifier := catchup.NewNotifier()

	return &Writer{
		client:      cfg.Client,
		tp:          cfg.Topic,
		store:       cfg.Store,
		apply:       a,
		catch:       catchup.New(cfg.Client, cfg.Topic, a, notifier, initialOffset),
		notifier:    notifier,
		writeSem:    semaphore.NewWeighted(1),
		retryBudget: retryBudget,
		nodeID:      cfg.NodeID,
	}
}

// Notifier exposes the coordinator's offset-advance broadcaster so
// Replica instances on other shards can subscribe to it instead of
// polling.
func (w *Writer) Notifier() *catchup.Notifier { return w.notifier }

// Store returns the coordinator's Store, for read-only accessors that
// have already established the consistency they need via ReadSync.
func (w *Writer) Store() *store.Store { return w.store }

// LoadedOffset returns the coordinator's current loaded offset.
func (w *Writer) LoadedOffset() int64 { return w.catch.LoadedOffset() }

// ReadSync catches the coordinator's Store up to the current tail of
// the internal topic. REST handlers that enumerate state call this
// first to establish read-your-writes.
func (w *Writer) ReadSync(ctx context.Context) error {
	return w.catch.ReadSync(ctx)
}

// AdvanceOffset notifies the writer that a record at offset has been
// observed elsewhere (for example by a catch-up reader on another
// shard). The coordinator reacts by catching its own Store up to at
// least that offset, which is always safe regardless of how the
// record was first observed.
func (w *Writer) AdvanceOffset(ctx context.Context, offset int64) error {
	return w.catch.WaitFor(ctx, offset)
}

// writeStep is the outcome of one op-specific closure invocation
// within the sequencing loop.
type writeStep[T any] struct {
	// NoOp, when true, means the operation is already satisfied by the
	// current Store state; Result is returned without producing a
	// record.
	NoOp   bool
	Result T

	Key   *types.RecordKey
	Value *types.RecordValue
}

// sequencedWrite runs the optimistic produce-and-check loop described
// in the design: catch up to the tail, predict the next offset, let
// step project the Store and build the record to produce, compare the
// produced base offset to the prediction, and retry on mismatch up to
// the configured retry budget.
func sequencedWrite[T any](ctx context.Context, w *Writer, step func(writeAt int64) (writeStep[T], error)) (T, error) {
	var zero T

	if err := w.writeSem.Acquire(ctx, 1); err != nil {
		return zero, wrapAborted(err)
	}
	defer w.writeSem.Release(1)

	if _, err := w.catch.CatchUpToTail(ctx); err != nil {
		return zero, err
	}

	for attempt := 0; ; attempt++ {
		writeAt := w.catch.LoadedOffset() + 1

		result, err := step(writeAt)
		if err != nil {
			return zero, err
		}
		if result.NoOp {
			return result.Result, nil
		}

		rec, err := encodeRecord(result.Key, result.Value)
		if err != nil {
			return zero, err
		}

		produced, err := w.client.ProduceRecordBatch(ctx, w.tp, []logclient.Record{{Key: rec.Key, Value: rec.Value}})
		if err != nil {
			return zero, fmt.Errorf("%w: produce: %v", regerr.ErrBackendError, err)
		}
		if produced.ErrorCode != logclient.ErrCodeNone {
			return zero, fmt.Errorf("%w: produce error code %d: %s", regerr.ErrBackendError, produced.ErrorCode, produced.ErrorMessage)
		}

		if produced.BaseOffset == writeAt {
			if err := w.catch.ApplyLocal(logclient.Record{Offset: produced.BaseOffset, Key: rec.Key, Value: rec.Value}); err != nil {
				return zero, fmt.Errorf("writer: apply own write: %w", err)
			}
			return result.Result, nil
		}

		// Another writer landed a record at writeAt first. Catch up to
		// the new tail — this may make the request a no-op on retry —
		// and try again, bounded by the retry budget.
		if attempt >= w.retryBudget {
			return zero, fmt.Errorf("%w: after %d attempts", regerr.ErrExhaustedRetries, attempt+1)
		}
		if _, err := w.catch.CatchUpToTail(ctx); err != nil {
			return zero, err
		}
	}
}

func encodeRecord(key *types.RecordKey, value *types.RecordValue) (codec.Record, error) {
	switch key.Type {
	case types.KeySchema:
		return codec.EncodeSchema(key.Schema, schemaValueOrNil(value))
	case types.KeyConfig:
		return codec.EncodeConfig(key.Config, configValueOrNil(value))
	case types.KeyDeleteSubject:
		return codec.EncodeDeleteSubject(key.DeleteSubject, deleteSubjectValueOrNil(value))
	default:
		return codec.Record{}, fmt.Errorf("writer: unknown key type %q", key.Type)
	}
}

func schemaValueOrNil(v *types.RecordValue) *types.SchemaValue {
	if v == nil {
		return nil
	}
	return v.Schema
}

func configValueOrNil(v *types.RecordValue) *types.ConfigValue {
	if v == nil {
		return nil
	}
	return v.Config
}

func deleteSubjectValueOrNil(v *types.RecordValue) *types.DeleteSubjectValue {
	if v == nil {
		return nil
	}
	return v.DeleteSubject
}

// WriteSubjectVersion registers definition under subject, or returns
// the existing schema ID if this exact (definition, type) triple is
// already known for subject.
func (w *Writer) WriteSubjectVersion(ctx context.Context, subject, definition string, schemaType types.SchemaType) (int, error) {
	return sequencedWrite(ctx, w, func(writeAt int64) (writeStep[int], error) {
		proj, err := w.store.ProjectIDs(subject, definition, schemaType)
		if err != nil {
			return writeStep[int]{}, err
		}
		if !proj.Inserted {
			return writeStep[int]{NoOp: true, Result: proj.ID}, nil
		}

		key := &types.SchemaKey{Seq: writeAt, Node: w.nodeID, Subject: subject, Version: proj.Version}
		value := &types.SchemaValue{Subject: subject, Version: proj.Version, Type: schemaType, ID: proj.ID, Schema: definition}

		return writeStep[int]{
			Result: proj.ID,
			Key:    &types.RecordKey{Type: types.KeySchema, Schema: key},
			Value:  &types.RecordValue{Type: types.KeySchema, Schema: value},
		}, nil
	})
}

// wrapAborted reclassifies a context error observed at a suspension
// point as ErrAborted, leaving other errors untouched.
func wrapAborted(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", regerr.ErrAborted, err)
	}
	return err
}

// WriteConfig sets the compatibility level for subject, or globally if
// subject is empty. It returns false without producing a record if the
// level has already been explicitly set to the requested value.
// Deliberately does not use GetCompatibility's read-path fallback to
// the configured default here: on a fresh Store the very first
// WriteConfig(subject, defaultCompat) must still write a record, even
// though GetCompatibility would already report defaultCompat.
func (w *Writer) WriteConfig(ctx context.Context, subject string, level types.CompatibilityLevel) (bool, error) {
	return sequencedWrite(ctx, w, func(writeAt int64) (writeStep[bool], error) {
		if w.store.CompatibilityIsSet(subject) && w.store.GetCompatibility(subject) == level {
			return writeStep[bool]{NoOp: true, Result: false}, nil
		}

		key := &types.ConfigKey{Seq: writeAt, Node: w.nodeID, Subject: subject}
		value := &types.ConfigValue{Compatibility: level}

		return writeStep[bool]{
			Result: true,
			Key:    &types.RecordKey{Type: types.KeyConfig, Config: key},
			Value:  &types.RecordValue{Type: types.KeyConfig, Config: value},
		}, nil
	})
}

// DeleteSubjectVersion soft-deletes one version of subject, rewriting
// its schema record with deleted=true. Unlike the other ops this
// always produces a record, even if the version is already deleted.
func (w *Writer) DeleteSubjectVersion(ctx context.Context, subject string, version int) (bool, error) {
	return sequencedWrite(ctx, w, func(writeAt int64) (writeStep[bool], error) {
		existing, err := w.store.GetSubjectSchema(subject, version, true)
		if err != nil {
			return writeStep[bool]{}, err
		}

		key := &types.SchemaKey{Seq: writeAt, Node: w.nodeID, Subject: subject, Version: version}
		value := &types.SchemaValue{
			Subject: subject,
			Version: version,
			Type:    existing.Type,
			ID:      existing.ID,
			Schema:  existing.Definition,
			Deleted: true,
		}

		return writeStep[bool]{
			Result: true,
			Key:    &types.RecordKey{Type: types.KeySchema, Schema: key},
			Value:  &types.RecordValue{Type: types.KeySchema, Schema: value},
		}, nil
	})
}

// DeleteSubjectImpermanent soft-deletes every version of subject. It is
// idempotent: once the subject is marked deleted, it returns the
// current version list without writing again.
func (w *Writer) DeleteSubjectImpermanent(ctx context.Context, subject string) ([]int, error) {
	return sequencedWrite(ctx, w, func(writeAt int64) (writeStep[[]int], error) {
		versions, err := w.store.GetVersions(subject, true)
		if err != nil {
			return writeStep[[]int]{}, err
		}
		if w.store.IsSubjectDeleted(subject) {
			return writeStep[[]int]{NoOp: true, Result: versions}, nil
		}

		lastVersion := versions[len(versions)-1]
		key := &types.DeleteSubjectKey{Seq: writeAt, Node: w.nodeID, Subject: subject}
		value := &types.DeleteSubjectValue{Subject: subject, Version: lastVersion}

		return writeStep[[]int]{
			Result: versions,
			Key:    &types.RecordKey{Type: types.KeyDeleteSubject, DeleteSubject: key},
			Value:  &types.RecordValue{Type: types.KeyDeleteSubject, DeleteSubject: value},
		}, nil
	})
}

// DeleteSubjectPermanent tombstones the log records backing subject
// (or just one version, if version is non-nil), bypassing the
// sequencing loop entirely: tombstones are idempotent and
// order-insensitive, so no offset prediction is needed. It still takes
// the write permit, for mutual exclusion with in-flight sequenced
// writes.
//
// Deviating deliberately from the source this design is grounded on,
// which returns an empty list here despite building the tombstoned key
// set: this returns the actual versions tombstoned.
func (w *Writer) DeleteSubjectPermanent(ctx context.Context, subject string, version *int) ([]int, error) {
	if err := w.writeSem.Acquire(ctx, 1); err != nil {
		return nil, wrapAborted(err)
	}
	defer w.writeSem.Release(1)

	var markers []types.SeqMarker
	var err error
	if version != nil {
		markers, err = w.store.GetSubjectVersionWrittenAt(subject, *version)
	} else {
		markers, err = w.store.GetSubjectWrittenAt(subject)
	}
	if err != nil {
		return nil, err
	}
	if len(markers) == 0 {
		return nil, fmt.Errorf("subject %q: %w", subject, regerr.ErrNotFound)
	}

	records := make([]logclient.Record, len(markers))
	versionSet := map[int]struct{}{}
	for i, marker := range markers {
		key := tombstoneKey(subject, marker)
		keyBytes, err := codec.EncodeKeyOnly(key)
		if err != nil {
			return nil, err
		}
		records[i] = logclient.Record{Key: keyBytes, Value: nil}
		if marker.KeyType == types.KeySchema {
			versionSet[marker.Version] = struct{}{}
		}
	}

	produced, err := w.client.ProduceRecordBatch(ctx, w.tp, records)
	if err != nil {
		return nil, fmt.Errorf("%w: produce tombstone batch: %v", regerr.ErrBackendError, err)
	}
	if produced.ErrorCode != logclient.ErrCodeNone {
		return nil, fmt.Errorf("%w: tombstone batch error code %d: %s", regerr.ErrBackendError, produced.ErrorCode, produced.ErrorMessage)
	}

	for i, rec := range records {
		rec.Offset = produced.BaseOffset + int64(i)
		if err := w.catch.ApplyLocal(rec); err != nil {
			return nil, fmt.Errorf("writer: apply tombstone at offset %d: %w", rec.Offset, err)
		}
	}

	versions := make([]int, 0, len(versionSet))
	for v := range versionSet {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

func tombstoneKey(subject string, marker types.SeqMarker) types.RecordKey {
	switch marker.KeyType {
	case types.KeySchema:
		return types.RecordKey{Type: types.KeySchema, Schema: &types.SchemaKey{
			Seq: marker.Offset, Node: marker.Node, Subject: subject, Version: marker.Version,
		}}
	case types.KeyConfig:
		return types.RecordKey{Type: types.KeyConfig, Config: &types.ConfigKey{
			Seq: marker.Offset, Node: marker.Node, Subject: subject,
		}}
	case types.KeyDeleteSubject:
		return types.RecordKey{Type: types.KeyDeleteSubject, DeleteSubject: &types.DeleteSubjectKey{
			Seq: marker.Offset, Node: marker.Node, Subject: subject,
		}}
	default:
		return types.RecordKey{}
	}
}
