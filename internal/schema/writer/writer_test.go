package writer

import (
	"context"
	"errors"
	"testing"

	"github.com/nimbusdata/schema-registry/internal/regerr"
	"github.com/nimbusdata/schema-registry/internal/schema/codec"
	"github.com/nimbusdata/schema-registry/internal/schema/logclient"
	"github.com/nimbusdata/schema-registry/internal/schema/store"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tp = logclient.TopicPartition{Topic: "_schemas", Partition: 0}

func newTestWriter() (*Writer, *logclient.MemoryClient) {
	client := logclient.NewMemoryClient()
	s := store.New(types.Backward)
	w := New(Config{Client: client, Topic: tp, Store: s, NodeID: "n1"})
	return w, client
}

func TestWriteSubjectVersion_FirstRegistrationWritesOneRecord(t *testing.T) {
	ctx := context.Background()
	w, client := newTestWriter()

	id, err := w.WriteSubjectVersion(ctx, "s1", "D1", types.Avro)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	offs, err := client.ListOffsets(ctx, tp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), offs.Topics[0].Partitions[0].Offset)

	versions, err := w.store.GetVersions("s1", false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
}

func TestWriteSubjectVersion_IdenticalTripleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	w, client := newTestWriter()

	id1, err := w.WriteSubjectVersion(ctx, "s1", "D1", types.Avro)
	require.NoError(t, err)
	id2, err := w.WriteSubjectVersion(ctx, "s1", "D1", types.Avro)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	offs, err := client.ListOffsets(ctx, tp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), offs.Topics[0].Partitions[0].Offset, "the second identical registration must not produce a record")
}

func TestWriteSubjectVersion_SoftDeletedVersionHiddenByDefault(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter()

	_, err := w.WriteSubjectVersion(ctx, "s1", "D1", types.Avro)
	require.NoError(t, err)
	_, err = w.WriteSubjectVersion(ctx, "s1", "D2", types.Avro)
	require.NoError(t, err)
	_, err = w.DeleteSubjectVersion(ctx, "s1", 1)
	require.NoError(t, err)

	versions, err := w.store.GetVersions("s1", false)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, versions)
	all, err := w.store.GetVersions("s1", true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, all)
}

func TestWriteConfig_SecondIdenticalCallIsNoOp(t *testing.T) {
	ctx := context.Background()
	w, client := newTestWriter()

	wrote, err := w.WriteConfig(ctx, "", types.Backward)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = w.WriteConfig(ctx, "", types.Backward)
	require.NoError(t, err)
	assert.False(t, wrote)

	offs, err := client.ListOffsets(ctx, tp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), offs.Topics[0].Partitions[0].Offset)
}

func TestSequencingScenario_VersionsAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter()

	_, err := w.WriteSubjectVersion(ctx, "s1", "D1", types.Avro)
	require.NoError(t, err)
	_, err = w.WriteSubjectVersion(ctx, "s1", "D2", types.Avro)
	require.NoError(t, err)
	_, err = w.DeleteSubjectVersion(ctx, "s1", 1)
	require.NoError(t, err)

	visible, err := w.store.GetVersions("s1", false)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, visible)

	all, err := w.store.GetVersions("s1", true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, all)
}

func TestDeleteSubjectPermanent_EndsWithThreeTombstonesAndEmptyReplay(t *testing.T) {
	ctx := context.Background()
	w, client := newTestWriter()

	_, err := w.WriteSubjectVersion(ctx, "s1", "D1", types.Avro)
	require.NoError(t, err)
	_, err = w.WriteConfig(ctx, "s1", types.Full)
	require.NoError(t, err)
	_, err = w.DeleteSubjectImpermanent(ctx, "s1")
	require.NoError(t, err)

	versions, err := w.DeleteSubjectPermanent(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions, "permanent delete should report the versions it tombstoned, not an empty list")

	reader, err := client.FetchBatchReader(ctx, tp, 0, 10)
	require.NoError(t, err)
	defer reader.Close()

	var tombstones int
	for {
		rec, ok, err := reader.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		if rec.Value == nil {
			tombstones++
		}
	}
	assert.Equal(t, 3, tombstones)

	replayStore := store.New(types.Backward)
	replayClient := client
	replayed := replayAll(t, ctx, replayClient, replayStore)
	require.NoError(t, replayed)

	_, err = replayStore.GetVersions("s1", true)
	assert.True(t, errors.Is(err, regerr.ErrNotFound))
}

func replayAll(t *testing.T, ctx context.Context, client *logclient.MemoryClient, s *store.Store) error {
	t.Helper()
	offs, err := client.ListOffsets(ctx, tp)
	require.NoError(t, err)
	end := offs.Topics[0].Partitions[0].Offset
	if end == 0 {
		return nil
	}
	reader, err := client.FetchBatchReader(ctx, tp, 0, end)
	require.NoError(t, err)
	defer reader.Close()

	for {
		rec, ok, err := reader.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		key, err := codec.DecodeKey(rec.Key)
		if err != nil {
			return err
		}
		value, err := codec.DecodeValue(rec.Value)
		if err != nil {
			return err
		}
		s.RecordMarker(key.Subject(), key.Marker(rec.Offset))
		switch key.Type {
		case types.KeySchema:
			if value == nil {
				s.RemoveSchemaVersion(key.Schema.Subject, key.Schema.Version)
			} else {
				sv := value.Schema
				s.UpsertSchemaVersion(sv.Subject, sv.Version, sv.ID, sv.Type, sv.Schema, sv.Deleted)
			}
		case types.KeyConfig:
			if value == nil {
				if key.Config.Subject == "" {
					s.ClearGlobalCompatibility()
				} else {
					s.ClearCompatibility(key.Config.Subject)
				}
			} else {
				s.SetCompatibility(key.Config.Subject, value.Config.Compatibility)
			}
		case types.KeyDeleteSubject:
			if value == nil {
				s.ClearSubjectDeleted(key.DeleteSubject.Subject)
			} else {
				s.SetSubjectDeleted(key.DeleteSubject.Subject, value.DeleteSubject.Version)
			}
		}
	}
	return nil
}

func TestSimulatedRace_CatchUpMakesWriteNoOp(t *testing.T) {
	ctx := context.Background()
	client := logclient.NewMemoryClient()
	s := store.New(types.Backward)
	w := New(Config{Client: client, Topic: tp, Store: s, NodeID: "n1"})

	rec, err := codec.EncodeSchema(&types.SchemaKey{Seq: 0, Node: "racer", Subject: "s1", Version: 1},
		&types.SchemaValue{Subject: "s1", Version: 1, Type: types.Avro, ID: 1, Schema: "D1"})
	require.NoError(t, err)
	client.InjectRace(tp, logclient.Record{Key: rec.Key, Value: rec.Value})

	id, err := w.WriteSubjectVersion(ctx, "s1", "D1", types.Avro)
	require.NoError(t, err)
	assert.Equal(t, 1, id, "catching up to the tail should discover the racer's record satisfies the request as a no-op")

	offs, err := client.ListOffsets(ctx, tp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), offs.Topics[0].Partitions[0].Offset, "only the racer's record should have been produced")
}

func TestDeleteSubjectImpermanent_IdempotentAfterDeletion(t *testing.T) {
	ctx := context.Background()
	w, client := newTestWriter()

	_, err := w.WriteSubjectVersion(ctx, "s1", "D1", types.Avro)
	require.NoError(t, err)

	versions1, err := w.DeleteSubjectImpermanent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions1)

	versions2, err := w.DeleteSubjectImpermanent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, versions1, versions2)

	offs, err := client.ListOffsets(ctx, tp)
	require.NoError(t, err)
	assert.Equal(t, int64(2), offs.Topics[0].Partitions[0].Offset, "the second call must be a no-op")
}

// racingClient injects a fresh conflicting record from another node
// before every produce attempt, simulating a persistent competitor
// that always wins the race, so the writer's retry budget is
// exercised deterministically instead of relying on timing.
type racingClient struct {
	*logclient.MemoryClient
	tp        logclient.TopicPartition
	remaining int
}

func (r *racingClient) ProduceRecordBatch(ctx context.Context, tp logclient.TopicPartition, records []logclient.Record) (logclient.ProduceResult, error) {
	if r.remaining > 0 {
		r.remaining--
		rec, err := codec.EncodeConfig(&types.ConfigKey{Seq: 0, Node: "racer", Subject: "racer-subject"},
			&types.ConfigValue{Compatibility: types.Full})
		if err != nil {
			return logclient.ProduceResult{}, err
		}
		r.InjectRace(tp, logclient.Record{Key: rec.Key, Value: rec.Value})
	}
	return r.MemoryClient.ProduceRecordBatch(ctx, tp, records)
}

func TestWriteSubjectVersion_CompatibilityViolationWritesNothing(t *testing.T) {
	ctx := context.Background()
	w, client := newTestWriter()

	_, err := w.WriteSubjectVersion(ctx, "s1", `{"type":"record","name":"User","fields":[{"name":"name","type":"string"}]}`, types.Avro)
	require.NoError(t, err)
	_, err = w.WriteConfig(ctx, "s1", types.Full)
	require.NoError(t, err)

	offsBefore, err := client.ListOffsets(ctx, tp)
	require.NoError(t, err)

	_, err = w.WriteSubjectVersion(ctx, "s1", `{"type":"record","name":"User","fields":[{"name":"email","type":"string"}]}`, types.Avro)
	require.Error(t, err)
	assert.True(t, errors.Is(err, regerr.ErrCompatibilityViolation))

	offsAfter, err := client.ListOffsets(ctx, tp)
	require.NoError(t, err)
	assert.Equal(t, offsBefore.Topics[0].Partitions[0].Offset, offsAfter.Topics[0].Partitions[0].Offset,
		"a rejected registration must not produce a record")
}

func TestExhaustedRetries(t *testing.T) {
	ctx := context.Background()
	client := &racingClient{MemoryClient: logclient.NewMemoryClient(), tp: tp, remaining: 10}
	s := store.New(types.Backward)
	s.UpsertSchemaVersion("s1", 1, 1, types.Avro, "D1", false)
	w := New(Config{Client: client, Topic: tp, Store: s, NodeID: "n1", RetryBudget: 2})

	// DeleteSubjectVersion always produces a record, so replaying the
	// writer's own out-of-place record never turns a retry into a no-op.
	_, err := w.DeleteSubjectVersion(ctx, "s1", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, regerr.ErrExhaustedRetries))
}
