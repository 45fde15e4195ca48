package catchup

import (
	"context"
	"testing"

	"github.com/nimbusdata/schema-registry/internal/schema/applier"
	"github.com/nimbusdata/schema-registry/internal/schema/codec"
	"github.com/nimbusdata/schema-registry/internal/schema/logclient"
	"github.com/nimbusdata/schema-registry/internal/schema/store"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tp = logclient.TopicPartition{Topic: "_schemas", Partition: 0}

func seedSchema(t *testing.T, client *logclient.MemoryClient, subject string, version, id int, def string) {
	t.Helper()
	rec, err := codec.EncodeSchema(&types.SchemaKey{Seq: 0, Node: "seed", Subject: subject, Version: version},
		&types.SchemaValue{Subject: subject, Version: version, Type: types.Avro, ID: id, Schema: def})
	require.NoError(t, err)
	_, err = client.ProduceRecordBatch(context.Background(), tp, []logclient.Record{{Key: rec.Key, Value: rec.Value}})
	require.NoError(t, err)
}

func TestWaitFor_AppliesFromEmpty(t *testing.T) {
	ctx := context.Background()
	client := logclient.NewMemoryClient()
	seedSchema(t, client, "s1", 1, 1, "D1")
	seedSchema(t, client, "s1", 2, 2, "D2")

	s := store.New(types.Backward)
	c := New(client, tp, applier.New(s), nil, -1)

	require.NoError(t, c.WaitFor(ctx, 1))
	assert.Equal(t, int64(1), c.LoadedOffset())

	versions, err := s.GetVersions("s1", false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)
}

func TestWaitFor_NoOpWhenAlreadyCaughtUp(t *testing.T) {
	ctx := context.Background()
	client := logclient.NewMemoryClient()
	seedSchema(t, client, "s1", 1, 1, "D1")

	s := store.New(types.Backward)
	c := New(client, tp, applier.New(s), nil, -1)

	require.NoError(t, c.WaitFor(ctx, 0))
	require.NoError(t, c.WaitFor(ctx, 0))
	assert.Equal(t, int64(0), c.LoadedOffset())
}

func TestReadSync_CatchesUpToTail(t *testing.T) {
	ctx := context.Background()
	client := logclient.NewMemoryClient()
	seedSchema(t, client, "s1", 1, 1, "D1")
	seedSchema(t, client, "s1", 2, 2, "D2")
	seedSchema(t, client, "s1", 3, 3, "D3")

	s := store.New(types.Backward)
	c := New(client, tp, applier.New(s), nil, -1)

	require.NoError(t, c.ReadSync(ctx))
	assert.Equal(t, int64(2), c.LoadedOffset())

	versions, err := s.GetVersions("s1", false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)
}

func TestAdvanceOffsetInner_BroadcastsAndIsMonotonic(t *testing.T) {
	n := NewNotifier()
	sub := n.Subscribe()

	s := store.New(types.Backward)
	client := logclient.NewMemoryClient()
	c := New(client, tp, applier.New(s), n, -1)

	c.AdvanceOffsetInner(5)
	assert.Equal(t, int64(5), c.LoadedOffset())
	select {
	case offset := <-sub:
		assert.Equal(t, int64(5), offset)
	default:
		t.Fatal("expected a broadcast")
	}

	c.AdvanceOffsetInner(3)
	assert.Equal(t, int64(5), c.LoadedOffset(), "offset must not move backwards")
}

func TestReplicaCatcher_SubscribesToCoordinatorNotifier(t *testing.T) {
	ctx := context.Background()
	client := logclient.NewMemoryClient()
	notifier := NewNotifier()

	coordStore := store.New(types.Backward)
	coord := New(client, tp, applier.New(coordStore), notifier, -1)

	replicaStore := store.New(types.Backward)
	replica := New(client, tp, applier.New(replicaStore), nil, -1)
	sub := notifier.Subscribe()

	seedSchema(t, client, "s1", 1, 1, "D1")
	coord.AdvanceOffsetInner(0)

	offset := <-sub
	require.NoError(t, replica.WaitFor(ctx, offset))

	versions, err := replicaStore.GetVersions("s1", false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
}
