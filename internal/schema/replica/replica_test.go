package replica

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusdata/schema-registry/internal/schema/catchup"
	"github.com/nimbusdata/schema-registry/internal/schema/codec"
	"github.com/nimbusdata/schema-registry/internal/schema/logclient"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tp = logclient.TopicPartition{Topic: "_schemas", Partition: 0}

func TestReplica_ReadSyncCatchesUpFromScratch(t *testing.T) {
	ctx := context.Background()
	client := logclient.NewMemoryClient()

	rec, err := codec.EncodeSchema(&types.SchemaKey{Seq: 0, Node: "n1", Subject: "s1", Version: 1},
		&types.SchemaValue{Subject: "s1", Version: 1, Type: types.Avro, ID: 1, Schema: "D1"})
	require.NoError(t, err)
	_, err = client.ProduceRecordBatch(ctx, tp, []logclient.Record{{Key: rec.Key, Value: rec.Value}})
	require.NoError(t, err)

	r := New(client, tp, types.Backward, nil, nil)
	require.NoError(t, r.ReadSync(ctx))

	versions, err := r.Store().GetVersions("s1", false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
}

func TestReplica_LazilyFollowsCoordinatorBroadcast(t *testing.T) {
	ctx := context.Background()
	client := logclient.NewMemoryClient()
	notifier := catchup.NewNotifier()

	rec, err := codec.EncodeSchema(&types.SchemaKey{Seq: 0, Node: "n1", Subject: "s1", Version: 1},
		&types.SchemaValue{Subject: "s1", Version: 1, Type: types.Avro, ID: 1, Schema: "D1"})
	require.NoError(t, err)
	_, err = client.ProduceRecordBatch(ctx, tp, []logclient.Record{{Key: rec.Key, Value: rec.Value}})
	require.NoError(t, err)

	r := New(client, tp, types.Backward, notifier, nil)
	notifier.Broadcast(0)

	require.Eventually(t, func() bool {
		versions, err := r.Store().GetVersions("s1", false)
		return err == nil && len(versions) == 1
	}, time.Second, 5*time.Millisecond)
}
