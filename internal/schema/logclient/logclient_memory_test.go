package logclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient_ProduceAndFetch(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	tp := TopicPartition{Topic: "_schemas", Partition: 0}

	res, err := c.ProduceRecordBatch(ctx, tp, []Record{{Key: []byte("k1"), Value: []byte("v1")}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.BaseOffset)

	res, err = c.ProduceRecordBatch(ctx, tp, []Record{{Key: []byte("k2"), Value: []byte("v2")}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.BaseOffset)

	offs, err := c.ListOffsets(ctx, tp)
	require.NoError(t, err)
	require.Len(t, offs.Topics, 1)
	require.Len(t, offs.Topics[0].Partitions, 1)
	assert.Equal(t, int64(2), offs.Topics[0].Partitions[0].Offset)

	reader, err := c.FetchBatchReader(ctx, tp, 0, 2)
	require.NoError(t, err)
	defer reader.Close()

	rec, ok, err := reader.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("k1"), rec.Key)

	rec, ok, err = reader.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("k2"), rec.Key)

	_, ok, err = reader.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryClient_InjectRaceShiftsOffset(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	tp := TopicPartition{Topic: "_schemas", Partition: 0}

	predicted := int64(0)

	c.InjectRace(tp, Record{Key: []byte("racer"), Value: []byte("v")})

	res, err := c.ProduceRecordBatch(ctx, tp, []Record{{Key: []byte("mine"), Value: []byte("v")}})
	require.NoError(t, err)
	assert.NotEqual(t, predicted, res.BaseOffset, "a concurrent injection should move the base offset past the caller's prediction")
	assert.Equal(t, int64(1), res.BaseOffset)
}
