package codec

import (
	"testing"

	"github.com/nimbusdata/schema-registry/internal/schema/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaRoundTrip(t *testing.T) {
	key := &types.SchemaKey{Seq: 42, Node: "node-1", Subject: "s1", Version: 1}
	value := &types.SchemaValue{Subject: "s1", Version: 1, Type: types.Avro, ID: 7, Schema: `{"type":"string"}`, Deleted: false}

	rec, err := EncodeSchema(key, value)
	require.NoError(t, err)

	decodedKey, err := DecodeKey(rec.Key)
	require.NoError(t, err)
	assert.Equal(t, types.KeySchema, decodedKey.Type)
	assert.Equal(t, key, decodedKey.Schema)

	decodedValue, err := DecodeValue(rec.Value)
	require.NoError(t, err)
	require.NotNil(t, decodedValue)
	assert.Equal(t, value, decodedValue.Schema)
}

func TestSchemaTombstoneRoundTrip(t *testing.T) {
	key := &types.SchemaKey{Seq: 1, Node: "node-1", Subject: "s1", Version: 1}

	rec, err := EncodeSchema(key, nil)
	require.NoError(t, err)
	assert.Nil(t, rec.Value)

	decodedValue, err := DecodeValue(rec.Value)
	require.NoError(t, err)
	assert.Nil(t, decodedValue)
}

func TestConfigRoundTrip(t *testing.T) {
	key := &types.ConfigKey{Seq: 3, Node: "node-2", Subject: "s1"}
	value := &types.ConfigValue{Compatibility: types.Full}

	rec, err := EncodeConfig(key, value)
	require.NoError(t, err)

	decodedKey, err := DecodeKey(rec.Key)
	require.NoError(t, err)
	assert.Equal(t, key, decodedKey.Config)

	decodedValue, err := DecodeValue(rec.Value)
	require.NoError(t, err)
	assert.Equal(t, value, decodedValue.Config)
}

func TestDeleteSubjectRoundTrip(t *testing.T) {
	key := &types.DeleteSubjectKey{Seq: 9, Node: "node-3", Subject: "s1"}
	value := &types.DeleteSubjectValue{Subject: "s1", Version: 3}

	rec, err := EncodeDeleteSubject(key, value)
	require.NoError(t, err)

	decodedKey, err := DecodeKey(rec.Key)
	require.NoError(t, err)
	assert.Equal(t, key, decodedKey.DeleteSubject)

	decodedValue, err := DecodeValue(rec.Value)
	require.NoError(t, err)
	assert.Equal(t, value, decodedValue.DeleteSubject)
}

func TestDecodeValueTombstoneIsNil(t *testing.T) {
	v, err := DecodeValue(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = DecodeValue([]byte{})
	require.NoError(t, err)
	assert.Nil(t, v)
}
