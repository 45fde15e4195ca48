package applier

import (
	"testing"

	"github.com/nimbusdata/schema-registry/internal/schema/store"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_SchemaUpsertAndTombstone(t *testing.T) {
	s := store.New(types.Backward)
	a := New(s)

	key := &types.RecordKey{Type: types.KeySchema, Schema: &types.SchemaKey{Seq: 0, Node: "n1", Subject: "s1", Version: 1}}
	value := &types.RecordValue{Type: types.KeySchema, Schema: &types.SchemaValue{Subject: "s1", Version: 1, Type: types.Avro, ID: 1, Schema: "D1"}}

	require.NoError(t, a.Apply(0, key, value))

	versions, err := s.GetVersions("s1", false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)

	require.NoError(t, a.Apply(1, key, nil))
	_, err = s.GetVersions("s1", true)
	assert.Error(t, err)
}

func TestApply_ConfigSetAndClear(t *testing.T) {
	s := store.New(types.Backward)
	a := New(s)

	key := &types.RecordKey{Type: types.KeyConfig, Config: &types.ConfigKey{Seq: 0, Node: "n1", Subject: "s1"}}
	value := &types.RecordValue{Type: types.KeyConfig, Config: &types.ConfigValue{Compatibility: types.Full}}

	require.NoError(t, a.Apply(0, key, value))
	assert.Equal(t, types.Full, s.GetCompatibility("s1"))

	require.NoError(t, a.Apply(1, key, nil))
	assert.Equal(t, types.Backward, s.GetCompatibility("s1"), "tombstone reverts to global")
}

func TestApply_DeleteSubjectSetAndClear(t *testing.T) {
	s := store.New(types.Backward)
	a := New(s)

	key := &types.RecordKey{Type: types.KeyDeleteSubject, DeleteSubject: &types.DeleteSubjectKey{Seq: 0, Node: "n1", Subject: "s1"}}
	value := &types.RecordValue{Type: types.KeyDeleteSubject, DeleteSubject: &types.DeleteSubjectValue{Subject: "s1", Version: 2}}

	require.NoError(t, a.Apply(0, key, value))
	assert.True(t, s.IsSubjectDeleted("s1"))

	require.NoError(t, a.Apply(1, key, nil))
	assert.False(t, s.IsSubjectDeleted("s1"))
}

func TestApply_RecordsMarkerForEveryKey(t *testing.T) {
	s := store.New(types.Backward)
	a := New(s)

	key := &types.RecordKey{Type: types.KeySchema, Schema: &types.SchemaKey{Seq: 5, Node: "n1", Subject: "s1", Version: 1}}
	value := &types.RecordValue{Type: types.KeySchema, Schema: &types.SchemaValue{Subject: "s1", Version: 1, Type: types.Avro, ID: 1, Schema: "D1"}}
	require.NoError(t, a.Apply(5, key, value))

	markers, err := s.GetSubjectVersionWrittenAt("s1", 1)
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, int64(5), markers[0].Offset)
	assert.Equal(t, types.NodeID("n1"), markers[0].Node)
}
