// Package codec encodes and decodes the schema registry's typed keys and
// values to and from internal-topic record bytes. The wire format is a
// self-describing tagged JSON envelope (see types.RecordKey/RecordValue);
// the Codec owns the exact bytes and is the only package that marshals or
// unmarshals them.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/nimbusdata/schema-registry/internal/schema/types"
)

// Record is a single key/value pair ready to hand to the Log Client. A
// nil Value is a tombstone.
type Record struct {
	Key   []byte
	Value []byte
}

// EncodeSchema builds the Record for a schema_key/schema_value pair. A
// nil value produces a tombstone.
func EncodeSchema(key *types.SchemaKey, value *types.SchemaValue) (Record, error) {
	return encode(types.RecordKey{Type: types.KeySchema, Schema: key}, wrapSchemaValue(value))
}

// EncodeConfig builds the Record for a config_key/config_value pair.
func EncodeConfig(key *types.ConfigKey, value *types.ConfigValue) (Record, error) {
	return encode(types.RecordKey{Type: types.KeyConfig, Config: key}, wrapConfigValue(value))
}

// EncodeDeleteSubject builds the Record for a delete_subject_key/value
// pair.
func EncodeDeleteSubject(key *types.DeleteSubjectKey, value *types.DeleteSubjectValue) (Record, error) {
	return encode(types.RecordKey{Type: types.KeyDeleteSubject, DeleteSubject: key}, wrapDeleteSubjectValue(value))
}

func wrapSchemaValue(v *types.SchemaValue) *types.RecordValue {
	if v == nil {
		return nil
	}
	return &types.RecordValue{Type: types.KeySchema, Schema: v}
}

func wrapConfigValue(v *types.ConfigValue) *types.RecordValue {
	if v == nil {
		return nil
	}
	return &types.RecordValue{Type: types.KeyConfig, Config: v}
}

func wrapDeleteSubjectValue(v *types.DeleteSubjectValue) *types.RecordValue {
	if v == nil {
		return nil
	}
	return &types.RecordValue{Type: types.KeyDeleteSubject, DeleteSubject: v}
}

func encode(key types.RecordKey, value *types.RecordValue) (Record, error) {
	keyBytes, err := json.Marshal(key)
	if err != nil {
		// Serialization failures are a programming error: the envelope
		// types are all JSON-marshalable by construction.
		return Record{}, fmt.Errorf("codec: encode key: %w", err)
	}

	if value == nil {
		return Record{Key: keyBytes, Value: nil}, nil
	}

	valueBytes, err := json.Marshal(value)
	if err != nil {
		return Record{}, fmt.Errorf("codec: encode value: %w", err)
	}

	return Record{Key: keyBytes, Value: valueBytes}, nil
}

// DecodeKey decodes a record key envelope.
func DecodeKey(raw []byte) (*types.RecordKey, error) {
	var key types.RecordKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("codec: decode key: %w", err)
	}
	return &key, nil
}

// DecodeValue decodes a record value envelope. A nil/empty raw slice
// decodes to a nil *RecordValue, representing a tombstone.
func DecodeValue(raw []byte) (*types.RecordValue, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var value types.RecordValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("codec: decode value: %w", err)
	}
	return &value, nil
}

// EncodeKeyOnly encodes a bare RecordKey, used when building a tombstone
// batch for permanent delete where only the key needs to be reproduced.
func EncodeKeyOnly(key types.RecordKey) ([]byte, error) {
	raw, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("codec: encode key: %w", err)
	}
	return raw, nil
}
