package types

// KeyType tags which of the three record kinds a key/value pair belongs
// to, so the Codec and Applier can dispatch without relying on Go's
// dynamic typing.
type KeyType string

const (
	KeySchema        KeyType = "schema"
	KeyConfig        KeyType = "config"
	KeyDeleteSubject KeyType = "delete_subject"
)

// NodeID identifies the writing process. It is stamped into every key
// this node produces, and recorded in every seq marker so permanent
// delete can reconstruct the exact key that was written.
type NodeID string

// SeqMarker is the (offset, node, key_type) tuple recorded in the Store
// for every persisted key, used to locate records for permanent
// deletion. Version is only meaningful when KeyType is KeySchema.
type SeqMarker struct {
	Offset  int64
	Node    NodeID
	KeyType KeyType
	Version int
}

// SchemaKey is the key of a schema_key record.
type SchemaKey struct {
	Seq     int64   `json:"seq"`
	Node    NodeID  `json:"node"`
	Subject string  `json:"subject"`
	Version int     `json:"version"`
}

// SchemaValue is the value of a schema_key record.
type SchemaValue struct {
	Subject string     `json:"subject"`
	Version int        `json:"version"`
	Type    SchemaType `json:"type"`
	ID      int        `json:"id"`
	Schema  string     `json:"schema"`
	Deleted bool       `json:"deleted"`
}

// ConfigKey is the key of a config_key record. Subject is empty for the
// global compatibility record.
type ConfigKey struct {
	Seq     int64  `json:"seq"`
	Node    NodeID `json:"node"`
	Subject string `json:"subject,omitempty"`
}

// ConfigValue is the value of a config_key record.
type ConfigValue struct {
	Compatibility CompatibilityLevel `json:"compatibilityLevel"`
}

// DeleteSubjectKey is the key of a delete_subject_key record.
type DeleteSubjectKey struct {
	Seq     int64  `json:"seq"`
	Node    NodeID `json:"node"`
	Subject string `json:"subject"`
}

// DeleteSubjectValue is the value of a delete_subject_key record.
type DeleteSubjectValue struct {
	Subject string `json:"subject"`
	Version int    `json:"version"`
}

// RecordKey is the self-describing envelope the Codec writes for every
// key. Exactly one of the pointer fields is populated, selected by Type.
type RecordKey struct {
	Type          KeyType           `json:"keyType"`
	Schema        *SchemaKey        `json:"schema,omitempty"`
	Config        *ConfigKey        `json:"config,omitempty"`
	DeleteSubject *DeleteSubjectKey `json:"deleteSubject,omitempty"`
}

// RecordValue is the self-describing envelope the Codec writes for every
// non-tombstone value. A tombstone is represented by an absent (nil)
// value entirely, not by this type, mirroring the internal topic's
// compaction semantics.
type RecordValue struct {
	Type          KeyType             `json:"keyType"`
	Schema        *SchemaValue        `json:"schema,omitempty"`
	Config        *ConfigValue        `json:"config,omitempty"`
	DeleteSubject *DeleteSubjectValue `json:"deleteSubject,omitempty"`
}

// Marker builds the SeqMarker that the Store should record for this key.
func (k *RecordKey) Marker(offset int64) SeqMarker {
	switch k.Type {
	case KeySchema:
		return SeqMarker{Offset: offset, Node: k.Schema.Node, KeyType: KeySchema, Version: k.Schema.Version}
	case KeyConfig:
		return SeqMarker{Offset: offset, Node: k.Config.Node, KeyType: KeyConfig}
	case KeyDeleteSubject:
		return SeqMarker{Offset: offset, Node: k.DeleteSubject.Node, KeyType: KeyDeleteSubject}
	default:
		return SeqMarker{Offset: offset}
	}
}

// Subject returns the subject this key pertains to, or "" for the
// global config key.
func (k *RecordKey) Subject() string {
	switch k.Type {
	case KeySchema:
		return k.Schema.Subject
	case KeyConfig:
		return k.Config.Subject
	case KeyDeleteSubject:
		return k.DeleteSubject.Subject
	default:
		return ""
	}
}
