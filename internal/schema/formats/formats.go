// Package formats indexes the per-schema-type format plugins
// (validate/serialize/deserialize/check-compatibility) by SchemaType,
// so the Store is the single place compatibility checking dispatches
// on schema type, rather than each caller building its own registry.
package formats

import (
	"github.com/nimbusdata/schema-registry/internal/schema/formats/avro"
	jsonformat "github.com/nimbusdata/schema-registry/internal/schema/formats/json"
	"github.com/nimbusdata/schema-registry/internal/schema/formats/protobuf"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
)

// Registry maps a SchemaType to its format plugin.
type Registry map[types.SchemaType]types.SchemaFormat

// New builds the standard registry of known format plugins.
func New() Registry {
	return Registry{
		types.JSON:     jsonformat.New(),
		types.Avro:     avro.New(),
		types.Protobuf: protobuf.New(),
	}
}

// For returns the format plugin for t, or nil if t is unknown.
func (r Registry) For(t types.SchemaType) types.SchemaFormat {
	return r[t]
}
