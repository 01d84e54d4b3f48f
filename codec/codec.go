// Package codec defines the serialization contract for persisted context
// snapshots. The runner encodes a snapshot at every persistence checkpoint
// and decodes it on resume; the codec decides the byte format.
package codec

// Codec serializes snapshot values to and from bytes. Implementations must
// round-trip a map-of-primitives value losslessly.
type Codec interface {
	// Encode serializes v to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes data into v, which must be a pointer.
	Decode(data []byte, v any) error

	// Name returns the codec identifier (e.g., "json", "msgpack").
	Name() string
}

// Codec name constants.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. Defaults to JSON.
func Get(name string) Codec {
	switch name {
	case NameMsgpack:
		return &Msgpack{}
	case NameJSON, "":
		return &JSON{}
	default:
		return &JSON{}
	}
}
