// Package codec is the optional transform applied to every opaque update
// or snapshot blob before it is persisted or handed to a transport, and
// reversed on the way back in. Per the engine's design notes it defaults
// to an identity pass-through: most transports already choose their own
// wire representation (the REST sync client, for instance, base64-encodes
// JSON payloads internally), so this hook stays out of the hot path unless
// a host actually needs to compress or encrypt blobs at rest.
package codec

// Codec transforms an opaque blob in both directions. Encode and Decode
// must be exact inverses.
type Codec interface {
	Encode(blob []byte) ([]byte, error)
	Decode(blob []byte) ([]byte, error)
}

// Identity is the default codec: a pass-through.
type Identity struct{}

func (Identity) Encode(blob []byte) ([]byte, error) { return blob, nil }
func (Identity) Decode(blob []byte) ([]byte, error) { return blob, nil }

var _ Codec = Identity{}
