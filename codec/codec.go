// Package codec turns feed snapshots into bytes for durable backends and the
// read mirror. Codecs are stateless after construction and safe for concurrent use.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
