package codec

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

var errMsgpackTrailing = errors.New("codec: trailing bytes after msgpack value")

// Msgpack is a Codec that serializes values using vmihailenco/msgpack/v5.
// The zero value is ready to use.
//
// feed types carry `msgpack` tags; time.Time uses the msgpack timestamp extension.
// Output is compact and stable: small ints shrink, map keys are sorted.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode rejects input with bytes left over after one value.
func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	r := bytes.NewReader(b)
	if err := msgpack.NewDecoder(r).Decode(&v); err != nil {
		return v, err
	}
	if r.Len() != 0 {
		var zero V
		return zero, errMsgpackTrailing
	}
	return v, nil
}
