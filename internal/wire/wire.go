package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

const (
	Version byte = 1

	KindSnapshot byte = 1
	KindEmpty    byte = 2

	headerLen  = 4 + 1 + 1 + 8 + 4
	trailerLen = 4
)

var (
	ErrCorrupt = errors.New("feedcache: corrupt record")
	// ErrVersion is returned for a well-formed frame written by another format version.
	ErrVersion = errors.New("feedcache: unsupported record version")

	magic4 = [...]byte{'F', 'E', 'E', 'D'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Frame: magic(4) | ver(1) | kind(1) | gen(u64 be) | vlen(u32 be) | payload(vlen) | crc32(u32 be)
//
// The checksum covers everything before it. Empty frames carry no payload.
type Frame struct {
	Kind    byte
	Gen     uint64
	Payload []byte
}

func Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(f.Payload) + trailerLen)

	buf.Write(magic4[:])
	buf.WriteByte(Version)
	buf.WriteByte(f.Kind)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], f.Gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(f.Payload)))
	buf.Write(u4[:])
	buf.Write(f.Payload)

	binary.BigEndian.PutUint32(u4[:], crc32.ChecksumIEEE(buf.Bytes()))
	buf.Write(u4[:])
	return buf.Bytes()
}

// EncodeSnapshot frames an encoded snapshot payload.
func EncodeSnapshot(gen uint64, payload []byte) []byte {
	return Encode(Frame{Kind: KindSnapshot, Gen: gen, Payload: payload})
}

// EncodeEmpty frames the "no snapshot" state.
func EncodeEmpty(gen uint64) []byte {
	return Encode(Frame{Kind: KindEmpty, Gen: gen})
}

// Decode validates framing strictly: trailing bytes, unknown kinds and
// checksum mismatches are all corruption. The returned payload aliases b.
func Decode(b []byte) (Frame, error) {
	if len(b) < headerLen+trailerLen || !hasMagic(b) {
		return Frame{}, ErrCorrupt
	}
	if b[4] != Version {
		return Frame{}, ErrVersion
	}
	kind := b[5]
	if kind != KindSnapshot && kind != KindEmpty {
		return Frame{}, ErrCorrupt
	}

	off := 6
	gen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off-trailerLen { // exact length, no trailing bytes
		return Frame{}, ErrCorrupt
	}
	if kind == KindEmpty && vlen != 0 {
		return Frame{}, ErrCorrupt
	}

	end := off + vlen
	want := binary.BigEndian.Uint32(b[end : end+trailerLen])
	if crc32.ChecksumIEEE(b[:end]) != want {
		return Frame{}, ErrCorrupt
	}

	var payload []byte
	if vlen > 0 {
		payload = b[off:end]
	}
	return Frame{Kind: kind, Gen: gen, Payload: payload}, nil
}
