package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/feedcache/feed"
)

// Proto encodes feed.Snapshot in protobuf wire format, equivalent to:
//
//	message Snapshot {
//	  int64 seconds = 1;
//	  int32 nanos   = 2;
//	  repeated Image images = 3;
//	}
//	message Image {
//	  bytes id = 1;
//	  optional string description = 2;
//	  optional string location    = 3;
//	  string url = 4;
//	}
//
// Optional fields are written whenever set, including empty strings, so nil and
// "" survive a round trip. Unknown fields are skipped on decode.
type Proto struct{}

var _ Codec[feed.Snapshot] = Proto{}

var errProto = errors.New("codec: malformed protobuf snapshot")

const (
	snapSeconds protowire.Number = 1
	snapNanos   protowire.Number = 2
	snapImages  protowire.Number = 3

	imgID          protowire.Number = 1
	imgDescription protowire.Number = 2
	imgLocation    protowire.Number = 3
	imgURL         protowire.Number = 4
)

func (Proto) Encode(s feed.Snapshot) ([]byte, error) {
	var b []byte
	if !s.Timestamp.IsZero() {
		b = protowire.AppendTag(b, snapSeconds, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Timestamp.Unix()))
		if ns := s.Timestamp.Nanosecond(); ns != 0 {
			b = protowire.AppendTag(b, snapNanos, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(ns))
		}
	}
	for i := range s.Images {
		b = protowire.AppendTag(b, snapImages, protowire.BytesType)
		b = protowire.AppendBytes(b, appendImage(nil, &s.Images[i]))
	}
	return b, nil
}

func appendImage(b []byte, img *feed.Image) []byte {
	b = protowire.AppendTag(b, imgID, protowire.BytesType)
	b = protowire.AppendBytes(b, img.ID[:])
	if img.Description != nil {
		b = protowire.AppendTag(b, imgDescription, protowire.BytesType)
		b = protowire.AppendString(b, *img.Description)
	}
	if img.Location != nil {
		b = protowire.AppendTag(b, imgLocation, protowire.BytesType)
		b = protowire.AppendString(b, *img.Location)
	}
	b = protowire.AppendTag(b, imgURL, protowire.BytesType)
	b = protowire.AppendString(b, img.URL)
	return b
}

func (Proto) Decode(b []byte) (feed.Snapshot, error) {
	var (
		s        feed.Snapshot
		seconds  int64
		nanos    int64
		hasClock bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return feed.Snapshot{}, fmt.Errorf("%w: %v", errProto, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == snapSeconds && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return feed.Snapshot{}, fmt.Errorf("%w: seconds: %v", errProto, protowire.ParseError(n))
			}
			seconds, hasClock = int64(v), true
			b = b[n:]
		case num == snapNanos && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return feed.Snapshot{}, fmt.Errorf("%w: nanos: %v", errProto, protowire.ParseError(n))
			}
			nanos, hasClock = int64(int32(v)), true
			b = b[n:]
		case num == snapImages && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return feed.Snapshot{}, fmt.Errorf("%w: image: %v", errProto, protowire.ParseError(n))
			}
			img, err := decodeImage(raw)
			if err != nil {
				return feed.Snapshot{}, fmt.Errorf("image %d: %w", len(s.Images), err)
			}
			s.Images = append(s.Images, img)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return feed.Snapshot{}, fmt.Errorf("%w: field %d: %v", errProto, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if hasClock {
		s.Timestamp = time.Unix(seconds, nanos).UTC()
	}
	return s, nil
}

func decodeImage(b []byte) (feed.Image, error) {
	var img feed.Image
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return feed.Image{}, fmt.Errorf("%w: %v", errProto, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType || num < imgID || num > imgURL {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return feed.Image{}, fmt.Errorf("%w: field %d: %v", errProto, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return feed.Image{}, fmt.Errorf("%w: field %d: %v", errProto, num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case imgID:
			id, err := uuid.FromBytes(v)
			if err != nil {
				return feed.Image{}, fmt.Errorf("%w: id: %v", errProto, err)
			}
			img.ID = id
		case imgDescription:
			img.Description = feed.String(string(v))
		case imgLocation:
			img.Location = feed.String(string(v))
		case imgURL:
			img.URL = string(v)
		}
	}
	return img, nil
}
