package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/feedcache/feed"
)

func sampleSnapshot() feed.Snapshot {
	dup := feed.Image{ID: uuid.New(), URL: "https://a/dup.png"}
	return feed.Snapshot{
		Timestamp: time.Unix(1000, 123456789),
		Images: []feed.Image{
			{ID: uuid.New(), Description: feed.String("first"), Location: feed.String("Lisbon"), URL: "https://a/1.png"},
			{ID: uuid.New(), Location: feed.String(""), URL: "https://a/2.png"},
			dup,
			dup,
		},
	}
}

// Every snapshot codec must keep image order, duplicates, and the nil/"" distinction.
func TestSnapshotCodecsPreserveOrderAndPresence(t *testing.T) {
	codecs := map[string]Codec[feed.Snapshot]{
		"json":     JSON[feed.Snapshot]{},
		"cbor":     MustCBOR[feed.Snapshot](CBOROptions{}),
		"cbor-det": MustCBOR[feed.Snapshot](CBOROptions{Deterministic: true}),
		"msgpack":  Msgpack[feed.Snapshot]{},
		"proto":    Proto{},
	}
	want := sampleSnapshot()
	for name, c := range codecs {
		b, err := c.Encode(want)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		got, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: round trip mismatch\n got=%+v\nwant=%+v", name, got, want)
		}
		if got.Images[1].Description != nil {
			t.Fatalf("%s: absent description became %q", name, *got.Images[1].Description)
		}
	}
}

func TestCBORDeterministicIsStable(t *testing.T) {
	c := MustCBOR[feed.Snapshot](CBOROptions{Deterministic: true})
	s := sampleSnapshot()
	a, err := c.Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(s.Clone())
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("deterministic encoding differs for equal snapshots")
	}
}

func TestCBORMaxArrayElements(t *testing.T) {
	c := MustCBOR[feed.Snapshot](CBOROptions{MaxArrayElements: 16})
	s := feed.Snapshot{Timestamp: time.Unix(1, 0)}
	for i := 0; i < 17; i++ {
		s.Images = append(s.Images, feed.Image{ID: uuid.New(), URL: "https://a/x.png"})
	}
	b, err := c.Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decode(b); err == nil {
		t.Fatalf("expected decode to reject 17 images with limit 16")
	}
}

func TestLimitRejectsOversizedPayload(t *testing.T) {
	c := Limit[feed.Snapshot]{Inner: JSON[feed.Snapshot]{}, MaxDecode: 8}
	b, err := c.Encode(sampleSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decode(b); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	c.MaxDecode = 0
	if _, err := c.Decode(b); err != nil {
		t.Fatalf("limit disabled should decode: %v", err)
	}
}

func TestProtoSkipsUnknownFieldsAndRejectsGarbage(t *testing.T) {
	b, err := Proto{}.Encode(sampleSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future field")

	got, err := Proto{}.Decode(b)
	if err != nil {
		t.Fatalf("unknown field should be skipped: %v", err)
	}
	if len(got.Images) != 4 {
		t.Fatalf("expected 4 images, got %d", len(got.Images))
	}

	if _, err := (Proto{}).Decode([]byte{0x1a, 0x10, 0x01}); err == nil {
		t.Fatalf("expected error on truncated image")
	}
}

func TestProtoEmptySnapshot(t *testing.T) {
	b, err := Proto{}.Encode(feed.Snapshot{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Proto{}.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Timestamp.IsZero() || len(got.Images) != 0 {
		t.Fatalf("expected zero snapshot, got %+v", got)
	}
}

func TestMsgpackRejectsTrailingBytes(t *testing.T) {
	c := Msgpack[feed.Snapshot]{}
	b, err := c.Encode(sampleSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decode(append(b, 0x00)); !errors.Is(err, errMsgpackTrailing) {
		t.Fatalf("expected trailing-bytes error, got %v", err)
	}

	again, err := c.Encode(sampleSnapshot())
	if err != nil || len(again) != len(b) {
		t.Fatalf("encoding length should be stable: %d vs %d (err=%v)", len(again), len(b), err)
	}
}
