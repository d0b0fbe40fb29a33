// Package feed holds the records persisted by feedcache: a single Snapshot
// (timestamp + ordered images) and the Images it owns.
package feed

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidImage is returned by Validate when an image cannot be persisted.
var ErrInvalidImage = errors.New("feed: invalid image")

// Image is one item of a cached feed. Description and Location are optional;
// nil means "absent", which is distinct from an empty string.
type Image struct {
	ID          uuid.UUID `json:"id" cbor:"1,keyasint" msgpack:"id"`
	Description *string   `json:"description,omitempty" cbor:"2,keyasint,omitempty" msgpack:"description,omitempty"`
	Location    *string   `json:"location,omitempty" cbor:"3,keyasint,omitempty" msgpack:"location,omitempty"`
	URL         string    `json:"url" cbor:"4,keyasint" msgpack:"url"`
}

// Snapshot is the single cached feed. Images keep insertion order; duplicates
// are allowed.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp" cbor:"1,keyasint" msgpack:"timestamp"`
	Images    []Image   `json:"images" cbor:"2,keyasint" msgpack:"images"`
}

// Validate reports whether the image carries a usable id and URL.
func (img Image) Validate() error {
	if img.ID == uuid.Nil {
		return fmt.Errorf("%w: nil id", ErrInvalidImage)
	}
	if img.URL == "" {
		return fmt.Errorf("%w: %s: empty url", ErrInvalidImage, img.ID)
	}
	if _, err := url.Parse(img.URL); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidImage, img.ID, err)
	}
	return nil
}

// Validate checks every image in order and returns the first failure.
func Validate(images []Image) error {
	for i := range images {
		if err := images[i].Validate(); err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
	}
	return nil
}

// Clone returns a deep copy so callers and stores never share optional fields
// or backing arrays.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Timestamp: s.Timestamp}
	if s.Images != nil {
		out.Images = make([]Image, len(s.Images))
		for i, img := range s.Images {
			out.Images[i] = img.Clone()
		}
	}
	return out
}

// Clone returns a copy with its own optional string storage.
func (img Image) Clone() Image {
	img.Description = cloneString(img.Description)
	img.Location = cloneString(img.Location)
	return img
}

// Equal reports whether two snapshots hold the same instant and the same
// images in the same order.
func (s Snapshot) Equal(o Snapshot) bool {
	if !s.Timestamp.Equal(o.Timestamp) || len(s.Images) != len(o.Images) {
		return false
	}
	for i := range s.Images {
		if !s.Images[i].Equal(o.Images[i]) {
			return false
		}
	}
	return true
}

// Equal compares all fields, treating optional fields by value.
func (img Image) Equal(o Image) bool {
	return img.ID == o.ID &&
		img.URL == o.URL &&
		equalString(img.Description, o.Description) &&
		equalString(img.Location, o.Location)
}

// String returns a pointer to s, for populating optional fields.
func String(s string) *string { return &s }

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
