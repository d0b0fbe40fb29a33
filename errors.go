package feedcache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/feedcache/backend"
)

var (
	ErrInitialization    = errors.New("feedcache: initialization failed")
	ErrSchemaUnavailable = errors.New("feedcache: record schema unavailable")
	ErrStoreAccess       = errors.New("feedcache: store read failed")
	ErrStoreWrite        = errors.New("feedcache: store write failed")
	ErrInvalidFeed       = errors.New("feedcache: invalid feed")
	ErrClosed            = errors.New("feedcache: store closed")
)

// InitError is returned by New. It matches ErrSchemaUnavailable when the
// backend could not load its record schema, ErrInitialization otherwise.
type InitError struct {
	Location string
	Err      error
}

func (e *InitError) Schema() bool { return errors.Is(e.Err, backend.ErrSchemaUnavailable) }

func (e *InitError) Error() string {
	if e.Schema() {
		return fmt.Sprintf("feedcache: open %q: schema unavailable: %v", e.Location, e.Err)
	}
	return fmt.Sprintf("feedcache: open %q: %v", e.Location, e.Err)
}

func (e *InitError) Unwrap() []error {
	kind := ErrInitialization
	if e.Schema() {
		kind = ErrSchemaUnavailable
	}
	return []error{kind, e.Err}
}

// AccessError is delivered to a Retrieve completion when the backend read
// failed. The store is unchanged.
type AccessError struct {
	Stage string
	Err   error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("feedcache: retrieve failed at %s: %v", e.Stage, e.Err)
}

func (e *AccessError) Unwrap() []error { return []error{ErrStoreAccess, e.Err} }

// WriteError is delivered to Insert and DeleteCachedFeed completions. Staged
// changes were rolled back before it was reported; RollbackErr is set only if
// that rollback itself failed.
type WriteError struct {
	Op          string
	Stage       string
	Err         error
	RollbackErr error
}

func (e *WriteError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("feedcache: %s failed at %s: %v; rollback failed: %v",
			e.Op, e.Stage, e.Err, e.RollbackErr)
	}
	return fmt.Sprintf("feedcache: %s failed at %s: %v", e.Op, e.Stage, e.Err)
}

func (e *WriteError) Unwrap() []error {
	errs := make([]error, 0, 3)
	if e.Stage == stageValidate {
		errs = append(errs, ErrInvalidFeed)
	} else {
		errs = append(errs, ErrStoreWrite)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}
