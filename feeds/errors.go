package feeds

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a batch is requested while another one is in flight
	ErrBusy = errors.New("a batch fetch is already in flight")

	// ErrSessionReset is returned when the session was replaced during a fetch
	ErrSessionReset = errors.New("pager session was reset during fetch")

	ErrInvalidBatchSize = errors.New("minimum batch size must be at least 1")

	ErrFollowingAccountRequired = errors.New("following filter requires an account")
)

// RemoteFetchError wraps a failure from the container source
type RemoteFetchError struct {
	Op  string
	Err error
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("remote fetch %s: %v", e.Op, e.Err)
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}

// MetadataParseError is returned when an item's json metadata is missing or malformed
type MetadataParseError struct {
	Err error
}

func (e *MetadataParseError) Error() string {
	if e.Err == nil {
		return "metadata parse: empty metadata"
	}
	return fmt.Sprintf("metadata parse: %v", e.Err)
}

func (e *MetadataParseError) Unwrap() error {
	return e.Err
}

// FollowingFetchError is logged when the following set could not be loaded
type FollowingFetchError struct {
	Account string
	Err     error
}

func (e *FollowingFetchError) Error() string {
	return fmt.Sprintf("fetch following for %s: %v", e.Account, e.Err)
}

func (e *FollowingFetchError) Unwrap() error {
	return e.Err
}
