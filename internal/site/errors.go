package site

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// StatusError reports a non-success HTTP status from the art site or the
// media host.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
}

// IsStatus reports whether err is a StatusError with one of the given codes.
func IsStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.Status == c {
			return true
		}
	}
	return false
}

// retryStatuses are upstream failures worth retrying: gateway errors, origin
// timeouts, and the 403s some CDN fronts return under load.
var retryStatuses = []int{502, 520, 522, 403, 524}

// IsRetryableStatus reports whether err is one of the transient HTTP
// statuses the media workers retry indefinitely.
func IsRetryableStatus(err error) bool {
	return IsStatus(err, retryStatuses...)
}

// IsConnError reports whether err looks like a connection-level failure
// (drop, reset, truncated payload) rather than a definitive response.
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

// DestinationGoneError means the platform reports the destination can no
// longer receive messages: the bot was blocked, the account deactivated, the
// channel made private, or the peer id is invalid.
type DestinationGoneError struct {
	Dest   int64
	Reason string
}

func (e *DestinationGoneError) Error() string {
	return fmt.Sprintf("destination %d gone: %s", e.Dest, e.Reason)
}

// FloodWaitError means the platform asked us to slow down for a number of
// seconds before retrying the same call.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("platform flood wait: %d seconds", e.Seconds)
}

// ErrFilePartMissing means the platform no longer recognises a previously
// uploaded media handle; the submission must be re-fetched and re-uploaded.
var ErrFilePartMissing = errors.New("platform: file part missing")
