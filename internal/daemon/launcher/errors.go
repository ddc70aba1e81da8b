package launcher

import (
	"errors"
	"fmt"
)

// ErrNoSnapshotURL is returned when a download is requested without a URL
// and none is configured.
var ErrNoSnapshotURL = errors.New("no snapshot URL configured")

// ErrInvalidSnapshotURL is returned for URLs that are not http(s).
var ErrInvalidSnapshotURL = errors.New("invalid snapshot URL")

// Reasons a cache clear can fail.
const (
	ReasonBusy         = "busy"
	ReasonRemoveFailed = "remove-failed"
)

// CacheClearError reports why the blockchain store could not be deleted.
type CacheClearError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CacheClearError) Error() string {
	if e.Reason == ReasonBusy {
		return fmt.Sprintf("cannot clear %s: a snapshot is being installed into it", e.Path)
	}
	return fmt.Sprintf("cannot clear %s: %v", e.Path, e.Err)
}

func (e *CacheClearError) Unwrap() error {
	return e.Err
}
