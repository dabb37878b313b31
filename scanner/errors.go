package scanner

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/lidarlink/protocol/schema"
)

// ErrTimeSyncTimeout matches every *TimeSyncTimeoutError.
var ErrTimeSyncTimeout = errors.New("time synchronization timed out")

// TimeSyncTimeoutError is returned when the device did not report a
// synchronized clock within the timeout.
type TimeSyncTimeoutError struct {
	Addr   string
	Waited time.Duration
	// Last is the last state the device reported.
	Last schema.TimeSyncState
}

func (e *TimeSyncTimeoutError) Error() string {
	return fmt.Sprintf("%s: time synchronization not reached after %s, last state %s", e.Addr, e.Waited, e.Last)
}

func (e *TimeSyncTimeoutError) Is(target error) bool { return target == ErrTimeSyncTimeout }

// SyncError reports two devices whose clocks differ by more than allowed
// after a Sync.
type SyncError struct {
	Device, Reference string
	Diff, Max         time.Duration
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("device timestamps are not synced: %s differs from %s by %s (max %s)", e.Device, e.Reference, e.Diff, e.Max)
}

// UnexpectedResponseError is a reply of a different kind than the request
// asks for.
type UnexpectedResponseError struct {
	Request schema.RequestKind
	Want    schema.ResponseKind
	Got     schema.ResponseKind
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("request %d: got response %d, want %d", e.Request, e.Got, e.Want)
}
