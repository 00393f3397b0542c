package services

import "errors"

// Run errors
var (
	ErrRunActive      = errors.New("run: another run is already in progress")
	ErrRunSpawnFailed = errors.New("run: failed to start the phase runner")
	ErrUnwindTimedOut = errors.New("unwind: teardown exceeded the time ceiling")
)
