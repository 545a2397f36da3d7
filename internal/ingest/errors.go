package ingest

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid category or band setup. It fails a
// single-category call before any external request is made.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}

// ErrStopped is returned when a run is interrupted by Stop. Interrupted
// categories are re-queued, never left in progress.
var ErrStopped = errors.New("sync stopped")

// ErrAlreadyRunning is returned when a batch run is requested while one is
// still in flight.
var ErrAlreadyRunning = errors.New("sync already in progress")
