// Package testlog switches the process logger into the test profile and
// tags output with the running test's name.
package testlog

import (
	"testing"

	"github.com/danmuck/pebblectl/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	logger := logging.Component("test")
	logger.Debug().Str("test", t.Name()).Msg("starting")
}
