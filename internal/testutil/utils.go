package testutil

import (
	"log"
	"os"
	"testing"

	"github.com/benbjohnson/clock"
)

func TestLogger(t *testing.T) *log.Logger {
	return log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags)
}

// MockClock returns a stopped fake clock for deterministic timer tests.
func MockClock() *clock.Mock {
	return clock.NewMock()
}
