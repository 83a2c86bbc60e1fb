package utils

import (
	"os"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/log"
)

var QuitChan = make(chan os.Signal, 1)

// Shutdown logs reason and exits immediately.
func Shutdown(logger log.Logger, reason string) {
	logger.Errorf("🚨 %s", reason)
	os.Exit(1)
}

// GracefulExit logs reason and asks the process to stop through the same
// path as SIGTERM, so in-flight requests can finish.
func GracefulExit(logger log.Logger, reason string) {
	logger.Errorf("🚨 %s", reason)
	QuitChan <- syscall.SIGTERM
}
