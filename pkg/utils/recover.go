package utils

import (
	"fmt"
	"runtime/debug"

	"github.com/livekit/protocol/logger"
)

// LogPanic logs a value obtained from recover along with the current stack.
func LogPanic(l logger.Logger, r any) {
	if l == nil {
		l = logger.GetLogger()
	}
	l.Errorw("recovered panic", fmt.Errorf("%v", r), "stack", string(debug.Stack()))
}
