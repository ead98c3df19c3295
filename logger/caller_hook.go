package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callerHook rewrites entry.Caller to the first frame outside logrus and
// this package, so file:line points at the real call site rather than one
// of the wrapper methods.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	// Skip runtime.Callers, Fire itself and the logrus dispatch frames.
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !more {
			break
		}
		if loggingFrame(frame.Function) {
			continue
		}
		entry.Caller = &frame
		break
	}
	return nil
}

func loggingFrame(fn string) bool {
	return strings.Contains(fn, "sirupsen/logrus") || strings.Contains(fn, "optionflow/logger")
}
