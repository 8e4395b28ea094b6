package logger

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const logrusPkg = "github.com/sirupsen/logrus."

// pkgPrefix is this package's import path plus ".", taken from a function
// symbol so it follows the module path.
var pkgPrefix = func() string {
	name := runtime.FuncForPC(reflect.ValueOf(callerPrettyfier).Pointer()).Name()
	return name[:strings.LastIndex(name, ".")+1]
}()

// callerHook points entry.Caller at the first frame outside logrus and the
// Log/Entry wrappers, so file:line names the component that logged.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	if frame, ok := callSite(3); ok {
		entry.Caller = &frame
	}
	return nil
}

// callSite walks the stack from skip and returns the first frame that is not
// inside logrus or a non-test file of this package.
func callSite(skip int) (runtime.Frame, bool) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !wrapperFrame(frame) {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func wrapperFrame(f runtime.Frame) bool {
	if strings.HasPrefix(f.Function, logrusPkg) {
		return true
	}
	return strings.HasPrefix(f.Function, pkgPrefix) && !strings.HasSuffix(f.File, "_test.go")
}
