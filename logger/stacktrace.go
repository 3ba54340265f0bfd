package logger

import (
	"fmt"
	"runtime"
	"strings"
)

var levelOrder = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
	"fatal": 4,
}

// CaptureStacktrace formats the current call stack, one "func\n\tfile:line" per frame.
// depth <= 0 means 32 frames.
func CaptureStacktrace(skip int, depth int) string {
	if depth <= 0 {
		depth = 32
	}

	pcs := make([]uintptr, depth)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	lines := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		lines = append(lines, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// shouldCaptureStacktrace reports whether level reaches the configured threshold
func shouldCaptureStacktrace(level string, config ManagerConfig) bool {
	if !config.EnableStacktrace {
		return false
	}
	return levelOrder[level] >= levelOrder[config.StacktraceLevel]
}
