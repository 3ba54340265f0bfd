package event

import (
	"fmt"
	"strings"
)

// SafetyMode decides what a pipeline does when a listener call fails.
type SafetyMode uint8

const (
	// SafetyPropagate aborts the pipeline; the failure reaches the fallback handler
	// at the dispatch boundary. It is the default.
	SafetyPropagate SafetyMode = iota
	// SafetyPrint logs the failure and continues with the next listener
	SafetyPrint
	// SafetyDelegate hands the failure to the current fallback handler and continues
	SafetyDelegate
	// SafetyIgnore drops the failure and continues
	SafetyIgnore
)

var safetyNames = map[SafetyMode]string{
	SafetyPropagate: "propagate",
	SafetyPrint:     "print",
	SafetyDelegate:  "delegate",
	SafetyIgnore:    "ignore",
}

func (m SafetyMode) String() string {
	if name, ok := safetyNames[m]; ok {
		return name
	}
	return fmt.Sprintf("safety(%d)", uint8(m))
}

// isolated reports whether each call gets its own failure boundary
func (m SafetyMode) isolated() bool {
	return m != SafetyPropagate
}

// ParseSafetyMode parses a configured mode name
func ParseSafetyMode(s string) (SafetyMode, error) {
	for mode, name := range safetyNames {
		if strings.EqualFold(s, name) {
			return mode, nil
		}
	}
	return SafetyPropagate, fmt.Errorf("unknown pipeline safety mode %q", s)
}

// SafetyDeclarer lets an event type declare its own safety mode.
// The method is called on a fresh zero value of the type, so the answer must
// not depend on field values.
type SafetyDeclarer interface {
	PipelineSafety() SafetyMode
}
