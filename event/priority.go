package event

import (
	"fmt"
	"strings"
)

// Priority orders listeners inside a pipeline; higher runs first.
// The zero value is PriorityNormal.
type Priority int8

const (
	PriorityLowest Priority = iota - 2
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityHighest
)

func (p Priority) String() string {
	switch p {
	case PriorityLowest:
		return "lowest"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	default:
		return fmt.Sprintf("priority(%d)", int8(p))
	}
}

// ParsePriority parses "lowest".."highest"
func ParsePriority(s string) (Priority, error) {
	for p := PriorityLowest; p <= PriorityHighest; p++ {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}
