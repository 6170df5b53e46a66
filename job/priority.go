package job

import (
	"fmt"
	"strings"

	"github.com/xraph/docbatch"
)

// Priority is the queue ordering tier of a job.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists the tiers from highest to lowest.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}

// Rank orders priorities: higher ranks are dequeued first. Unknown
// priorities rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Valid reports whether p is a known tier.
func (p Priority) Valid() bool { return p.Rank() >= 0 }

// ParsePriority converts a case-insensitive string into a Priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w %q", docbatch.ErrInvalidPriority, s)
	}
	return p, nil
}
