package normalize

import (
	stdmail "net/mail"
	"strings"
)

// Priority hints derived from mail headers, matching the ticket store's
// priority scale.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
)

// ParsePriority derives a priority hint from the raw header block. It
// inspects X-Priority, X-MSMail-Priority, Priority, and Importance in that
// order; the first recognizable value wins. Returns 0 when no hint is
// present.
func ParsePriority(rawHeader string) int {
	msg, err := stdmail.ReadMessage(strings.NewReader(ensureHeaderTerminator(rawHeader)))
	if err != nil {
		return 0
	}
	for _, name := range []string{"X-Priority", "X-Msmail-Priority", "Priority", "Importance"} {
		if p := mapPriorityValue(msg.Header.Get(name)); p != 0 {
			return p
		}
	}
	return 0
}

func mapPriorityValue(value string) int {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return 0
	}
	// Numeric X-Priority values arrive as "1 (Highest)" and similar.
	switch value[0] {
	case '1', '2':
		return PriorityHigh
	case '3':
		return PriorityNormal
	case '4', '5':
		return PriorityLow
	}
	switch {
	case strings.HasPrefix(value, "urgent"), strings.HasPrefix(value, "high"):
		return PriorityHigh
	case strings.HasPrefix(value, "normal"), strings.HasPrefix(value, "medium"):
		return PriorityNormal
	case strings.HasPrefix(value, "non-urgent"), strings.HasPrefix(value, "low"):
		return PriorityLow
	}
	return 0
}
