// Package ids renders and validates the identifier shapes used across the
// tool: UUID session IDs and short counter-derived flow IDs.
package ids

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FlowPrefix distinguishes flow IDs from session UUIDs in command arguments.
const FlowPrefix = "f"

// Flow renders the n-th recorded flow as a short lowercase ID ("f1", "f2w9").
func Flow(n uint64) string {
	return FlowPrefix + strconv.FormatUint(n, 36)
}

// IsFlow reports whether s has the shape of a flow ID.
func IsFlow(s string) bool {
	rest, ok := strings.CutPrefix(s, FlowPrefix)
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.ParseUint(rest, 36, 64)
	return err == nil
}

// IsSession reports whether s is a session UUID.
func IsSession(s string) bool {
	return uuid.Validate(s) == nil
}
