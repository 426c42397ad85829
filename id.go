package agent

import (
	"time"

	"github.com/google/uuid"
)

// ID prefix constants for different entity types.
const (
	PrefixSession = "sess"
	PrefixRun     = "run"
)

// GenerateID produces a unique identifier with the given prefix and embedded timestamp.
// Format: {prefix}_{YYYYMMDDTHHmmss}_{uuid}
func GenerateID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return prefix + "_" + ts + "_" + uuid.NewString()
}
