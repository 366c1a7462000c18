package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns a new unique identifier for messages and turns.
func GenerateID() string {
	return uuid.NewString()
}

// ShortID returns a compact 8-character identifier used to group the log
// lines of one agent turn.
func ShortID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
